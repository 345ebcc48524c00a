package safety

import (
	"fmt"

	"codeberg.org/mutker/bitaxectl/internal/device"
)

// Reason identifies which check terminated a candidate test
type Reason string

const (
	ReasonChipTemp         Reason = "chip_temp_exceeded"
	ReasonVRTemp           Reason = "vr_temp_exceeded"
	ReasonPower            Reason = "power_exceeded"
	ReasonInputVoltageLow  Reason = "input_voltage_below_min"
	ReasonInputVoltageHigh Reason = "input_voltage_above_max"
	ReasonSensorFault      Reason = "chip_temp_sensor_fault"
)

// IsDataFault reports whether the reason invalidates the collected data
// rather than indicating the candidate is unsafe. A chip temperature at or
// below the valid floor means a disconnected sensor, not a hot chip.
func (r Reason) IsDataFault() bool {
	return r == ReasonSensorFault
}

// Limits is the safety envelope a candidate test must stay inside
type Limits struct {
	MaxChipTempC      float64
	MaxVRTempC        float64
	MaxPowerW         float64
	MinInputVoltageMV float64
	MaxInputVoltageMV float64
	MinValidChipTempC float64
}

// Decision is the verdict for a single telemetry reading
type Decision struct {
	Abort  bool
	Reason Reason
	Detail string
}

var keepGoing = Decision{}

// Monitor evaluates telemetry readings against a fixed safety envelope.
// It is stateless: every reading is judged on its own.
type Monitor struct {
	limits Limits
}

func NewMonitor(limits Limits) *Monitor {
	return &Monitor{limits: limits}
}

func (m *Monitor) Limits() Limits {
	return m.limits
}

// Check inspects one reading and decides whether the test may continue
func (m *Monitor) Check(t *device.Telemetry) Decision {
	switch {
	case t.ChipTempC >= m.limits.MaxChipTempC:
		return abort(ReasonChipTemp, "chip temperature %.1f°C at or above limit %.1f°C",
			t.ChipTempC, m.limits.MaxChipTempC)
	case t.HasVRTemp() && t.VRTempC >= m.limits.MaxVRTempC:
		return abort(ReasonVRTemp, "voltage regulator temperature %.1f°C at or above limit %.1f°C",
			t.VRTempC, m.limits.MaxVRTempC)
	case t.PowerW >= m.limits.MaxPowerW:
		return abort(ReasonPower, "power draw %.1fW at or above limit %.1fW",
			t.PowerW, m.limits.MaxPowerW)
	case t.InputVoltageMV < m.limits.MinInputVoltageMV:
		return abort(ReasonInputVoltageLow, "input voltage %.0fmV below minimum %.0fmV",
			t.InputVoltageMV, m.limits.MinInputVoltageMV)
	case t.InputVoltageMV > m.limits.MaxInputVoltageMV:
		return abort(ReasonInputVoltageHigh, "input voltage %.0fmV above maximum %.0fmV",
			t.InputVoltageMV, m.limits.MaxInputVoltageMV)
	case t.ChipTempC <= m.limits.MinValidChipTempC:
		return abort(ReasonSensorFault, "chip temperature %.1f°C at or below %.1f°C, sensor reading not trustworthy",
			t.ChipTempC, m.limits.MinValidChipTempC)
	default:
		return keepGoing
	}
}

func abort(reason Reason, format string, args ...any) Decision {
	return Decision{
		Abort:  true,
		Reason: reason,
		Detail: fmt.Sprintf(format, args...),
	}
}
