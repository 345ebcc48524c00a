package safety_test

import (
	"testing"

	"codeberg.org/mutker/bitaxectl/internal/device"
	"codeberg.org/mutker/bitaxectl/internal/safety"
	"github.com/stretchr/testify/assert"
)

func testLimits() safety.Limits {
	return safety.Limits{
		MaxChipTempC:      66,
		MaxVRTempC:        86,
		MaxPowerW:         40,
		MinInputVoltageMV: 4800,
		MaxInputVoltageMV: 5500,
		MinValidChipTempC: 5,
	}
}

func healthyReading() device.Telemetry {
	return device.Telemetry{
		HashrateGHs:    500,
		ChipTempC:      58,
		VRTempC:        72,
		PowerW:         15,
		InputVoltageMV: 5100,
	}
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*device.Telemetry)
		abort  bool
		reason safety.Reason
	}{
		{
			name:   "within envelope",
			mutate: func(*device.Telemetry) {},
		},
		{
			name:   "chip temperature at limit",
			mutate: func(r *device.Telemetry) { r.ChipTempC = 66 },
			abort:  true,
			reason: safety.ReasonChipTemp,
		},
		{
			name:   "chip temperature just below limit",
			mutate: func(r *device.Telemetry) { r.ChipTempC = 65.9 },
		},
		{
			name:   "vr temperature at limit",
			mutate: func(r *device.Telemetry) { r.VRTempC = 86 },
			abort:  true,
			reason: safety.ReasonVRTemp,
		},
		{
			name:   "missing vr sensor is not a breach",
			mutate: func(r *device.Telemetry) { r.VRTempC = 0 },
		},
		{
			name:   "power at limit",
			mutate: func(r *device.Telemetry) { r.PowerW = 40 },
			abort:  true,
			reason: safety.ReasonPower,
		},
		{
			name:   "input voltage below minimum",
			mutate: func(r *device.Telemetry) { r.InputVoltageMV = 4799 },
			abort:  true,
			reason: safety.ReasonInputVoltageLow,
		},
		{
			name:   "input voltage at minimum",
			mutate: func(r *device.Telemetry) { r.InputVoltageMV = 4800 },
		},
		{
			name:   "input voltage above maximum",
			mutate: func(r *device.Telemetry) { r.InputVoltageMV = 5501 },
			abort:  true,
			reason: safety.ReasonInputVoltageHigh,
		},
		{
			name:   "chip temperature sensor fault",
			mutate: func(r *device.Telemetry) { r.ChipTempC = 0 },
			abort:  true,
			reason: safety.ReasonSensorFault,
		},
	}

	monitor := safety.NewMonitor(testLimits())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reading := healthyReading()
			tt.mutate(&reading)

			decision := monitor.Check(&reading)

			assert.Equal(t, tt.abort, decision.Abort)
			assert.Equal(t, tt.reason, decision.Reason)
			if tt.abort {
				assert.NotEmpty(t, decision.Detail)
			}
		})
	}
}

func TestCheckOrderPrefersOverheatOverSensorFault(t *testing.T) {
	// An implausibly low reading alongside a real breach must still report
	// the breach of the limit that is checked first.
	monitor := safety.NewMonitor(testLimits())
	reading := healthyReading()
	reading.ChipTempC = 70
	reading.PowerW = 45

	decision := monitor.Check(&reading)

	assert.True(t, decision.Abort)
	assert.Equal(t, safety.ReasonChipTemp, decision.Reason)
}

func TestIsDataFault(t *testing.T) {
	assert.True(t, safety.ReasonSensorFault.IsDataFault())
	assert.False(t, safety.ReasonChipTemp.IsDataFault())
	assert.False(t, safety.ReasonPower.IsDataFault())
}
