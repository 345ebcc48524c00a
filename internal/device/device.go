package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"codeberg.org/mutker/bitaxectl/internal/errors"
	"codeberg.org/mutker/bitaxectl/internal/logger"
)

const requestTimeout = 10 * time.Second

// Client is the access port to a single Bitaxe device
type Client interface {
	// Info returns the device's current settings and ASIC configuration
	Info(ctx context.Context) (*SystemInfo, error)

	// ApplySettings sets a new core voltage and frequency pair
	ApplySettings(ctx context.Context, voltageMV, frequencyMHz int) error

	// Restart reboots the device so new settings take effect
	Restart(ctx context.Context) error

	// ReadTelemetry returns one telemetry reading
	ReadTelemetry(ctx context.Context) (*Telemetry, error)
}

// SystemInfo describes the device's current configuration
type SystemInfo struct {
	Hostname       string
	CoreVoltageMV  int
	FrequencyMHz   int
	SmallCoreCount int
	ASICCount      int
}

// Telemetry is one reading of the device's live state.
// VRTempC is zero when the board has no voltage regulator sensor.
type Telemetry struct {
	Timestamp      time.Time
	HashrateGHs    float64
	ChipTempC      float64
	VRTempC        float64
	PowerW         float64
	InputVoltageMV float64
	CoreVoltageMV  int
	FrequencyMHz   int
}

// HasVRTemp reports whether the reading includes a voltage regulator temperature
func (t *Telemetry) HasVRTemp() bool {
	return t.VRTempC > 0
}

type httpClient struct {
	baseURL string
	client  *http.Client
}

// New returns a Client for the AxeOS HTTP API at the given host address
func New(host string) Client {
	baseURL := host
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}

	return &httpClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: requestTimeout},
	}
}

// systemInfoResponse mirrors the AxeOS /api/system/info payload. Optional
// fields are pointers so a missing reading can be told apart from zero.
type systemInfoResponse struct {
	Hostname       string   `json:"hostname"`
	CoreVoltage    int      `json:"coreVoltage"`
	Frequency      int      `json:"frequency"`
	SmallCoreCount int      `json:"smallCoreCount"`
	ASICCount      int      `json:"asicCount"`
	HashRate       *float64 `json:"hashRate"`
	Temp           *float64 `json:"temp"`
	VRTemp         *float64 `json:"vrTemp"`
	Power          *float64 `json:"power"`
	Voltage        *float64 `json:"voltage"`
}

func (c *httpClient) Info(ctx context.Context) (*SystemInfo, error) {
	resp, err := c.fetchSystemInfo(ctx)
	if err != nil {
		return nil, err
	}

	return &SystemInfo{
		Hostname:       resp.Hostname,
		CoreVoltageMV:  resp.CoreVoltage,
		FrequencyMHz:   resp.Frequency,
		SmallCoreCount: resp.SmallCoreCount,
		ASICCount:      resp.ASICCount,
	}, nil
}

func (c *httpClient) ReadTelemetry(ctx context.Context) (*Telemetry, error) {
	resp, err := c.fetchSystemInfo(ctx)
	if err != nil {
		return nil, err
	}

	if resp.Temp == nil || resp.HashRate == nil || resp.Power == nil || resp.Voltage == nil {
		return nil, errors.New().New(ErrIncompleteTelemetry)
	}

	reading := &Telemetry{
		Timestamp:      time.Now(),
		HashrateGHs:    *resp.HashRate,
		ChipTempC:      *resp.Temp,
		PowerW:         *resp.Power,
		InputVoltageMV: *resp.Voltage,
		CoreVoltageMV:  resp.CoreVoltage,
		FrequencyMHz:   resp.Frequency,
	}
	if resp.VRTemp != nil {
		reading.VRTempC = *resp.VRTemp
	}

	return reading, nil
}

func (c *httpClient) ApplySettings(ctx context.Context, voltageMV, frequencyMHz int) error {
	errFactory := errors.New()

	body, err := json.Marshal(map[string]int{
		"coreVoltage": voltageMV,
		"frequency":   frequencyMHz,
	})
	if err != nil {
		return errFactory.Wrap(ErrApplySettings, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.baseURL+"/api/system", bytes.NewReader(body))
	if err != nil {
		return errFactory.Wrap(ErrApplySettings, err)
	}
	req.Header.Set("Content-Type", "application/json")

	if err := c.do(req); err != nil {
		return errFactory.Wrap(ErrApplySettings, err)
	}

	logger.Info().
		Int("voltage_mv", voltageMV).
		Int("frequency_mhz", frequencyMHz).
		Msg("Applied settings")

	return nil
}

func (c *httpClient) Restart(ctx context.Context) error {
	errFactory := errors.New()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/system/restart", http.NoBody)
	if err != nil {
		return errFactory.Wrap(ErrRestart, err)
	}

	if err := c.do(req); err != nil {
		return errFactory.Wrap(ErrRestart, err)
	}

	logger.Debug().Msg("Device restart requested")

	return nil
}

func (c *httpClient) fetchSystemInfo(ctx context.Context) (*systemInfoResponse, error) {
	errFactory := errors.New()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/system/info", http.NoBody)
	if err != nil {
		return nil, errFactory.Wrap(ErrReadTelemetry, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errFactory.Wrap(ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errFactory.WithData(ErrBadStatus, resp.StatusCode)
	}

	var info systemInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, errFactory.Wrap(ErrBadResponse, err)
	}

	return &info, nil
}

func (c *httpClient) do(req *http.Request) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return nil
}
