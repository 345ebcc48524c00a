package config

import (
	"os"
	"strings"

	"codeberg.org/mutker/bitaxectl/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel = "info"

	// Search seed and step sizes
	defaultVoltageIncrement   = 20  // mV
	defaultFrequencyIncrement = 25  // MHz
	defaultMinVoltage         = 1000
	defaultMaxVoltage         = 1400
	defaultMinFrequency       = 400
	defaultMaxFrequency       = 1200

	// Sampling window
	defaultBenchmarkTime  = 600 // seconds
	defaultSampleInterval = 15  // seconds
	defaultSettleTime     = 90  // seconds after a restart before sampling
	defaultRetryBudget    = 3   // consecutive failed reads before giving up

	// Safety envelope
	defaultMaxChipTemp      = 66.0   // °C
	defaultMaxVRTemp        = 86.0   // °C
	defaultMinValidChipTemp = 5.0    // °C, at or below means a faulty sensor
	defaultMaxPower         = 40.0   // W
	defaultMinInputVoltage  = 4800.0 // mV
	defaultMaxInputVoltage  = 5500.0 // mV

	// Aggregation
	defaultTolerance     = 0.06
	defaultMinSamples    = 7
	defaultTrimCount     = 3
	defaultWarmupSamples = 6
)

type Config struct {
	Host string `mapstructure:"-"`

	Voltage   int `mapstructure:"voltage"`   // seed core voltage in mV, 0 = read from device
	Frequency int `mapstructure:"frequency"` // seed frequency in MHz, 0 = read from device

	VoltageIncrement   int `mapstructure:"voltage_increment"`
	FrequencyIncrement int `mapstructure:"frequency_increment"`
	MinVoltage         int `mapstructure:"min_voltage"`
	MaxVoltage         int `mapstructure:"max_voltage"`
	MinFrequency       int `mapstructure:"min_frequency"`
	MaxFrequency       int `mapstructure:"max_frequency"`

	BenchmarkTime  int `mapstructure:"benchmark_time"`  // seconds per candidate
	SampleInterval int `mapstructure:"sample_interval"` // seconds between polls
	SettleTime     int `mapstructure:"settle_time"`     // seconds to wait after applying a candidate
	RetryBudget    int `mapstructure:"retry_budget"`

	MaxChipTemp      float64 `mapstructure:"max_chip_temp"`
	MaxVRTemp        float64 `mapstructure:"max_vr_temp"`
	MinValidChipTemp float64 `mapstructure:"min_valid_chip_temp"`
	MaxPower         float64 `mapstructure:"max_power"`
	MinInputVoltage  float64 `mapstructure:"min_input_voltage"`
	MaxInputVoltage  float64 `mapstructure:"max_input_voltage"`

	Tolerance     float64 `mapstructure:"tolerance"`
	MinSamples    int     `mapstructure:"min_samples"`
	TrimCount     int     `mapstructure:"trim_count"`
	WarmupSamples int     `mapstructure:"warmup_samples"`

	LogLevel    string `mapstructure:"log_level"`
	Telemetry   bool   `mapstructure:"telemetry"`
	TelemetryDB string `mapstructure:"telemetry_db"`
	ResultsDir  string `mapstructure:"results_dir"`
}

// Load reads configuration from flags, environment and an optional
// bitaxectl.toml, in that order of precedence. The device address is the
// single positional argument.
func Load() (*Config, error) {
	errFactory := errors.New()

	fs := pflag.NewFlagSet("bitaxectl", pflag.ContinueOnError)
	fs.Int("voltage", 0, "Initial core voltage in mV (default: read from device)")
	fs.Int("frequency", 0, "Initial frequency in MHz (default: read from device)")
	fs.Int("benchmark-time", defaultBenchmarkTime, "Benchmark duration per candidate in seconds")
	fs.Int("sample-interval", defaultSampleInterval, "Seconds between telemetry samples")
	fs.Int("settle-time", defaultSettleTime, "Seconds to wait after a restart before sampling")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.Bool("telemetry", false, "Record raw samples to a local database")
	fs.String("telemetry-db", "", "Path to the sample database")
	fs.String("results-dir", ".", "Directory for the benchmark results file")
	fs.String("config", "", "Path to config file")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v := viper.New()
	v.SetDefault("voltage", 0)
	v.SetDefault("frequency", 0)
	v.SetDefault("voltage_increment", defaultVoltageIncrement)
	v.SetDefault("frequency_increment", defaultFrequencyIncrement)
	v.SetDefault("min_voltage", defaultMinVoltage)
	v.SetDefault("max_voltage", defaultMaxVoltage)
	v.SetDefault("min_frequency", defaultMinFrequency)
	v.SetDefault("max_frequency", defaultMaxFrequency)
	v.SetDefault("benchmark_time", defaultBenchmarkTime)
	v.SetDefault("sample_interval", defaultSampleInterval)
	v.SetDefault("settle_time", defaultSettleTime)
	v.SetDefault("retry_budget", defaultRetryBudget)
	v.SetDefault("max_chip_temp", defaultMaxChipTemp)
	v.SetDefault("max_vr_temp", defaultMaxVRTemp)
	v.SetDefault("min_valid_chip_temp", defaultMinValidChipTemp)
	v.SetDefault("max_power", defaultMaxPower)
	v.SetDefault("min_input_voltage", defaultMinInputVoltage)
	v.SetDefault("max_input_voltage", defaultMaxInputVoltage)
	v.SetDefault("tolerance", defaultTolerance)
	v.SetDefault("min_samples", defaultMinSamples)
	v.SetDefault("trim_count", defaultTrimCount)
	v.SetDefault("warmup_samples", defaultWarmupSamples)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("telemetry", false)
	v.SetDefault("telemetry_db", "")
	v.SetDefault("results_dir", ".")

	v.SetEnvPrefix("BITAXECTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := readConfigFile(v, fs); err != nil {
		return nil, err
	}

	bindings := map[string]string{
		"voltage":         "voltage",
		"frequency":       "frequency",
		"benchmark_time":  "benchmark-time",
		"sample_interval": "sample-interval",
		"settle_time":     "settle-time",
		"log_level":       "log-level",
		"telemetry":       "telemetry",
		"telemetry_db":    "telemetry-db",
		"results_dir":     "results-dir",
	}
	for key, name := range bindings {
		flag := fs.Lookup(name)
		if !flag.Changed {
			continue
		}
		switch flag.Value.Type() {
		case "int":
			value, _ := fs.GetInt(name)
			v.Set(key, value)
		case "bool":
			value, _ := fs.GetBool(name)
			v.Set(key, value)
		default:
			v.Set(key, flag.Value.String())
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if args := fs.Args(); len(args) > 0 {
		config.Host = args[0]
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func readConfigFile(v *viper.Viper, fs *pflag.FlagSet) error {
	errFactory := errors.New()

	configPath, _ := fs.GetString("config")
	if configPath == "" {
		configPath = os.Getenv("BITAXECTL_CONFIG")
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
		return nil
	}

	v.SetConfigName("bitaxectl")
	v.SetConfigType("toml")
	v.AddConfigPath("/etc")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	return nil
}

// Validate checks the configuration for internal consistency
func (c *Config) Validate() error {
	errFactory := errors.New()

	if c.Host == "" {
		return errFactory.New(errors.ErrMissingDevice)
	}

	if _, err := parseLogLevel(c.LogLevel); err != nil {
		return err
	}

	if c.Voltage != 0 && (c.Voltage < c.MinVoltage || c.Voltage > c.MaxVoltage) {
		return errFactory.WithData(errors.ErrInvalidSeed, c.Voltage)
	}
	if c.Frequency != 0 && (c.Frequency < c.MinFrequency || c.Frequency > c.MaxFrequency) {
		return errFactory.WithData(errors.ErrInvalidSeed, c.Frequency)
	}

	if c.SampleInterval <= 0 || c.BenchmarkTime <= 0 {
		return errFactory.New(errors.ErrShortBenchmark)
	}
	if c.BenchmarkTime/c.SampleInterval < c.MinSamples {
		return errFactory.WithMessage(errors.ErrShortBenchmark,
			"benchmark_time / sample_interval must allow at least min_samples samples")
	}

	if c.VoltageIncrement <= 0 || c.FrequencyIncrement <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidLimits, "increments must be positive")
	}
	if c.MinVoltage >= c.MaxVoltage || c.MinFrequency >= c.MaxFrequency {
		return errFactory.WithMessage(errors.ErrInvalidLimits, "min bounds must be below max bounds")
	}
	if c.MinInputVoltage >= c.MaxInputVoltage {
		return errFactory.WithMessage(errors.ErrInvalidLimits, "min_input_voltage must be below max_input_voltage")
	}
	if c.Tolerance <= 0 || c.Tolerance >= 1 {
		return errFactory.WithData(errors.ErrInvalidLimits, c.Tolerance)
	}
	if c.Telemetry && c.TelemetryDB == "" {
		return errFactory.WithMessage(errors.ErrMissingConfig, "telemetry enabled but telemetry_db not set")
	}

	return nil
}

func parseLogLevel(level string) (string, error) {
	switch level {
	case "debug", "info", "warning", "warn", "error":
		return level, nil
	default:
		return "", errors.New().WithData(errors.ErrInvalidLogLevel, level)
	}
}
