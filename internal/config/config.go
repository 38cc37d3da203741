package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Storage     StorageConfig     `yaml:"storage"`
	Sensors     SensorsConfig     `yaml:"sensors"`
	Queues      QueuesConfig      `yaml:"queues"`
	Writer      WriterConfig      `yaml:"writer"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Acquisition AcquisitionConfig `yaml:"acquisition"`
	Trigger     TriggerConfig     `yaml:"trigger"`
	Web         WebConfig         `yaml:"web"`
}

type StorageConfig struct {
	Dir    string `yaml:"dir"`
	Prefix string `yaml:"prefix"`
	// Catalog is the SQLite session catalog path; empty disables it.
	Catalog string `yaml:"catalog"`
}

type SensorsConfig struct {
	IMUBus    int        `yaml:"imu_bus"`
	IMUAddr   uint16     `yaml:"imu_addr"`
	BaroBus   int        `yaml:"baro_bus"`
	BaroAddrs []uint16   `yaml:"baro_addrs"`
	Baro      BaroConfig `yaml:"baro"`
}

// BaroConfig holds BMP390 register codes.
type BaroConfig struct {
	ODR        *uint8 `yaml:"odr"`
	PressOSR   *uint8 `yaml:"press_osr"`
	TempOSR    *uint8 `yaml:"temp_osr"`
	IIR        *uint8 `yaml:"iir"`
	FIFOFrames int    `yaml:"fifo_frames"`
}

type QueuesConfig struct {
	MotionCapacity int `yaml:"motion_capacity"`
	BaroCapacity   int `yaml:"baro_capacity"`
}

type WriterConfig struct {
	BufferSize    int           `yaml:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	FlushFill     float64       `yaml:"flush_fill"`
}

type CalibrationConfig struct {
	WarmupSamples    int           `yaml:"warmup_samples"`
	WarmupDelay      time.Duration `yaml:"warmup_delay"`
	ReferenceSamples int           `yaml:"reference_samples"`
	SampleDelay      time.Duration `yaml:"sample_delay"`
}

type AcquisitionConfig struct {
	Period         time.Duration `yaml:"period"`
	StatusInterval time.Duration `yaml:"status_interval"`
}

type TriggerConfig struct {
	GPIOChip string        `yaml:"gpio_chip"`
	GPIOLine string        `yaml:"gpio_line"`
	Debounce time.Duration `yaml:"debounce"`
	Signal   bool          `yaml:"signal"`
}

// WebConfig controls the HTTP status API. An empty listen address disables it.
type WebConfig struct {
	Listen   string `yaml:"listen"`
	LogLines int    `yaml:"log_lines"`
}

func u8(v uint8) *uint8 { return &v }

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.applyDefaults(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var cfg Config
	// Defaults alone always validate.
	_ = cfg.applyDefaults()
	return cfg
}

func (cfg *Config) applyDefaults() error {
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = "/var/lib/flightlog"
	}
	if cfg.Storage.Prefix == "" {
		cfg.Storage.Prefix = "flight"
	}

	// Sensor wiring defaults: IMU on the internal bus, barometer on the
	// external bus, probed at both addresses.
	if cfg.Sensors.IMUAddr == 0 {
		cfg.Sensors.IMUAddr = 0x68
	}
	if cfg.Sensors.BaroBus == 0 && cfg.Sensors.IMUBus == 0 {
		cfg.Sensors.BaroBus = 1
		cfg.Sensors.IMUBus = 1
	}
	if len(cfg.Sensors.BaroAddrs) == 0 {
		cfg.Sensors.BaroAddrs = []uint16{0x76, 0x77}
	}
	for _, a := range cfg.Sensors.BaroAddrs {
		if a == 0 || a > 0x7F {
			return fmt.Errorf("sensors.baro_addrs entry 0x%X is not a 7-bit address", a)
		}
	}
	if cfg.Sensors.IMUAddr > 0x7F {
		return fmt.Errorf("sensors.imu_addr 0x%X is not a 7-bit address", cfg.Sensors.IMUAddr)
	}

	baro := &cfg.Sensors.Baro
	if baro.ODR == nil {
		baro.ODR = u8(1)
	}
	if baro.PressOSR == nil {
		baro.PressOSR = u8(1)
	}
	if baro.TempOSR == nil {
		baro.TempOSR = u8(0)
	}
	if baro.IIR == nil {
		baro.IIR = u8(3)
	}
	if baro.FIFOFrames <= 0 {
		baro.FIFOFrames = 50
	}
	if *baro.ODR > 17 {
		return fmt.Errorf("sensors.baro.odr must be 0..17")
	}
	if *baro.PressOSR > 5 || *baro.TempOSR > 5 {
		return fmt.Errorf("sensors.baro oversampling codes must be 0..5")
	}
	if *baro.IIR > 7 {
		return fmt.Errorf("sensors.baro.iir must be 0..7")
	}

	if cfg.Queues.MotionCapacity == 0 {
		cfg.Queues.MotionCapacity = 4000
	}
	if cfg.Queues.BaroCapacity == 0 {
		cfg.Queues.BaroCapacity = 4000
	}
	if cfg.Queues.MotionCapacity < 0 || cfg.Queues.BaroCapacity < 0 {
		return fmt.Errorf("queues capacities must be > 0")
	}

	if cfg.Writer.BufferSize == 0 {
		cfg.Writer.BufferSize = 8192
	}
	if cfg.Writer.BufferSize < 64 {
		return fmt.Errorf("writer.buffer_size must be >= 64")
	}
	if cfg.Writer.FlushInterval <= 0 {
		cfg.Writer.FlushInterval = 1 * time.Second
	}
	if cfg.Writer.FlushFill == 0 {
		cfg.Writer.FlushFill = 0.5
	}
	if cfg.Writer.FlushFill < 0 || cfg.Writer.FlushFill > 1 {
		return fmt.Errorf("writer.flush_fill must be in (0, 1]")
	}

	if cfg.Calibration.WarmupSamples == 0 {
		cfg.Calibration.WarmupSamples = 8
	}
	if cfg.Calibration.WarmupDelay <= 0 {
		cfg.Calibration.WarmupDelay = 100 * time.Millisecond
	}
	if cfg.Calibration.ReferenceSamples == 0 {
		cfg.Calibration.ReferenceSamples = 50
	}
	if cfg.Calibration.SampleDelay <= 0 {
		cfg.Calibration.SampleDelay = 10 * time.Millisecond
	}
	if cfg.Calibration.WarmupSamples < 0 {
		return fmt.Errorf("calibration.warmup_samples must be >= 0")
	}
	if cfg.Calibration.ReferenceSamples < 0 {
		return fmt.Errorf("calibration.reference_samples must be > 0")
	}

	if cfg.Acquisition.Period <= 0 {
		cfg.Acquisition.Period = 1 * time.Millisecond
	}
	if cfg.Acquisition.StatusInterval <= 0 {
		cfg.Acquisition.StatusInterval = 1 * time.Second
	}

	if cfg.Trigger.GPIOLine != "" && cfg.Trigger.GPIOChip == "" {
		cfg.Trigger.GPIOChip = "gpiochip0"
	}
	if cfg.Trigger.Debounce <= 0 {
		cfg.Trigger.Debounce = 200 * time.Millisecond
	}

	if cfg.Web.LogLines == 0 {
		cfg.Web.LogLines = 1000
	}
	if cfg.Web.LogLines < 0 {
		return fmt.Errorf("web.log_lines must be >= 0")
	}
	if cfg.Web.Listen != "" {
		if _, _, err := net.SplitHostPort(cfg.Web.Listen); err != nil {
			return fmt.Errorf("web.listen %q: %w", cfg.Web.Listen, err)
		}
	}
	return nil
}
