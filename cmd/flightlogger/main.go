package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"flightlog/internal/altitude"
	"flightlog/internal/catalog"
	"flightlog/internal/clocksync"
	"flightlog/internal/config"
	"flightlog/internal/i2c"
	"flightlog/internal/sensors/bmp390"
	"flightlog/internal/sensors/mpu6886"
	"flightlog/internal/session"
	"flightlog/internal/storage"
	"flightlog/internal/trigger"
	"flightlog/internal/web"
	"flightlog/internal/writer"
)

func main() {
	var configPath string
	var startNow bool
	flag.StringVar(&configPath, "config", "", "Path to YAML config (defaults apply when empty)")
	flag.BoolVar(&startNow, "start", false, "Start logging immediately instead of waiting for a toggle")
	flag.Parse()

	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatalf("config load failed: %v", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, startNow); err != nil {
		log.Fatalf("flightlogger: %v", err)
	}
}

func run(ctx context.Context, cfg config.Config, startNow bool) error {
	var logs *web.LogBuffer
	if cfg.Web.Listen != "" {
		logs = web.NewLogBuffer(cfg.Web.LogLines)
		log.SetOutput(io.MultiWriter(os.Stderr, logs))
	}
	log.Printf("flightlogger starting")

	baroBus, err := i2c.OpenNumber(cfg.Sensors.BaroBus)
	if err != nil {
		return fmt.Errorf("open baro bus %d: %w", cfg.Sensors.BaroBus, err)
	}
	defer baroBus.Close()

	addr, err := bmp390.Detect(baroBus, cfg.Sensors.BaroAddrs...)
	if err != nil {
		return fmt.Errorf("barometer not found: %w", err)
	}
	baro, err := bmp390.New(baroBus.Dev(addr), baroConfig(cfg.Sensors.Baro))
	if err != nil {
		return err
	}
	timing := baro.Timing()
	log.Printf("barometer at %s 0x%02X: period %dus (conversion %dus, odr %dus)",
		baroBus.Path(), addr, timing.SamplePeriodMicros(), timing.ConversionMicros(), timing.ODRPeriodMicros())

	imuBus := baroBus
	if cfg.Sensors.IMUBus != cfg.Sensors.BaroBus {
		imuBus, err = i2c.OpenNumber(cfg.Sensors.IMUBus)
		if err != nil {
			return fmt.Errorf("open imu bus %d: %w", cfg.Sensors.IMUBus, err)
		}
		defer imuBus.Close()
	}
	imu, err := mpu6886.New(imuBus.Dev(cfg.Sensors.IMUAddr))
	if err != nil {
		return err
	}
	log.Printf("imu at %s 0x%02X: +/-%dg +/-%ddps %dHz",
		imuBus.Path(), cfg.Sensors.IMUAddr, mpu6886.AccelFullScale, mpu6886.GyroFullScale, mpu6886.SampleRateHz)

	// Interface values stay nil when the catalog is off.
	var cat session.Catalog
	var lister web.SessionLister
	if cfg.Storage.Catalog != "" {
		c, err := catalog.Open(cfg.Storage.Catalog)
		if err != nil {
			// The catalog is an index; logging works without it.
			log.Printf("catalog disabled: %v", err)
		} else {
			defer c.Close()
			cat, lister = c, c
		}
	}

	open := func(id uuid.UUID, started time.Time) (session.Storage, error) {
		return storage.Create(filepath.Join(cfg.Storage.Dir, storage.FileName(cfg.Storage.Prefix, started, id)))
	}

	mgr, err := session.New(sessionConfig(cfg), session.Sensors{
		Motion:         imuSource{imu},
		MotionBurst:    mpu6886.FIFOPackets,
		MotionPeriodUS: 1_000_000 / mpu6886.SampleRateHz,
		Baro:           baroSource{baro},
		TickPeriod:     clocksync.TickPeriodFromHz(bmp390.SensorTimeHz),
		CounterBits:    bmp390.SensorTimeBits,
	}, open, cat)
	if err != nil {
		return err
	}
	mgr.Start(ctx)
	defer func() {
		if err := mgr.Close(); err != nil {
			log.Printf("session close: %v", err)
		}
	}()

	trig, err := trigger.Open(trigger.Config{
		GPIOChip: cfg.Trigger.GPIOChip,
		GPIOLine: cfg.Trigger.GPIOLine,
		Debounce: cfg.Trigger.Debounce,
		Signal:   cfg.Trigger.Signal,
	})
	if err != nil {
		return err
	}
	defer trig.Close()

	reset := make(chan os.Signal, 1)
	signal.Notify(reset, syscall.SIGHUP)
	defer signal.Stop(reset)

	if cfg.Web.Listen != "" {
		srv := web.NewServer(mgr, trig, lister, logs)
		go func() {
			if err := web.Serve(ctx, cfg.Web.Listen, srv.Handler()); err != nil {
				log.Printf("web: %v", err)
			}
		}()
		log.Printf("web: listening on %s", cfg.Web.Listen)
	}

	if startNow {
		trig.Fire()
	}
	log.Printf("ready: storage=%s, toggle to start logging", cfg.Storage.Dir)

	for {
		select {
		case <-ctx.Done():
			log.Printf("flightlogger stopping")
			return nil
		case <-reset:
			if err := mgr.Reset(); err != nil {
				log.Printf("reset: %v", err)
			}
		case <-trig.C():
			err := mgr.Toggle(ctx)
			switch {
			case errors.Is(err, session.ErrTerminal):
				log.Printf("toggle ignored: in error state (%s), send SIGHUP to reset", mgr.Snapshot().LastError)
			case err != nil:
				log.Printf("toggle: %v", err)
			}
			// Presses during calibration or shutdown are not queued.
			select {
			case <-trig.C():
			default:
			}
		}
	}
}

func sessionConfig(cfg config.Config) session.Config {
	return session.Config{
		MotionCapacity: cfg.Queues.MotionCapacity,
		BaroCapacity:   cfg.Queues.BaroCapacity,
		Writer: writer.Config{
			BufferSize:    cfg.Writer.BufferSize,
			FlushInterval: cfg.Writer.FlushInterval,
			FlushFill:     cfg.Writer.FlushFill,
		},
		Calibration: altitude.CalibrationConfig{
			WarmupSamples:    cfg.Calibration.WarmupSamples,
			WarmupDelay:      cfg.Calibration.WarmupDelay,
			ReferenceSamples: cfg.Calibration.ReferenceSamples,
			SampleDelay:      cfg.Calibration.SampleDelay,
		},
		Period:         cfg.Acquisition.Period,
		StatusInterval: cfg.Acquisition.StatusInterval,
	}
}
