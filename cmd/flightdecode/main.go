package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"flightlog/internal/export"
)

func main() {
	var outDir string
	var accelFS, gyroFS int
	var plots bool
	var catalogPath string
	flag.StringVar(&outDir, "out", "", "Write imu.csv and baro.csv (and plots) into this directory")
	flag.IntVar(&accelFS, "accel-fs", 16, "Accelerometer full scale in g")
	flag.IntVar(&gyroFS, "gyro-fs", 2000, "Gyroscope full scale in dps")
	flag.BoolVar(&plots, "plot", true, "With -out, also render altitude.png and accel.png")
	flag.StringVar(&catalogPath, "catalog", "", "List sessions from this catalog database and exit")
	flag.Parse()

	if catalogPath != "" {
		if err := printCatalog(context.Background(), os.Stdout, catalogPath); err != nil {
			log.Fatalf("catalog: %v", err)
		}
		return
	}

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <flight.bin>\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
		os.Exit(2)
	}

	sc, err := export.ScaleFor(accelFS, gyroFS)
	if err != nil {
		log.Fatalf("%v", err)
	}
	if err := decodeFile(flag.Arg(0), outDir, sc, plots); err != nil {
		log.Fatalf("decode failed: %v", err)
	}
}

func decodeFile(path, outDir string, sc export.Scale, plots bool) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("path is empty")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	flight, decodeErr := export.Decode(f, sc)
	printFlightSummary(os.Stdout, path, flight)
	if decodeErr != nil {
		// Keep whatever was decoded before the bad record.
		log.Printf("decode stopped at byte %d: %v", flight.Bytes, decodeErr)
	}
	if outDir != "" {
		if err := writeOutputs(outDir, flight, plots); err != nil {
			return err
		}
	}
	return decodeErr
}

func writeOutputs(dir string, flight *export.Flight, plots bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := writeCSV(filepath.Join(dir, "imu.csv"), func(f *os.File) error {
		return export.WriteIMUCSV(f, flight.IMU)
	}); err != nil {
		return err
	}
	if err := writeCSV(filepath.Join(dir, "baro.csv"), func(f *os.File) error {
		return export.WriteBaroCSV(f, flight.Baro)
	}); err != nil {
		return err
	}
	if !plots {
		return nil
	}
	if len(flight.Baro) > 0 {
		if err := export.PlotAltitude(filepath.Join(dir, "altitude.png"), flight.Baro); err != nil {
			return err
		}
	}
	if len(flight.IMU) > 0 {
		if err := export.PlotAcceleration(filepath.Join(dir, "accel.png"), flight.IMU); err != nil {
			return err
		}
	}
	return nil
}

func writeCSV(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}
