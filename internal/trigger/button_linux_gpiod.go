//go:build linux && (arm || arm64)

package trigger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/warthog618/go-gpiocdev"
)

// openButton watches a pulled-up, active-low push button and calls fire on
// each press.
func openButton(chipName, lineName string, fire func() bool) (io.Closer, error) {
	if lineName == "" {
		return nil, fmt.Errorf("empty gpio line name")
	}

	var chipCandidates []string
	if chipName != "" {
		chipCandidates = append(chipCandidates, chipName)
	}
	// Pi 5 kernels may expose the header on another chip.
	entries, _ := os.ReadDir("/dev")
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "gpiochip") {
			chipCandidates = append(chipCandidates, filepath.Join("/dev", name))
		}
	}

	for _, chipPath := range chipCandidates {
		chip, err := gpiocdev.NewChip(chipPath)
		if err != nil {
			continue
		}
		offset, err := chip.FindLine(lineName)
		if err != nil {
			_ = chip.Close()
			continue
		}
		line, err := chip.RequestLine(offset,
			gpiocdev.AsInput,
			gpiocdev.WithPullUp,
			gpiocdev.WithFallingEdge,
			gpiocdev.WithEventHandler(func(gpiocdev.LineEvent) { fire() }),
			gpiocdev.WithConsumer("flightlog-trigger"),
		)
		if err != nil {
			_ = chip.Close()
			continue
		}
		return closerFunc(func() error {
			err := line.Close()
			_ = chip.Close()
			return err
		}), nil
	}

	return nil, fmt.Errorf("gpio line %q not found (or busy)", lineName)
}

var openButtonFn = openButton
