//go:build !linux || (!arm && !arm64)

package trigger

import (
	"fmt"
	"io"
)

func openButton(chipName, lineName string, fire func() bool) (io.Closer, error) {
	return nil, fmt.Errorf("gpio unsupported on this platform")
}

var openButtonFn = openButton
