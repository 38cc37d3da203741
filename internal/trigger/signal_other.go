//go:build !unix

package trigger

import (
	"fmt"
	"io"
)

func notifySignal(fire func() bool) (io.Closer, error) {
	return nil, fmt.Errorf("SIGUSR1 unsupported on this platform")
}
