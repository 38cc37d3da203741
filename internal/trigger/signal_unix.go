//go:build unix

package trigger

import (
	"io"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

func notifySignal(fire func() bool) (io.Closer, error) {
	ch := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(ch, unix.SIGUSR1)
	go func() {
		for {
			select {
			case <-ch:
				fire()
			case <-done:
				return
			}
		}
	}()
	return closerFunc(func() error {
		signal.Stop(ch)
		close(done)
		return nil
	}), nil
}
