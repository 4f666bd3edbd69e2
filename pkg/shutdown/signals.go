package shutdown

import (
	"os"
	"os/signal"
	"sync"

	"github.com/marmos91/microtower/internal/logger"
)

// HandleSignals cancels c when the process receives one of the termination
// signals (interrupt, terminate, quit). The returned stop function detaches
// the handler; it is safe to call more than once.
func HandleSignals(c *Controller) (stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, terminationSignals...)

	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("Shutdown signal received, initiating graceful shutdown", "signal", sig.String())
			c.Cancel()
		case <-c.Wait():
		case <-done:
		}
		signal.Stop(sigCh)
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}
