//go:build !windows

package shutdown

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHandleSignals_CancelsOnSignal(t *testing.T) {
	root := NewRoot()
	stop := HandleSignals(root)
	defer stop()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGQUIT))

	select {
	case <-root.Wait():
	case <-time.After(2 * time.Second):
		t.Fatal("signal did not cancel controller")
	}
}
