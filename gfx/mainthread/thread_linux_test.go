package mainthread

import (
	"runtime"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCallsRunOnRunThread(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	runThread := syscall.Gettid()

	var (
		appThread   int
		callThreads []int
	)
	err := Run(func() error {
		appThread = syscall.Gettid()
		for i := 0; i < 4; i++ {
			if err := Call(func() { callThreads = append(callThreads, syscall.Gettid()) }); err != nil {
				return err
			}
		}
		return nil
	})

	require.NoError(t, err)
	require.NotEqual(t, runThread, appThread)
	require.Equal(t, []int{runThread, runThread, runThread, runThread}, callThreads)
}
