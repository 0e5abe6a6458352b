//go:build !windows

package music

import (
	"os"
	"syscall"
)

type signal = os.Signal

var (
	pauseSignal  signal = syscall.SIGSTOP
	resumeSignal signal = syscall.SIGCONT
)
