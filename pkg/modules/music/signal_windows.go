//go:build windows

package music

import "os"

type signal = os.Signal

// Windows has no job-control signals; pause and resume are unsupported.
var (
	pauseSignal  signal
	resumeSignal signal
)
