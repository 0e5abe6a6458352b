package music

import (
	"errors"
	"os/exec"
	"time"
)

var errNotRunning = errors.New("player is not running")

// Process is one running playback.
type Process interface {
	Pause() error
	Resume() error
	Stop() error
	// Done is closed when the player exits.
	Done() <-chan struct{}
}

// Starter launches a player for a track.
type Starter func(argv []string) (Process, error)

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
}

// StartExec runs argv as a detached player process.
func StartExec(argv []string) (Process, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty player command")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(p.done)
	}()

	return p, nil
}

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) Pause() error  { return p.signal(pauseSignal) }
func (p *execProcess) Resume() error { return p.signal(resumeSignal) }

func (p *execProcess) Stop() error {
	select {
	case <-p.done:
		return nil
	default:
	}

	// A stopped process has to be continued before it can exit cleanly.
	_ = p.signal(resumeSignal)
	if err := p.cmd.Process.Kill(); err != nil {
		return err
	}

	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
	}
	return nil
}

func (p *execProcess) signal(sig signal) error {
	select {
	case <-p.done:
		return errNotRunning
	default:
	}
	if sig == nil {
		return errors.ErrUnsupported
	}

	return p.cmd.Process.Signal(sig)
}
