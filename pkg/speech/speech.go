// Package speech turns external recording, transcription and text-to-speech
// commands into an input source and an output sink.
package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"specter/pkg/agent"
	"specter/pkg/agent/types"
	"specter/pkg/channel/console"
	"specter/pkg/config"
)

// ErrNotConfigured is returned when a required voice command is missing.
var ErrNotConfigured = errors.New("voice command not configured")

// Runner executes argv and returns its standard output.
type Runner func(ctx context.Context, argv []string) ([]byte, error)

// ExecRunner runs argv as a child process.
func ExecRunner(ctx context.Context, argv []string) ([]byte, error) {
	if len(argv) == 0 {
		return nil, ErrNotConfigured
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", argv[0], err, msg)
		}
		return nil, fmt.Errorf("%s: %w", argv[0], err)
	}

	return out, nil
}

type options struct {
	run     Runner
	timeout time.Duration
	log     *slog.Logger
	notice  func(string)
}

type Option func(*options)

// WithRunner replaces process execution, mainly for tests.
func WithRunner(run Runner) Option {
	return func(o *options) { o.run = run }
}

func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithNotice receives short status lines such as "Listening...".
func WithNotice(fn func(string)) Option {
	return func(o *options) { o.notice = fn }
}

func buildOptions(cfg config.VoiceConfig, opts []Option) options {
	o := options{
		run:     ExecRunner,
		timeout: time.Duration(cfg.CommandTimeoutSec) * time.Second,
		log:     slog.Default(),
		notice:  func(string) {},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.timeout <= 0 {
		o.timeout = 30 * time.Second
	}
	return o
}

// Listener records one clip per utterance and transcribes it. The record
// command receives the clip path as its last argument; the transcribe
// command receives the same path and prints the transcript.
type Listener struct {
	record     []string
	transcribe []string
	dir        string
	opts       options
}

func NewListener(cfg config.VoiceConfig, opts ...Option) (*Listener, error) {
	if len(cfg.RecordCommand) == 0 || len(cfg.TranscribeCommand) == 0 {
		return nil, fmt.Errorf("%w: voice.record_command and voice.transcribe_command are required", ErrNotConfigured)
	}

	o := buildOptions(cfg, opts)
	o.log = o.log.With("component", "speech.listener")

	return &Listener{
		record:     cfg.RecordCommand,
		transcribe: cfg.TranscribeCommand,
		dir:        os.TempDir(),
		opts:       o,
	}, nil
}

// NextUtterance blocks until a non-empty transcript arrives. Saying an exit
// word ends the session.
func (l *Listener) NextUtterance(ctx context.Context) (types.Utterance, error) {
	for {
		if err := ctx.Err(); err != nil {
			return types.Utterance{}, err
		}

		text, err := l.listenOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return types.Utterance{}, ctx.Err()
			}
			return types.Utterance{}, err
		}
		if text == "" {
			l.opts.log.Debug("Empty transcript, listening again")
			continue
		}
		if console.IsExit(text) {
			return types.Utterance{}, agent.ErrSourceClosed
		}

		l.opts.notice("You said: " + text)
		return types.NewUtterance(text, types.SourceVoice), nil
	}
}

func (l *Listener) listenOnce(ctx context.Context) (string, error) {
	clip, err := os.CreateTemp(l.dir, "specter-*.wav")
	if err != nil {
		return "", fmt.Errorf("create clip file: %w", err)
	}
	path := clip.Name()
	_ = clip.Close()
	defer os.Remove(path)

	l.opts.notice("Listening...")
	if _, err := l.runStep(ctx, l.record, path); err != nil {
		return "", fmt.Errorf("record: %w", err)
	}

	out, err := l.runStep(ctx, l.transcribe, path)
	if err != nil {
		return "", fmt.Errorf("transcribe %s: %w", filepath.Base(path), err)
	}

	return strings.Join(strings.Fields(string(out)), " "), nil
}

func (l *Listener) runStep(ctx context.Context, command []string, arg string) ([]byte, error) {
	stepCtx, cancel := context.WithTimeout(ctx, l.opts.timeout)
	defer cancel()

	return l.opts.run(stepCtx, withArg(command, arg))
}

func (l *Listener) NotifyBusy(_ context.Context, _ types.Utterance) {
	l.opts.notice("Still working on your last request.")
}

// Speaker reads every reply aloud after handing it to the next sink.
type Speaker struct {
	command []string
	next    agent.OutputSink
	opts    options
}

// NewSpeaker wraps next; a nil next only speaks.
func NewSpeaker(cfg config.VoiceConfig, next agent.OutputSink, opts ...Option) (*Speaker, error) {
	if len(cfg.SpeakCommand) == 0 {
		return nil, fmt.Errorf("%w: voice.speak_command is required", ErrNotConfigured)
	}

	o := buildOptions(cfg, opts)
	o.log = o.log.With("component", "speech.speaker")

	return &Speaker{command: cfg.SpeakCommand, next: next, opts: o}, nil
}

// Deliver never fails because speech failed; the reply was already shown.
func (s *Speaker) Deliver(ctx context.Context, reply types.Reply) error {
	if s.next != nil {
		if err := s.next.Deliver(ctx, reply); err != nil {
			return err
		}
	}

	text := strings.TrimSpace(reply.Text)
	if text == "" {
		return nil
	}

	speakCtx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()
	if _, err := s.opts.run(speakCtx, withArg(s.command, text)); err != nil {
		s.opts.log.Warn("Speech output failed", "error", err)
	}

	return nil
}

func withArg(command []string, arg string) []string {
	argv := make([]string, 0, len(command)+1)
	argv = append(argv, command...)
	return append(argv, arg)
}

var (
	_ agent.InputSource = (*Listener)(nil)
	_ agent.OutputSink  = (*Speaker)(nil)
)
