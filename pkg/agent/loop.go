package agent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"specter/pkg/agent/types"
	"specter/pkg/bus"
)

const (
	replyFailure   = "Sorry, I couldn't finish that request."
	replyTimeout   = "Sorry, that took too long. Please try again."
	replyCancelled = "Okay, I stopped that request."
	replyEmpty     = "Done."
)

// Run reads utterances from src and delivers replies to sink until the
// source reports end of input or ctx is done. Utterances already queued when
// input ends are still answered. Run returns nil on either kind of shutdown
// and a wrapped error when the source fails.
func (o *Orchestrator) Run(ctx context.Context, src InputSource, sink OutputSink) error {
	if src == nil || sink == nil {
		return errors.New("input source and output sink are required")
	}
	if !o.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer o.running.Store(false)

	o.setState(StateIdle)
	queue := make(chan types.Utterance, o.settings.QueueDepth)
	readErr := make(chan error, 1)

	readCtx, stopReader := context.WithCancel(ctx)
	defer stopReader()
	go o.read(readCtx, src, queue, readErr)

	o.log.Info("Session started", "queue_depth", o.settings.QueueDepth, "window", o.memory.Cap())
	for {
		select {
		case req := <-o.control:
			req.done <- req.fn(o.registry)
		case utt, ok := <-queue:
			if !ok {
				err := <-readErr
				o.log.Info("Session ended", "turns", o.turnSeq)
				return err
			}
			o.handle(ctx, utt, sink)
		case <-ctx.Done():
			o.drainCancelled(ctx, queue, sink)
			o.log.Info("Session stopped", "turns", o.turnSeq)
			return nil
		}
	}
}

// read owns the queue: it is the only sender and closes it on exit.
func (o *Orchestrator) read(ctx context.Context, src InputSource, queue chan<- types.Utterance, readErr chan<- error) {
	defer close(queue)

	for {
		utt, err := src.NextUtterance(ctx)
		if err != nil {
			switch {
			case isEndOfInput(err), ctx.Err() != nil:
				readErr <- nil
			default:
				o.log.Error("Input source failed", "error", err)
				readErr <- fmt.Errorf("read utterance: %w", err)
			}
			return
		}
		if utt.Text == "" {
			continue
		}
		if utt.ID == "" {
			utt = types.NewUtterance(utt.Text, utt.Source)
		}

		if o.offer(ctx, queue, utt) {
			continue
		}
		if ctx.Err() != nil {
			readErr <- nil
			return
		}

		o.log.Warn("Utterance rejected", "request_id", utt.ID, "state", o.State().String())
		o.publish(ctx, bus.EventInputRejected, utt, map[string]string{"state": o.State().String()}, ErrBusy)
		src.NotifyBusy(ctx, utt)
	}
}

// offer enqueues without blocking. With a zero-depth queue the utterance is
// accepted only when no dispatch is in flight: the main loop is idle or
// delivering the previous reply, and will receive next.
func (o *Orchestrator) offer(ctx context.Context, queue chan<- types.Utterance, utt types.Utterance) bool {
	select {
	case queue <- utt:
		return true
	default:
	}

	if cap(queue) > 0 {
		return false
	}
	if state := o.State(); state != StateIdle && state != StateResponding {
		return false
	}

	select {
	case queue <- utt:
		return true
	case <-ctx.Done():
		return false
	}
}

// handle runs one full turn. It is called only from the main loop, which
// makes it the single writer of memory.
func (o *Orchestrator) handle(ctx context.Context, utt types.Utterance, sink OutputSink) {
	o.turnSeq++
	utt.TurnID = o.turnSeq
	started := time.Now().UTC()

	o.setState(StateListening)
	o.publish(ctx, bus.EventUtteranceAccepted, utt, map[string]string{
		"turn_id": strconv.FormatUint(utt.TurnID, 10),
		"source":  string(utt.Source),
	}, nil)

	snap := o.memory.Snapshot()

	var (
		result   types.Result
		moduleID string
		record   = true
	)
	if cmd, ok := lookupCommand(utt); ok {
		result, moduleID, record = cmd.run(o, ctx, utt, snap), SessionModuleID, cmd.record
	} else {
		o.setState(StateRouting)
		decision := o.router.Route(utt, snap)
		moduleID = decision.ModuleID()
		o.publish(ctx, bus.EventRouted, utt, routedPayload(decision), nil)

		o.setState(StateDispatching)
		dispatchStarted := time.Now()
		result = o.dispatch(ctx, decision, utt, snap)
		o.publishResult(ctx, utt, moduleID, result, time.Since(dispatchStarted))
	}

	response := responseText(result)
	if record {
		turn := types.Turn{
			ID:        utt.TurnID,
			Utterance: utt,
			Response:  response,
			ModuleID:  moduleID,
			Status:    result.Status,
			StartedAt: started,
			EndedAt:   time.Now().UTC(),
		}
		if result.Err != nil {
			turn.Error = result.Err.Error()
		}
		o.memory.Append(turn)
	}

	o.setState(StateResponding)
	o.deliver(ctx, sink, utt, types.Reply{
		TurnID:      utt.TurnID,
		UtteranceID: utt.ID,
		Text:        response,
		ModuleID:    moduleID,
		Status:      result.Status,
		Data:        result.Data,
	})
	o.setState(StateIdle)
}

// dispatch runs the routed executor under its timeout. Results from an
// executor that outlives its context are discarded.
func (o *Orchestrator) dispatch(ctx context.Context, decision Decision, utt types.Utterance, snap types.Snapshot) types.Result {
	moduleID := decision.ModuleID()
	timeout := o.settings.timeoutFor(moduleID)

	callCtx, cancelTimeout := context.WithTimeout(ctx, timeout)
	defer cancelTimeout()
	callCtx, cancel := context.WithCancelCause(callCtx)
	defer cancel(nil)

	o.setCurrentCancel(cancel)
	defer o.setCurrentCancel(nil)

	log := o.log.With("request_id", utt.ID, "turn_id", utt.TurnID, "module_id", moduleID)
	log.Debug("Dispatch started", "target", decision.Target, "timeout_ms", timeout.Milliseconds())

	started := time.Now()
	done := make(chan types.Result, 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				done <- types.Failed(fmt.Errorf("%w: %v", ErrExecutorPanic, recovered), "")
			}
		}()

		if decision.Target == TargetModule {
			done <- decision.Module.Execute(callCtx, decision.Match, snap)
			return
		}
		done <- o.fallback.Complete(callCtx, snap, utt)
	}()

	select {
	case result := <-done:
		result = normalizeResult(result)
		log.Debug("Dispatch completed", "status", result.Status, "duration_ms", time.Since(started).Milliseconds())
		return result
	case <-callCtx.Done():
	}

	o.setState(StateCancelling)
	cause := context.Cause(callCtx)

	var result types.Result
	if errors.Is(cause, context.DeadlineExceeded) {
		result = types.Result{Status: types.StatusTimeout, Err: fmt.Errorf("dispatch exceeded %s: %w", timeout, context.DeadlineExceeded)}
	} else {
		result = types.Result{Status: types.StatusCancelled, Err: cause}
	}
	log.Warn("Dispatch abandoned", "status", result.Status, "duration_ms", time.Since(started).Milliseconds())

	go o.watchLeak(ctx, utt, moduleID, done)
	return result
}

// watchLeak waits for an abandoned executor. One that is still running after
// the grace period is counted as a fault.
func (o *Orchestrator) watchLeak(ctx context.Context, utt types.Utterance, moduleID string, done <-chan types.Result) {
	timer := time.NewTimer(o.settings.LeakGrace)
	defer timer.Stop()

	select {
	case <-done:
		return
	case <-timer.C:
	}

	o.faults.Add(1)
	o.log.Error("Dispatch ignored cancellation", "request_id", utt.ID, "module_id", moduleID, "grace_ms", o.settings.LeakGrace.Milliseconds())
	o.publish(ctx, bus.EventDispatchLeaked, utt, map[string]string{"module_id": moduleID}, errors.New("executor ignored cancellation"))
}

func (o *Orchestrator) deliver(ctx context.Context, sink OutputSink, utt types.Utterance, reply types.Reply) {
	deliverCtx := ctx
	if ctx.Err() != nil {
		deliverCtx = context.WithoutCancel(ctx)
	}
	deliverCtx, cancel := context.WithTimeout(deliverCtx, o.settings.DeliveryTimeout)
	defer cancel()

	if err := sink.Deliver(deliverCtx, reply); err != nil {
		o.log.Warn("Reply delivery failed", "request_id", utt.ID, "turn_id", utt.TurnID, "error", err)
		o.publish(ctx, bus.EventDeliveryFailed, utt, nil, err)
	}
}

// drainCancelled answers utterances still queued at shutdown.
func (o *Orchestrator) drainCancelled(ctx context.Context, queue <-chan types.Utterance, sink OutputSink) {
	for {
		select {
		case utt, ok := <-queue:
			if !ok {
				return
			}
			o.handle(ctx, utt, sink)
		default:
			return
		}
	}
}

func (o *Orchestrator) publishResult(ctx context.Context, utt types.Utterance, moduleID string, result types.Result, took time.Duration) {
	payload := map[string]string{
		"module_id":   moduleID,
		"status":      string(result.Status),
		"duration_ms": strconv.FormatInt(took.Milliseconds(), 10),
	}

	var eventType bus.EventType
	switch result.Status {
	case types.StatusSuccess:
		eventType = bus.EventDispatchCompleted
	case types.StatusTimeout:
		eventType = bus.EventDispatchTimedOut
	case types.StatusCancelled:
		eventType = bus.EventDispatchCancelled
	default:
		eventType = bus.EventDispatchFailed
	}

	o.publish(ctx, eventType, utt, payload, result.Err)
}

func routedPayload(decision Decision) map[string]string {
	payload := map[string]string{
		"target":     string(decision.Target),
		"module_id":  decision.ModuleID(),
		"candidates": strconv.Itoa(len(decision.Candidates)),
	}
	if decision.Target == TargetModule {
		payload["confidence"] = strconv.FormatFloat(decision.Match.Confidence, 'f', 2, 64)
	}
	if decision.Tied {
		payload["tied"] = "true"
	}

	return payload
}

func normalizeResult(result types.Result) types.Result {
	if result.Status != "" {
		return result
	}
	if result.Err != nil {
		result.Status = types.StatusFailure
		return result
	}

	result.Status = types.StatusSuccess
	return result
}

func responseText(result types.Result) string {
	switch result.Status {
	case types.StatusSuccess:
		if result.Payload == "" {
			return replyEmpty
		}
		return result.Payload
	case types.StatusTimeout:
		return replyTimeout
	case types.StatusCancelled:
		return replyCancelled
	default:
		if result.Payload != "" {
			return result.Payload
		}
		return replyFailure
	}
}
