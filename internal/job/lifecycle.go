package job

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bananastudio/internal/nanobanana"
)

// Phase is the observable state of a lifecycle instance.
type Phase string

const (
	PhaseSubmitting Phase = "submitting"
	PhaseStreaming  Phase = "streaming"
	PhaseSucceeded  Phase = "succeeded"
	PhaseFailed     Phase = "failed"
	PhaseBackoff    Phase = "backoff"
)

// Transport is the capability a lifecycle needs from the API client.
type Transport interface {
	Submit(ctx context.Context, req nanobanana.Request) (*nanobanana.Response, error)
}

// Options tunes one lifecycle instance. The tick intervals exist so tests can
// run the timers fast; zero values select the production defaults.
type Options struct {
	Logger        *zerolog.Logger
	Locale        string
	AutoRetry     bool
	ElapsedTick   time.Duration
	CountdownTick time.Duration
}

const (
	defaultElapsedTick   = 100 * time.Millisecond
	defaultCountdownTick = time.Second
)

// Snapshot is an immutable view of a lifecycle published to observers.
// Rendering is a pure projection of snapshots; observers never drive
// transitions.
type Snapshot struct {
	ID             string                  `json:"id"`
	Phase          Phase                   `json:"phase"`
	Attempt        int                     `json:"attempt"`
	AutoRetry      bool                    `json:"auto_retry"`
	Progress       *float64                `json:"progress,omitempty"`
	ElapsedMS      int64                   `json:"elapsed_ms"`
	Countdown      int                     `json:"countdown_seconds,omitempty"`
	ServerID       string                  `json:"server_id,omitempty"`
	ResultURL      string                  `json:"result_url,omitempty"`
	FailureKind    nanobanana.FailureKind  `json:"failure_kind,omitempty"`
	FailureMessage string                  `json:"failure_message,omitempty"`
	Request        nanobanana.Request      `json:"request"`
}

type actionKind int

const (
	actionRetry actionKind = iota
	actionCancelBackoff
	actionEnableAutoRetry
	actionRegenerate
)

// validFor reports whether an action may fire in the given phase. Actions
// only exist for settled jobs: nothing may interrupt a live attempt.
func (a actionKind) validFor(p Phase) bool {
	switch a {
	case actionRetry:
		return p == PhaseFailed || p == PhaseBackoff
	case actionCancelBackoff:
		return p == PhaseBackoff
	case actionEnableAutoRetry:
		return p == PhaseFailed
	case actionRegenerate:
		return p == PhaseSucceeded
	}
	return false
}

type backoffResult int

const (
	backoffRetry backoffResult = iota
	backoffHalted
	backoffDisposed
)

// Lifecycle drives one generation attempt chain: submit, consume the JSON or
// streamed response, classify the terminal outcome, and run the auto-retry
// backoff machine. Instances are mutually independent; the only shared piece
// is the Transport.
type Lifecycle struct {
	id            string
	client        Transport
	logger        zerolog.Logger
	locale        string
	elapsedTick   time.Duration
	countdownTick time.Duration

	mu        sync.Mutex
	req       nanobanana.Request
	phase     Phase
	attempt   int
	autoRetry bool
	progress  *float64
	started   time.Time
	elapsed   time.Duration
	countdown int
	outcome   *nanobanana.Outcome
	subs      map[int]chan Snapshot
	nextSub   int
	disposed  bool

	actions chan actionKind
	done    chan struct{}
}

func newLifecycle(id string, req nanobanana.Request, client Transport, opts Options) *Lifecycle {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("job_id", id).Logger()
	}
	elapsedTick := opts.ElapsedTick
	if elapsedTick <= 0 {
		elapsedTick = defaultElapsedTick
	}
	countdownTick := opts.CountdownTick
	if countdownTick <= 0 {
		countdownTick = defaultCountdownTick
	}
	l := &Lifecycle{
		id:            id,
		client:        client,
		logger:        logger,
		locale:        opts.Locale,
		elapsedTick:   elapsedTick,
		countdownTick: countdownTick,
		req:           req.Clone(),
		phase:         PhaseSubmitting,
		autoRetry:     opts.AutoRetry,
		subs:          make(map[int]chan Snapshot),
		actions:       make(chan actionKind, 1),
		done:          make(chan struct{}),
	}
	go l.run()
	return l
}

// ID returns the instance identifier.
func (l *Lifecycle) ID() string { return l.id }

// Snapshot returns the current observable state.
func (l *Lifecycle) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

// RequestSnapshot returns a copy of the bound request parameters, including
// any server-assigned id, for reruns targeting this specific instance.
func (l *Lifecycle) RequestSnapshot() nanobanana.Request {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.req.Clone()
}

// Subscribe registers an observer. The current snapshot is delivered first;
// the returned func unsubscribes. Slow observers miss intermediate snapshots
// rather than blocking the lifecycle.
func (l *Lifecycle) Subscribe() (<-chan Snapshot, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextSub
	l.nextSub++
	ch := make(chan Snapshot, 16)
	if l.disposed {
		close(ch)
		return ch, func() {}
	}
	l.subs[id] = ch
	ch <- l.snapshotLocked()
	return ch, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if c, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(c)
		}
	}
}

// Retry forces an immediate retry: from a halted failure it resubmits, and
// during backoff it skips the remaining countdown. Ignored while an attempt
// is in flight or after a success.
func (l *Lifecycle) Retry() { l.send(actionRetry) }

// CancelBackoff aborts a pending countdown, disables auto-retry and resets
// the attempt counter to zero.
func (l *Lifecycle) CancelBackoff() { l.send(actionCancelBackoff) }

// EnableAutoRetry turns auto-retry on from a halted failure, starting a
// backoff cycle using the current attempt number. Ignored in other phases.
func (l *Lifecycle) EnableAutoRetry() { l.send(actionEnableAutoRetry) }

// Regenerate re-runs a succeeded job in place, reusing the bound parameters
// including the server id. The attempt counter advances but the chain is not
// considered "retrying". Ignored in any other phase.
func (l *Lifecycle) Regenerate() { l.send(actionRegenerate) }

// Dispose tears the instance down: every pending timer is cancelled and
// observers are closed. An in-flight remote call is not cancelled; its
// response is discarded because nothing observes the instance anymore.
func (l *Lifecycle) Dispose() {
	l.mu.Lock()
	if l.disposed {
		l.mu.Unlock()
		return
	}
	l.disposed = true
	close(l.done)
	for id, ch := range l.subs {
		delete(l.subs, id)
		close(ch)
	}
	l.mu.Unlock()
}

// send enqueues an action if it is valid for the current phase; anything
// else is discarded. Enqueueing happens under mu so a phase transition and
// its drain cannot interleave with a racing caller.
func (l *Lifecycle) send(a actionKind) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.disposed || !a.validFor(l.phase) {
		return
	}
	select {
	case l.actions <- a:
	default:
	}
}

// drainActionsLocked discards any buffered action. Called under mu when a
// new attempt starts, so an action that raced the transition out of a
// settled phase can never fire against a later one.
func (l *Lifecycle) drainActionsLocked() {
	for {
		select {
		case <-l.actions:
		default:
			return
		}
	}
}

func (l *Lifecycle) isDisposed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

func (l *Lifecycle) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:        l.id,
		Phase:     l.phase,
		Attempt:   l.attempt,
		AutoRetry: l.autoRetry,
		ElapsedMS: l.elapsed.Milliseconds(),
		Countdown: l.countdown,
		ServerID:  l.req.ID,
		Request:   l.req.Clone(),
	}
	if l.progress != nil {
		p := *l.progress
		snap.Progress = &p
	}
	if l.outcome != nil {
		if l.outcome.Success {
			snap.ResultURL = l.outcome.ResultURL
		} else {
			snap.FailureKind = l.outcome.Kind
			snap.FailureMessage = l.outcome.Message
		}
	}
	return snap
}

// publishLocked fans the current snapshot out to observers. Callers hold mu.
func (l *Lifecycle) publishLocked() {
	if l.disposed {
		return
	}
	snap := l.snapshotLocked()
	for _, ch := range l.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (l *Lifecycle) update(fn func()) {
	l.mu.Lock()
	fn()
	l.publishLocked()
	l.mu.Unlock()
}

func (l *Lifecycle) run() {
	for {
		out := l.submitOnce()
		if l.isDisposed() {
			return
		}
		l.finish(out)
		if out.Success {
			if !l.awaitRegenerate() {
				return
			}
			continue
		}
		if !l.awaitRetry() {
			return
		}
	}
}

// submitOnce drives a single attempt from submission to a classified outcome.
func (l *Lifecycle) submitOnce() nanobanana.Outcome {
	l.update(func() {
		l.phase = PhaseSubmitting
		l.progress = nil
		l.outcome = nil
		l.countdown = 0
		l.started = time.Now()
		l.elapsed = 0
		l.drainActionsLocked()
	})
	req := l.RequestSnapshot()
	l.logger.Info().Int("attempt", l.Snapshot().Attempt).Str("model", req.Model).Msg("job: submitting")

	stopTimer := l.startElapsedTimer()
	defer stopTimer()

	// The submission itself is never bound to the instance's disposal: there
	// is no cancellation primitive at the transport boundary, so a response
	// arriving after Dispose is simply discarded.
	resp, err := l.client.Submit(context.Background(), req)
	if err != nil {
		return nanobanana.FailureFromError(err, l.locale)
	}
	if resp.Document != nil {
		l.bindServerID(resp.Document.ID)
		return nanobanana.Classify(resp.Document, l.locale)
	}
	return l.consumeStream(resp.Stream)
}

// consumeStream pushes chunks through a fresh decoder and applies every facet
// of every event. Reading stops at the first terminal or error event; a
// stream that completes without one is an incomplete-stream failure.
func (l *Lifecycle) consumeStream(body io.ReadCloser) nanobanana.Outcome {
	defer body.Close()
	zero := 0.0
	l.update(func() {
		l.phase = PhaseStreaming
		l.progress = &zero
	})

	dec := nanobanana.NewStreamDecoder(l.logger)
	buf := make([]byte, 32*1024)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			for _, ev := range dec.Feed(buf[:n]) {
				if ev.ID != "" {
					l.bindServerID(ev.ID)
				}
				if ev.Progress != nil {
					l.setProgress(*ev.Progress)
				}
				if ev.Terminal() {
					ev := ev
					return nanobanana.Classify(&ev, l.locale)
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nanobanana.FailureFromError(&nanobanana.TransportError{Message: err.Error()}, l.locale)
		}
	}
	return nanobanana.FailureFromError(nanobanana.ErrIncompleteStream, l.locale)
}

// startElapsedTimer runs the live duration counter for the current attempt.
// The returned stop func is safe to call more than once.
func (l *Lifecycle) startElapsedTimer() func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(l.elapsedTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.update(func() { l.elapsed = time.Since(l.started) })
			case <-stop:
				return
			case <-l.done:
				return
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(stop) }) }
}

func (l *Lifecycle) bindServerID(id string) {
	if id == "" {
		return
	}
	l.update(func() { l.req.ID = id })
}

// setProgress renders progress as received: out-of-order or decreasing
// values from the server are not smoothed.
func (l *Lifecycle) setProgress(p float64) {
	l.update(func() { l.progress = &p })
}

func (l *Lifecycle) finish(out nanobanana.Outcome) {
	l.update(func() {
		l.elapsed = time.Since(l.started)
		o := out
		l.outcome = &o
		if out.Success {
			l.phase = PhaseSucceeded
		} else {
			l.phase = PhaseFailed
		}
	})
	if out.Success {
		l.logger.Info().Str("result_url", out.ResultURL).Int64("elapsed_ms", l.Snapshot().ElapsedMS).Msg("job: succeeded")
	} else {
		l.logger.Warn().Str("kind", string(out.Kind)).Str("message", out.Message).Msg("job: failed")
	}
}

// awaitRegenerate blocks in the success state until the user regenerates or
// the instance is disposed.
func (l *Lifecycle) awaitRegenerate() bool {
	for {
		select {
		case a := <-l.actions:
			if a == actionRegenerate {
				l.update(func() { l.attempt++ })
				return true
			}
		case <-l.done:
			return false
		}
	}
}

// awaitRetry resolves a failed attempt into the next submission or disposal.
// With auto-retry on it runs a backoff cycle; halted it waits for a manual
// action.
func (l *Lifecycle) awaitRetry() bool {
	for {
		l.mu.Lock()
		auto := l.autoRetry
		l.mu.Unlock()
		if auto {
			switch l.backoffWait() {
			case backoffRetry:
				return true
			case backoffHalted:
				continue
			case backoffDisposed:
				return false
			}
		}
		select {
		case a := <-l.actions:
			switch a {
			case actionRetry:
				// A manual retry resubmits at the current attempt count.
				return true
			case actionEnableAutoRetry:
				l.update(func() { l.autoRetry = true })
			}
		case <-l.done:
			return false
		}
	}
}

// backoffWait runs one countdown cycle. The delay is computed for the retry
// about to be made; the attempt counter advances only when the retry fires.
func (l *Lifecycle) backoffWait() backoffResult {
	var secs int
	l.update(func() {
		secs = DelaySeconds(l.attempt + 1)
		l.phase = PhaseBackoff
		l.countdown = secs
	})
	l.logger.Info().Int("delay_seconds", secs).Int("next_attempt", l.Snapshot().Attempt+1).Msg("job: backoff scheduled")

	ticker := time.NewTicker(l.countdownTick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fire := false
			l.update(func() {
				l.countdown--
				if l.countdown <= 0 {
					l.countdown = 0
					fire = true
				}
			})
			if fire {
				l.update(func() { l.attempt++ })
				return backoffRetry
			}
		case a := <-l.actions:
			switch a {
			case actionRetry:
				l.update(func() {
					l.countdown = 0
					l.attempt++
				})
				return backoffRetry
			case actionCancelBackoff:
				l.update(func() {
					l.autoRetry = false
					l.attempt = 0
					l.countdown = 0
					l.phase = PhaseFailed
				})
				l.logger.Info().Msg("job: backoff cancelled")
				return backoffHalted
			}
		case <-l.done:
			return backoffDisposed
		}
	}
}
