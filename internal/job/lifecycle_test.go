package job

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"bananastudio/internal/nanobanana"
)

type stubTransport struct {
	mu    sync.Mutex
	queue []*nanobanana.Response
	errs  []error
	calls int
	reqs  []nanobanana.Request
}

func (s *stubTransport) Submit(ctx context.Context, req nanobanana.Request) (*nanobanana.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.reqs = append(s.reqs, req)
	idx := s.calls - 1
	if idx < len(s.errs) && s.errs[idx] != nil {
		return nil, s.errs[idx]
	}
	if idx < len(s.queue) {
		return s.queue[idx], nil
	}
	if len(s.queue) > 0 {
		return s.queue[len(s.queue)-1], nil
	}
	return nil, &nanobanana.TransportError{Message: "no response queued"}
}

func (s *stubTransport) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubTransport) lastRequest() nanobanana.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reqs[len(s.reqs)-1]
}

func docResponse(ev nanobanana.Event) *nanobanana.Response {
	e := ev
	return &nanobanana.Response{Document: &e}
}

func streamResponse(body string) *nanobanana.Response {
	return &nanobanana.Response{Stream: io.NopCloser(strings.NewReader(body))}
}

func successDoc(id, url string) *nanobanana.Response {
	return docResponse(nanobanana.Event{
		ID:      id,
		Status:  nanobanana.StatusSucceeded,
		Results: []nanobanana.ResultImage{{URL: url}},
	})
}

func failureDoc(reason string) *nanobanana.Response {
	return docResponse(nanobanana.Event{Status: nanobanana.StatusFailed, FailureReason: reason})
}

// fastOpts keeps the countdown quick and the elapsed ticker quiet so tests
// observe phase transitions without timing noise.
func fastOpts() Options {
	return Options{
		ElapsedTick:   time.Hour,
		CountdownTick: time.Millisecond,
	}
}

func waitFor(t *testing.T, sub <-chan Snapshot, pred func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap, ok := <-sub:
			if !ok {
				t.Fatal("subscription closed before condition was met")
			}
			if pred(snap) {
				return snap
			}
		case <-deadline:
			t.Fatal("timed out waiting for snapshot")
		}
	}
}

func TestLifecycleDocumentSuccess(t *testing.T) {
	transport := &stubTransport{queue: []*nanobanana.Response{successDoc("task-1", "https://cdn/out.png")}}
	l := newLifecycle("job-1", nanobanana.Request{Model: "nano-banana", Prompt: "p"}, transport, fastOpts())
	defer l.Dispose()

	sub, cancel := l.Subscribe()
	defer cancel()
	snap := waitFor(t, sub, func(s Snapshot) bool { return s.Phase == PhaseSucceeded })
	if snap.ResultURL != "https://cdn/out.png" {
		t.Fatalf("unexpected result url %q", snap.ResultURL)
	}
	if snap.ServerID != "task-1" {
		t.Fatalf("server id not bound: %q", snap.ServerID)
	}
	if snap.Attempt != 0 {
		t.Fatalf("expected attempt 0, got %d", snap.Attempt)
	}
}

func TestLifecycleStreamedProgressAndSuccess(t *testing.T) {
	body := "data: {\"id\":\"task-2\",\"progress\":10}\n" +
		"data: {\"progress\":55}\n" +
		"data: {\"status\":\"succeeded\",\"results\":[{\"url\":\"https://cdn/s.png\"}]}\n" +
		"data: [DONE]\n"
	transport := &stubTransport{queue: []*nanobanana.Response{streamResponse(body)}}
	l := newLifecycle("job-2", nanobanana.Request{Prompt: "p"}, transport, fastOpts())
	defer l.Dispose()

	sub, cancel := l.Subscribe()
	defer cancel()
	snap := waitFor(t, sub, func(s Snapshot) bool { return s.Phase == PhaseSucceeded })
	if snap.ResultURL != "https://cdn/s.png" {
		t.Fatalf("unexpected result url %q", snap.ResultURL)
	}
	if snap.ServerID != "task-2" {
		t.Fatalf("server id not bound from stream: %q", snap.ServerID)
	}
	// The bound id travels with the request for subsequent attempts.
	if req := l.RequestSnapshot(); req.ID != "task-2" {
		t.Fatalf("request id not bound: %q", req.ID)
	}
}

func TestLifecycleFailureHaltsWithoutAutoRetry(t *testing.T) {
	transport := &stubTransport{queue: []*nanobanana.Response{failureDoc("output_moderation")}}
	l := newLifecycle("job-3", nanobanana.Request{Prompt: "p"}, transport, fastOpts())
	defer l.Dispose()

	sub, cancel := l.Subscribe()
	defer cancel()
	snap := waitFor(t, sub, func(s Snapshot) bool { return s.Phase == PhaseFailed })
	if snap.FailureKind != nanobanana.FailServerReported {
		t.Fatalf("unexpected failure kind %q", snap.FailureKind)
	}
	if snap.FailureMessage != "违反使用政策（生成内容）" {
		t.Fatalf("unexpected failure message %q", snap.FailureMessage)
	}

	time.Sleep(50 * time.Millisecond)
	if got := transport.callCount(); got != 1 {
		t.Fatalf("halted failure resubmitted: %d calls", got)
	}
}

func TestLifecycleIncompleteStream(t *testing.T) {
	transport := &stubTransport{queue: []*nanobanana.Response{streamResponse("data: {\"progress\":40}\ndata: [DONE]\n")}}
	l := newLifecycle("job-4", nanobanana.Request{Prompt: "p"}, transport, fastOpts())
	defer l.Dispose()

	sub, cancel := l.Subscribe()
	defer cancel()
	snap := waitFor(t, sub, func(s Snapshot) bool { return s.Phase == PhaseFailed })
	if snap.FailureKind != nanobanana.FailIncomplete {
		t.Fatalf("unexpected failure kind %q", snap.FailureKind)
	}
	if snap.FailureMessage != "未收到有效结果" {
		t.Fatalf("unexpected failure message %q", snap.FailureMessage)
	}
}

func TestLifecycleAutoRetryRecovers(t *testing.T) {
	transport := &stubTransport{queue: []*nanobanana.Response{
		failureDoc("error"),
		successDoc("task-5", "https://cdn/r.png"),
	}}
	opts := fastOpts()
	opts.AutoRetry = true
	l := newLifecycle("job-5", nanobanana.Request{Prompt: "p"}, transport, opts)
	defer l.Dispose()

	sub, cancel := l.Subscribe()
	defer cancel()
	backoff := waitFor(t, sub, func(s Snapshot) bool { return s.Phase == PhaseBackoff })
	if backoff.Countdown != 5 {
		t.Fatalf("first retry should start a 5s countdown, got %d", backoff.Countdown)
	}
	snap := waitFor(t, sub, func(s Snapshot) bool { return s.Phase == PhaseSucceeded })
	if snap.Attempt != 1 {
		t.Fatalf("auto retry should advance the attempt counter, got %d", snap.Attempt)
	}
	if transport.callCount() != 2 {
		t.Fatalf("expected 2 submissions, got %d", transport.callCount())
	}
}

func TestLifecycleCancelBackoffHaltsAndResets(t *testing.T) {
	transport := &stubTransport{queue: []*nanobanana.Response{failureDoc("error")}}
	opts := fastOpts()
	opts.AutoRetry = true
	opts.CountdownTick = time.Hour // freeze the countdown so cancel always wins
	l := newLifecycle("job-6", nanobanana.Request{Prompt: "p"}, transport, opts)
	defer l.Dispose()

	sub, cancel := l.Subscribe()
	defer cancel()
	waitFor(t, sub, func(s Snapshot) bool { return s.Phase == PhaseBackoff })
	l.CancelBackoff()

	snap := waitFor(t, sub, func(s Snapshot) bool { return s.Phase == PhaseFailed && !s.AutoRetry })
	if snap.Attempt != 0 {
		t.Fatalf("cancel should reset the attempt counter, got %d", snap.Attempt)
	}
	if snap.Countdown != 0 {
		t.Fatalf("countdown should clear, got %d", snap.Countdown)
	}
	time.Sleep(50 * time.Millisecond)
	if got := transport.callCount(); got != 1 {
		t.Fatalf("cancelled backoff resubmitted: %d calls", got)
	}
}

func TestLifecycleForceRetrySkipsCountdown(t *testing.T) {
	transport := &stubTransport{queue: []*nanobanana.Response{
		failureDoc("error"),
		successDoc("", "https://cdn/f.png"),
	}}
	opts := fastOpts()
	opts.AutoRetry = true
	opts.CountdownTick = time.Hour
	l := newLifecycle("job-7", nanobanana.Request{Prompt: "p"}, transport, opts)
	defer l.Dispose()

	sub, cancel := l.Subscribe()
	defer cancel()
	waitFor(t, sub, func(s Snapshot) bool { return s.Phase == PhaseBackoff })
	l.Retry()

	snap := waitFor(t, sub, func(s Snapshot) bool { return s.Phase == PhaseSucceeded })
	if snap.Attempt != 1 {
		t.Fatalf("forced retry should advance the attempt counter, got %d", snap.Attempt)
	}
}

func TestLifecycleManualRetryFromHaltKeepsAttempt(t *testing.T) {
	transport := &stubTransport{queue: []*nanobanana.Response{
		failureDoc("error"),
		successDoc("", "https://cdn/m.png"),
	}}
	l := newLifecycle("job-8", nanobanana.Request{Prompt: "p"}, transport, fastOpts())
	defer l.Dispose()

	sub, cancel := l.Subscribe()
	defer cancel()
	waitFor(t, sub, func(s Snapshot) bool { return s.Phase == PhaseFailed })
	l.Retry()

	snap := waitFor(t, sub, func(s Snapshot) bool { return s.Phase == PhaseSucceeded })
	if snap.Attempt != 0 {
		t.Fatalf("manual retry from a halt must not advance the attempt counter, got %d", snap.Attempt)
	}
	if transport.callCount() != 2 {
		t.Fatalf("expected 2 submissions, got %d", transport.callCount())
	}
}

func TestLifecycleRegenerateAfterSuccess(t *testing.T) {
	transport := &stubTransport{queue: []*nanobanana.Response{
		successDoc("task-9", "https://cdn/one.png"),
		successDoc("task-9", "https://cdn/two.png"),
	}}
	l := newLifecycle("job-9", nanobanana.Request{Prompt: "p"}, transport, fastOpts())
	defer l.Dispose()

	sub, cancel := l.Subscribe()
	defer cancel()
	waitFor(t, sub, func(s Snapshot) bool { return s.Phase == PhaseSucceeded })
	l.Regenerate()

	snap := waitFor(t, sub, func(s Snapshot) bool {
		return s.Phase == PhaseSucceeded && s.ResultURL == "https://cdn/two.png"
	})
	if snap.Attempt != 1 {
		t.Fatalf("regenerate should advance the attempt counter, got %d", snap.Attempt)
	}
	// The bound server id rides along on the second submission.
	if got := transport.lastRequest().ID; got != "task-9" {
		t.Fatalf("expected bound id on regenerate, got %q", got)
	}
}

func TestLifecycleEnableAutoRetryFromHalt(t *testing.T) {
	transport := &stubTransport{queue: []*nanobanana.Response{
		failureDoc("error"),
		successDoc("", "https://cdn/a.png"),
	}}
	l := newLifecycle("job-10", nanobanana.Request{Prompt: "p"}, transport, fastOpts())
	defer l.Dispose()

	sub, cancel := l.Subscribe()
	defer cancel()
	waitFor(t, sub, func(s Snapshot) bool { return s.Phase == PhaseFailed })
	l.EnableAutoRetry()

	waitFor(t, sub, func(s Snapshot) bool { return s.Phase == PhaseBackoff })
	snap := waitFor(t, sub, func(s Snapshot) bool { return s.Phase == PhaseSucceeded })
	if !snap.AutoRetry {
		t.Fatal("auto retry should remain enabled")
	}
}

// gatedTransport parks every Submit until release is closed, so tests can
// issue actions while an attempt is demonstrably in flight.
type gatedTransport struct {
	stubTransport
	entered chan struct{}
	release chan struct{}
}

func (g *gatedTransport) Submit(ctx context.Context, req nanobanana.Request) (*nanobanana.Response, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
	return g.stubTransport.Submit(ctx, req)
}

func TestLifecycleRetryDuringFlightIsIgnored(t *testing.T) {
	transport := &gatedTransport{
		stubTransport: stubTransport{queue: []*nanobanana.Response{successDoc("task-g", "https://cdn/g.png")}},
		entered:       make(chan struct{}, 4),
		release:       make(chan struct{}),
	}
	l := newLifecycle("job-13", nanobanana.Request{Prompt: "p"}, transport, fastOpts())
	defer l.Dispose()

	sub, cancel := l.Subscribe()
	defer cancel()

	select {
	case <-transport.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("submission never started")
	}
	// Issued mid-flight: must not queue up and fire after the success.
	l.Retry()
	close(transport.release)

	snap := waitFor(t, sub, func(s Snapshot) bool { return s.Phase == PhaseSucceeded })
	if snap.Attempt != 0 {
		t.Fatalf("in-flight retry advanced the attempt counter: %d", snap.Attempt)
	}
	time.Sleep(50 * time.Millisecond)
	if got := transport.callCount(); got != 1 {
		t.Fatalf("in-flight retry resubmitted the job: %d calls", got)
	}
	if l.Snapshot().Phase != PhaseSucceeded {
		t.Fatalf("job left the success state: %s", l.Snapshot().Phase)
	}
}

func TestLifecycleActionsOutsideTheirPhaseAreDiscarded(t *testing.T) {
	transport := &stubTransport{queue: []*nanobanana.Response{
		failureDoc("error"),
		successDoc("", "https://cdn/p.png"),
	}}
	l := newLifecycle("job-14", nanobanana.Request{Prompt: "p"}, transport, fastOpts())
	defer l.Dispose()

	sub, cancel := l.Subscribe()
	defer cancel()
	waitFor(t, sub, func(s Snapshot) bool { return s.Phase == PhaseFailed })

	// Regenerate belongs to success, cancel to backoff; a halted failure
	// accepts neither.
	l.Regenerate()
	l.CancelBackoff()
	time.Sleep(50 * time.Millisecond)
	if got := transport.callCount(); got != 1 {
		t.Fatalf("discarded action resubmitted the job: %d calls", got)
	}
	if snap := l.Snapshot(); snap.Phase != PhaseFailed || snap.Attempt != 0 {
		t.Fatalf("discarded actions mutated state: %+v", snap)
	}

	// A valid action still works afterwards.
	l.Retry()
	snap := waitFor(t, sub, func(s Snapshot) bool { return s.Phase == PhaseSucceeded })
	if snap.Attempt != 0 {
		t.Fatalf("manual retry advanced the attempt counter: %d", snap.Attempt)
	}
}

func TestLifecycleRetryAfterSuccessIsIgnored(t *testing.T) {
	transport := &stubTransport{queue: []*nanobanana.Response{successDoc("", "https://cdn/s.png")}}
	l := newLifecycle("job-15", nanobanana.Request{Prompt: "p"}, transport, fastOpts())
	defer l.Dispose()

	sub, cancel := l.Subscribe()
	defer cancel()
	waitFor(t, sub, func(s Snapshot) bool { return s.Phase == PhaseSucceeded })

	l.Retry()
	time.Sleep(50 * time.Millisecond)
	if got := transport.callCount(); got != 1 {
		t.Fatalf("retry on a succeeded job resubmitted it: %d calls", got)
	}
	if snap := l.Snapshot(); snap.Phase != PhaseSucceeded || snap.Attempt != 0 {
		t.Fatalf("retry on a succeeded job mutated state: %+v", snap)
	}
}

func TestLifecycleDisposeClosesSubscribers(t *testing.T) {
	transport := &stubTransport{queue: []*nanobanana.Response{successDoc("", "https://cdn/d.png")}}
	l := newLifecycle("job-11", nanobanana.Request{Prompt: "p"}, transport, fastOpts())

	sub, cancel := l.Subscribe()
	defer cancel()
	waitFor(t, sub, func(s Snapshot) bool { return s.Phase == PhaseSucceeded })
	l.Dispose()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription not closed after dispose")
		}
	}
}

func TestLifecycleSubscribeAfterDispose(t *testing.T) {
	transport := &stubTransport{}
	l := newLifecycle("job-12", nanobanana.Request{Prompt: "p"}, transport, fastOpts())
	l.Dispose()

	sub, cancel := l.Subscribe()
	defer cancel()
	if _, ok := <-sub; ok {
		t.Fatal("subscription on a disposed lifecycle should be closed")
	}
}
