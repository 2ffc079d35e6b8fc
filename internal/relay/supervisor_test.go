package relay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"relaycast/internal/observability/metrics"
)

type fakeProcess struct {
	mu          sync.Mutex
	buf         bytes.Buffer
	signals     []os.Signal
	killed      bool
	inputClosed bool

	writeErr  error
	writeGate chan struct{}

	done     chan struct{}
	exitOnce sync.Once
	exitInfo ExitInfo

	exitOnInterrupt  bool
	exitOnInputClose bool
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{done: make(chan struct{})}
}

func (p *fakeProcess) finish(info ExitInfo) {
	p.exitOnce.Do(func() {
		p.mu.Lock()
		p.exitInfo = info
		p.mu.Unlock()
		close(p.done)
	})
}

func (p *fakeProcess) Input() io.WriteCloser { return fakeInput{p} }

func (p *fakeProcess) Signal(sig os.Signal) error {
	p.mu.Lock()
	p.signals = append(p.signals, sig)
	exitNow := p.exitOnInterrupt && sig == os.Interrupt
	p.mu.Unlock()
	if exitNow {
		p.finish(ExitInfo{Code: -1, Signal: "interrupt"})
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.finish(ExitInfo{Code: -1, Signal: "killed"})
	return nil
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) Exit() ExitInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitInfo
}

func (p *fakeProcess) written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.buf.Bytes()...)
}

func (p *fakeProcess) gotSignal(want os.Signal) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sig := range p.signals {
		if sig == want {
			return true
		}
	}
	return false
}

func (p *fakeProcess) wasKilled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

func (p *fakeProcess) inputWasClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inputClosed
}

type fakeInput struct {
	p *fakeProcess
}

func (in fakeInput) Write(b []byte) (int, error) {
	if in.p.writeGate != nil {
		<-in.p.writeGate
	}
	in.p.mu.Lock()
	defer in.p.mu.Unlock()
	if in.p.writeErr != nil {
		return 0, in.p.writeErr
	}
	in.p.buf.Write(b)
	return len(b), nil
}

func (in fakeInput) Close() error {
	in.p.mu.Lock()
	in.p.inputClosed = true
	exitNow := in.p.exitOnInputClose
	in.p.mu.Unlock()
	if exitNow {
		in.p.finish(ExitInfo{Code: 0})
	}
	return nil
}

type fakeRunner struct {
	mu    sync.Mutex
	next  []*fakeProcess
	specs []StartSpec
	procs []*fakeProcess
	err   error
}

func (r *fakeRunner) Start(spec StartSpec) (Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	proc := newFakeProcess()
	if len(r.next) > 0 {
		proc = r.next[0]
		r.next = r.next[1:]
	}
	r.specs = append(r.specs, spec)
	r.procs = append(r.procs, proc)
	return proc, nil
}

func (r *fakeRunner) startCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.specs)
}

type statusRecord struct {
	sessionID string
	status    Status
}

type captureEmitter struct {
	mu     sync.Mutex
	events []statusRecord
}

func (e *captureEmitter) Emit(sessionID string, status Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, statusRecord{sessionID: sessionID, status: status})
}

func (e *captureEmitter) statuses(sessionID string) []Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Status, 0, len(e.events))
	for _, event := range e.events {
		if event.sessionID == sessionID {
			out = append(out, event.status)
		}
	}
	return out
}

type captureCollaborator struct {
	mu       sync.Mutex
	contexts map[string]context.Context
}

func (c *captureCollaborator) Begin(ctx context.Context, sessionID string, destinations []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.contexts == nil {
		c.contexts = make(map[string]context.Context)
	}
	c.contexts[sessionID] = ctx
}

func (c *captureCollaborator) contextFor(sessionID string) context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.contexts[sessionID]
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestSupervisor(runner Runner, emitter Emitter, collab Collaborator) *Supervisor {
	return NewSupervisor(Config{
		Runner:       runner,
		Emitter:      emitter,
		Collaborator: collab,
		Metrics:      metrics.New(),
		StopGrace:    20 * time.Millisecond,
	})
}

func TestStartRegistersHandleAndEmitsStarted(t *testing.T) {
	runner := &fakeRunner{}
	emitter := &captureEmitter{}
	sup := newTestSupervisor(runner, emitter, nil)

	if err := sup.Start(context.Background(), "sess-1", []string{"rtmp://a.example.com/live"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	if sup.Registry().Handle("sess-1") == nil {
		t.Fatal("handle not registered")
	}
	if runner.startCount() != 1 {
		t.Fatalf("unexpected spawn count: %d", runner.startCount())
	}
	if runner.specs[0].Name != "ffmpeg" {
		t.Fatalf("unexpected binary: %s", runner.specs[0].Name)
	}

	statuses := emitter.statuses("sess-1")
	if len(statuses) != 1 || statuses[0].Status != StatusStarted {
		t.Fatalf("unexpected statuses: %+v", statuses)
	}
}

func TestStartWithoutDestinationsEmitsError(t *testing.T) {
	runner := &fakeRunner{}
	emitter := &captureEmitter{}
	sup := newTestSupervisor(runner, emitter, nil)

	if err := sup.Start(context.Background(), "sess-1", nil); err == nil {
		t.Fatal("expected error for empty destinations")
	}

	if runner.startCount() != 0 {
		t.Fatal("process should not have been spawned")
	}
	statuses := emitter.statuses("sess-1")
	if len(statuses) != 1 || statuses[0].Status != StatusError {
		t.Fatalf("unexpected statuses: %+v", statuses)
	}
}

func TestStartSpawnFailureEmitsError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("ffmpeg not found")}
	emitter := &captureEmitter{}
	sup := newTestSupervisor(runner, emitter, nil)

	if err := sup.Start(context.Background(), "sess-1", []string{"rtmp://a.example.com/live"}); err == nil {
		t.Fatal("expected spawn error")
	}

	if sup.Registry().Handle("sess-1") != nil {
		t.Fatal("failed spawn must not leave a registered handle")
	}
	statuses := emitter.statuses("sess-1")
	if len(statuses) != 1 || statuses[0].Status != StatusError {
		t.Fatalf("unexpected statuses: %+v", statuses)
	}
}

func TestStartReplacesExistingProcess(t *testing.T) {
	first := newFakeProcess()
	first.exitOnInterrupt = true
	second := newFakeProcess()
	runner := &fakeRunner{next: []*fakeProcess{first, second}}
	emitter := &captureEmitter{}
	sup := newTestSupervisor(runner, emitter, nil)

	if err := sup.Start(context.Background(), "sess-1", []string{"rtmp://a.example.com/live"}); err != nil {
		t.Fatalf("first start: %v", err)
	}
	firstHandle := sup.Registry().Handle("sess-1")

	if err := sup.Start(context.Background(), "sess-1", []string{"rtmp://b.example.com/live"}); err != nil {
		t.Fatalf("second start: %v", err)
	}

	if sup.Registry().Handle("sess-1") == firstHandle {
		t.Fatal("handle was not replaced")
	}
	waitUntil(t, "old process interrupted", func() bool {
		return first.gotSignal(os.Interrupt)
	})

	// The replaced process exiting afterwards must not emit a stopped
	// status for the live replacement.
	<-first.Done()
	time.Sleep(20 * time.Millisecond)
	statuses := emitter.statuses("sess-1")
	if len(statuses) != 2 {
		t.Fatalf("unexpected status count: %+v", statuses)
	}
	for _, status := range statuses {
		if status.Status != StatusStarted {
			t.Fatalf("unexpected status %+v", status)
		}
	}
}

func TestStartReplaceCancelsOldCollaborator(t *testing.T) {
	first := newFakeProcess()
	first.exitOnInterrupt = true
	second := newFakeProcess()
	runner := &fakeRunner{next: []*fakeProcess{first, second}}
	collab := &captureCollaborator{}
	sup := newTestSupervisor(runner, &captureEmitter{}, collab)

	if err := sup.Start(context.Background(), "sess-1", []string{"rtmp://a.example.com/live"}); err != nil {
		t.Fatalf("first start: %v", err)
	}
	oldCtx := collab.contextFor("sess-1")
	if oldCtx == nil {
		t.Fatal("collaborator was not started")
	}

	if err := sup.Start(context.Background(), "sess-1", []string{"rtmp://b.example.com/live"}); err != nil {
		t.Fatalf("second start: %v", err)
	}

	select {
	case <-oldCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("old collaborator context not cancelled on replace")
	}

	newCtx := collab.contextFor("sess-1")
	if newCtx == oldCtx {
		t.Fatal("collaborator was not restarted for the replacement")
	}
	select {
	case <-newCtx.Done():
		t.Fatal("replacement collaborator context cancelled prematurely")
	default:
	}
}

func TestStartReplaceKeepsSessionGauge(t *testing.T) {
	first := newFakeProcess()
	first.exitOnInterrupt = true
	second := newFakeProcess()
	runner := &fakeRunner{next: []*fakeProcess{first, second}}
	recorder := metrics.New()
	sup := NewSupervisor(Config{
		Runner:    runner,
		Emitter:   &captureEmitter{},
		Metrics:   recorder,
		StopGrace: 20 * time.Millisecond,
	})

	if err := sup.Start(context.Background(), "sess-1", []string{"rtmp://a.example.com/live"}); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := sup.Start(context.Background(), "sess-1", []string{"rtmp://b.example.com/live"}); err != nil {
		t.Fatalf("second start: %v", err)
	}

	if got := recorder.ActiveSessions(); got != 1 {
		t.Fatalf("gauge after replace: got %d want 1", got)
	}

	sup.Stop("sess-1")
	if got := recorder.ActiveSessions(); got != 0 {
		t.Fatalf("gauge after stop: got %d want 0", got)
	}
}

func TestStopDrainsThenKillsAfterGrace(t *testing.T) {
	proc := newFakeProcess()
	runner := &fakeRunner{next: []*fakeProcess{proc}}
	emitter := &captureEmitter{}
	sup := newTestSupervisor(runner, emitter, nil)

	if err := sup.Start(context.Background(), "sess-1", []string{"rtmp://a.example.com/live"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	sup.Stop("sess-1")

	if sup.Registry().Handle("sess-1") != nil {
		t.Fatal("stop must remove the registry entry immediately")
	}
	waitUntil(t, "input closed", proc.inputWasClosed)
	waitUntil(t, "laggard killed", proc.wasKilled)

	statuses := emitter.statuses("sess-1")
	if len(statuses) != 2 || statuses[1].Status != StatusStopped {
		t.Fatalf("unexpected statuses: %+v", statuses)
	}
}

func TestStopSkipsKillWhenProcessExits(t *testing.T) {
	proc := newFakeProcess()
	proc.exitOnInputClose = true
	runner := &fakeRunner{next: []*fakeProcess{proc}}
	emitter := &captureEmitter{}
	sup := newTestSupervisor(runner, emitter, nil)

	if err := sup.Start(context.Background(), "sess-1", []string{"rtmp://a.example.com/live"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	sup.Stop("sess-1")

	<-proc.Done()
	time.Sleep(50 * time.Millisecond)
	if proc.wasKilled() {
		t.Fatal("process exited gracefully yet was killed")
	}
}

func TestStopIdleSessionIsNoOp(t *testing.T) {
	emitter := &captureEmitter{}
	sup := newTestSupervisor(&fakeRunner{}, emitter, nil)

	sup.Stop("unknown")

	if len(emitter.statuses("unknown")) != 0 {
		t.Fatal("idle stop must not emit a status")
	}
}

func TestProcessExitEmitsSingleStopped(t *testing.T) {
	proc := newFakeProcess()
	runner := &fakeRunner{next: []*fakeProcess{proc}}
	emitter := &captureEmitter{}
	sup := newTestSupervisor(runner, emitter, nil)

	if err := sup.Start(context.Background(), "sess-1", []string{"rtmp://a.example.com/live"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	proc.finish(ExitInfo{Code: 1})

	waitUntil(t, "registry cleanup", func() bool {
		return sup.Registry().Handle("sess-1") == nil
	})
	waitUntil(t, "stopped status", func() bool {
		statuses := emitter.statuses("sess-1")
		return len(statuses) == 2 && statuses[1].Status == StatusStopped
	})
	statuses := emitter.statuses("sess-1")
	if statuses[1].Message != "stream ended (code 1)" {
		t.Fatalf("unexpected message: %q", statuses[1].Message)
	}
}

func TestProcessExitAfterStopDoesNotDoubleEmit(t *testing.T) {
	proc := newFakeProcess()
	runner := &fakeRunner{next: []*fakeProcess{proc}}
	emitter := &captureEmitter{}
	sup := newTestSupervisor(runner, emitter, nil)

	if err := sup.Start(context.Background(), "sess-1", []string{"rtmp://a.example.com/live"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	sup.Stop("sess-1")
	proc.finish(ExitInfo{Code: 0})
	time.Sleep(50 * time.Millisecond)

	statuses := emitter.statuses("sess-1")
	if len(statuses) != 2 {
		t.Fatalf("expected exactly started and stopped, got %+v", statuses)
	}
}

func TestTerminateSkipsStatus(t *testing.T) {
	proc := newFakeProcess()
	runner := &fakeRunner{next: []*fakeProcess{proc}}
	emitter := &captureEmitter{}
	sup := newTestSupervisor(runner, emitter, nil)

	if err := sup.Start(context.Background(), "sess-1", []string{"rtmp://a.example.com/live"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	sup.Terminate("sess-1")

	if sup.Registry().Handle("sess-1") != nil {
		t.Fatal("terminate must remove the registry entry")
	}
	waitUntil(t, "interrupt delivered", func() bool {
		return proc.inputWasClosed() && proc.gotSignal(os.Interrupt)
	})
	statuses := emitter.statuses("sess-1")
	if len(statuses) != 1 || statuses[0].Status != StatusStarted {
		t.Fatalf("terminate must not emit a status: %+v", statuses)
	}
}

func TestStartCancelsCollaboratorOnStop(t *testing.T) {
	proc := newFakeProcess()
	runner := &fakeRunner{next: []*fakeProcess{proc}}
	collab := &captureCollaborator{}
	sup := newTestSupervisor(runner, &captureEmitter{}, collab)

	if err := sup.Start(context.Background(), "sess-1", []string{"rtmp://a.example.com/live"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	ctx := collab.contextFor("sess-1")
	if ctx == nil {
		t.Fatal("collaborator was not started")
	}
	select {
	case <-ctx.Done():
		t.Fatal("collaborator context cancelled prematurely")
	default:
	}

	sup.Stop("sess-1")

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("collaborator context not cancelled on stop")
	}
}

func TestShutdownKillsLingeringProcesses(t *testing.T) {
	procA := newFakeProcess()
	procB := newFakeProcess()
	runner := &fakeRunner{next: []*fakeProcess{procA, procB}}
	sup := newTestSupervisor(runner, &captureEmitter{}, nil)

	if err := sup.Start(context.Background(), "sess-a", []string{"rtmp://a.example.com/live"}); err != nil {
		t.Fatalf("start a: %v", err)
	}
	if err := sup.Start(context.Background(), "sess-b", []string{"rtmp://b.example.com/live"}); err != nil {
		t.Fatalf("start b: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := sup.Shutdown(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}

	if !procA.wasKilled() || !procB.wasKilled() {
		t.Fatal("lingering processes were not killed")
	}
	if sup.Registry().Len() != 0 {
		t.Fatal("registry not emptied by shutdown")
	}
}

func TestShutdownWaitsForGracefulExits(t *testing.T) {
	proc := newFakeProcess()
	proc.exitOnInterrupt = true
	runner := &fakeRunner{next: []*fakeProcess{proc}}
	sup := newTestSupervisor(runner, &captureEmitter{}, nil)

	if err := sup.Start(context.Background(), "sess-1", []string{"rtmp://a.example.com/live"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sup.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if proc.wasKilled() {
		t.Fatal("gracefully exiting process was killed")
	}
}
