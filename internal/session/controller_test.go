package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/skypro1111/voice-moderation-service/internal/capture"
	"github.com/skypro1111/voice-moderation-service/internal/convert"
	"github.com/skypro1111/voice-moderation-service/internal/moderation"
	"github.com/skypro1111/voice-moderation-service/internal/queue"
	"github.com/skypro1111/voice-moderation-service/internal/transcription"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeConn hands out scripted streams and tracks how many are open at once
type fakeConn struct {
	ready   chan struct{}
	streams chan io.ReadCloser

	mu         sync.Mutex
	subscribes int
	open       int
	maxOpen    int
	closed     bool
}

func newFakeConn(ready bool) *fakeConn {
	c := &fakeConn{
		ready:   make(chan struct{}),
		streams: make(chan io.ReadCloser, 16),
	}
	if ready {
		close(c.ready)
	}
	return c
}

func (c *fakeConn) Ready() <-chan struct{} {
	return c.ready
}

func (c *fakeConn) Subscribe(ctx context.Context, target string) (io.ReadCloser, error) {
	c.mu.Lock()
	c.subscribes++
	c.mu.Unlock()

	select {
	case stream := <-c.streams:
		c.mu.Lock()
		c.open++
		if c.open > c.maxOpen {
			c.maxOpen = c.open
		}
		c.mu.Unlock()
		return &trackedStream{ReadCloser: stream, conn: c}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) subscribeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribes
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type trackedStream struct {
	io.ReadCloser
	conn *fakeConn
	once sync.Once
}

func (s *trackedStream) Close() error {
	s.once.Do(func() {
		s.conn.mu.Lock()
		s.conn.open--
		s.conn.mu.Unlock()
	})
	return s.ReadCloser.Close()
}

// segmentStream is one utterance followed by the end-of-segment signal
func segmentStream(text string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(strings.Repeat(text+" ", 50)))
}

type fakePlatform struct {
	mu        sync.Mutex
	present   map[string]string
	conns     []*fakeConn
	newConn   func() *fakeConn
	joinErr   error
	removeErr error
	hangs     bool // Remove blocks until its context ends
	deadlines []bool
	removals  []string
	reasons   []string
}

func newFakePlatform(present map[string]string) *fakePlatform {
	return &fakePlatform{
		present: present,
		newConn: func() *fakeConn { return newFakeConn(true) },
	}
}

func (p *fakePlatform) Locate(ctx context.Context, target string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	channel, ok := p.present[target]
	if !ok {
		return "", errors.New("no audio track")
	}
	return channel, nil
}

func (p *fakePlatform) Join(ctx context.Context, channel string) (Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.joinErr != nil {
		return nil, p.joinErr
	}
	conn := p.newConn()
	p.conns = append(p.conns, conn)
	return conn, nil
}

func (p *fakePlatform) Remove(ctx context.Context, target, reason string) error {
	_, hasDeadline := ctx.Deadline()

	p.mu.Lock()
	p.removals = append(p.removals, target)
	p.reasons = append(p.reasons, reason)
	p.deadlines = append(p.deadlines, hasDeadline)
	hangs, err := p.hangs, p.removeErr
	p.mu.Unlock()

	if hangs {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (p *fakePlatform) conn(i int) *fakeConn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conns[i]
}

func (p *fakePlatform) joinCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

func (p *fakePlatform) removalCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.removals)
}

// fakeConverter copies the raw payload into the WAV path so the transcriber can
// read it back. fail and delay are keyed by the first word of the payload.
type fakeConverter struct {
	mu    sync.Mutex
	calls int
	fail  map[string]bool
	delay map[string]time.Duration
}

func (f *fakeConverter) Convert(ctx context.Context, rawPath string) (string, error) {
	data, err := os.ReadFile(rawPath)
	if err != nil {
		return "", err
	}
	word := ""
	if fields := strings.Fields(string(data)); len(fields) > 0 {
		word = fields[0]
	}

	f.mu.Lock()
	f.calls++
	fail := f.fail[word]
	delay := f.delay[word]
	f.mu.Unlock()

	time.Sleep(delay)

	if fail {
		return "", &convert.ConversionError{RawPath: rawPath, ExitCode: 1, Err: errors.New("exit status 1")}
	}

	wavPath := convert.WAVPath(rawPath)
	if err := os.WriteFile(wavPath, data, 0644); err != nil {
		return "", err
	}
	return wavPath, nil
}

// echoTranscriber returns the first word of the clip as the utterance
type echoTranscriber struct {
	mu    sync.Mutex
	texts []string
}

func (e *echoTranscriber) Transcribe(ctx context.Context, wavPath string) ([]transcription.Utterance, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}
	text := strings.Fields(string(data))[0]

	e.mu.Lock()
	e.texts = append(e.texts, text)
	e.mu.Unlock()

	return []transcription.Utterance{{Text: strings.ReplaceAll(text, "_", " ")}}, nil
}

func (e *echoTranscriber) seen() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.texts...)
}

type harness struct {
	controller  *Controller
	platform    *fakePlatform
	converter   *fakeConverter
	transcriber *echoTranscriber
	dir         string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		platform:    newFakePlatform(map[string]string{"alice": "lobby", "bob": "lobby"}),
		converter:   &fakeConverter{},
		transcriber: &echoTranscriber{},
		dir:         dir,
	}

	q := queue.New(testLogger(), h.transcriber, moderation.DefaultDenylist, nil)
	h.controller = NewController(testLogger(), Config{
		Capture:       capture.Config{Dir: dir, MinPayloadBytes: 100},
		RemovalReason: "Detected use of banned words.",
		ReadyTimeout:  time.Second,
		RearmBackoff:  5 * time.Millisecond,
		RemoveTimeout: 50 * time.Millisecond,
	}, h.platform, h.converter, q)

	t.Cleanup(h.controller.Stop)
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func (h *harness) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.controller.Wait(ctx); err != nil {
		t.Fatalf("Pipeline did not drain: %v", err)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func listFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("Failed to list %s: %v", dir, err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestStartTargetUnavailable(t *testing.T) {
	h := newHarness(t)

	err := h.controller.Start(context.Background(), "carol")
	if !errors.Is(err, ErrTargetUnavailable) {
		t.Fatalf("Expected ErrTargetUnavailable, got %v", err)
	}

	if err := h.controller.Start(context.Background(), ""); !errors.Is(err, ErrTargetUnavailable) {
		t.Errorf("Expected ErrTargetUnavailable for empty target, got %v", err)
	}

	status := h.controller.Status()
	if status.Target != "" || status.Generation != 0 || h.platform.joinCount() != 0 {
		t.Errorf("Expected no state change, got %+v", status)
	}
}

func TestStartAlreadyRecording(t *testing.T) {
	h := newHarness(t)

	if err := h.controller.Start(context.Background(), "alice"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	before := h.controller.Status()

	err := h.controller.Start(context.Background(), "alice")
	if !errors.Is(err, ErrAlreadyRecording) {
		t.Fatalf("Expected ErrAlreadyRecording, got %v", err)
	}

	after := h.controller.Status()
	if after.SessionID != before.SessionID || after.Generation != before.Generation {
		t.Errorf("Expected session to be unchanged, got %+v then %+v", before, after)
	}
	if h.platform.joinCount() != 1 {
		t.Errorf("Expected a single capture handle, got %d joins", h.platform.joinCount())
	}
}

func TestStartJoinFailureLeavesIdle(t *testing.T) {
	h := newHarness(t)
	h.platform.joinErr = errors.New("connection refused")

	if err := h.controller.Start(context.Background(), "alice"); err == nil {
		t.Fatal("Expected join failure")
	}
	if status := h.controller.Status(); status.Target != "" {
		t.Errorf("Expected idle session, got %+v", status)
	}
}

func TestStartReplacesDifferentTarget(t *testing.T) {
	h := newHarness(t)

	if err := h.controller.Start(context.Background(), "alice"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	first := h.controller.Status()

	if err := h.controller.Start(context.Background(), "bob"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if !h.platform.conn(0).isClosed() {
		t.Error("Expected the previous capture handle to be released")
	}

	status := h.controller.Status()
	if status.Target != "bob" || status.SessionID == first.SessionID {
		t.Errorf("Expected a new session for bob, got %+v", status)
	}
	if status.Generation <= first.Generation {
		t.Errorf("Expected generation to advance, got %d then %d", first.Generation, status.Generation)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t)

	h.controller.Stop()

	if err := h.controller.Start(context.Background(), "alice"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.controller.Stop()
		}()
	}
	wg.Wait()

	status := h.controller.Status()
	if status.Target != "" || status.Phase != PhaseIdle {
		t.Errorf("Expected idle session, got %+v", status)
	}
	if !h.platform.conn(0).isClosed() {
		t.Error("Expected capture handle to be closed")
	}

	if err := h.controller.Start(context.Background(), "alice"); err != nil {
		t.Errorf("Expected restart after stop, got %v", err)
	}
}

func TestRearmsAfterEverySegment(t *testing.T) {
	h := newHarness(t)
	h.converter.fail = map[string]bool{"two": true}

	if err := h.controller.Start(context.Background(), "alice"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	conn := h.platform.conn(0)

	conn.streams <- segmentStream("one")
	conn.streams <- io.NopCloser(bytes.NewReader(make([]byte, 10))) // too short
	conn.streams <- segmentStream("two")                             // conversion fails
	conn.streams <- segmentStream("three")

	waitFor(t, "fifth arm", func() bool { return conn.subscribeCount() >= 5 })
	h.drain(t)

	if got := h.transcriber.seen(); !equalStrings(got, []string{"one", "three"}) {
		t.Errorf("Expected clips one and three, got %v", got)
	}

	status := h.controller.Status()
	if status.Segments != 3 || status.Dropped != 1 || status.ConversionFailures != 1 {
		t.Errorf("Unexpected counters %+v", status)
	}
	if status.Target != "alice" {
		t.Errorf("Expected session to keep capturing, got %+v", status)
	}

	conn.mu.Lock()
	maxOpen := conn.maxOpen
	conn.mu.Unlock()
	if maxOpen > 1 {
		t.Errorf("Expected at most one active capture, got %d", maxOpen)
	}

	// only the armed writer's file is left
	h.controller.Stop()
	h.drain(t)
	if files := listFiles(t, h.dir); len(files) != 0 {
		t.Errorf("Expected no transient files, got %v", files)
	}
}

func TestStopFlushesPartialSegmentAndDoesNotRearm(t *testing.T) {
	h := newHarness(t)

	if err := h.controller.Start(context.Background(), "alice"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	conn := h.platform.conn(0)

	pr, pw := io.Pipe()
	conn.streams <- pr

	payload := []byte(strings.Repeat("partial ", 50))
	if _, err := pw.Write(payload); err != nil {
		t.Fatalf("Failed to feed stream: %v", err)
	}

	waitFor(t, "writer to capture", func() bool { return h.controller.Status().WriterActive })
	h.controller.Stop()
	subscribes := conn.subscribeCount()

	h.drain(t)

	if got := h.transcriber.seen(); !equalStrings(got, []string{"partial"}) {
		t.Errorf("Expected the flushed segment to be transcribed, got %v", got)
	}

	time.Sleep(50 * time.Millisecond)
	if conn.subscribeCount() != subscribes {
		t.Error("Expected no writer to be armed after stop")
	}
	if status := h.controller.Status(); status.Target != "" || status.WriterActive {
		t.Errorf("Expected idle session, got %+v", status)
	}
}

func TestOutOfOrderConversionKeepsCaptureOrder(t *testing.T) {
	h := newHarness(t)
	h.converter.delay = map[string]time.Duration{"first": 150 * time.Millisecond}

	if err := h.controller.Start(context.Background(), "alice"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	conn := h.platform.conn(0)

	conn.streams <- segmentStream("first")
	conn.streams <- segmentStream("second")

	waitFor(t, "third arm", func() bool { return conn.subscribeCount() >= 3 })
	h.drain(t)

	if got := h.transcriber.seen(); !equalStrings(got, []string{"first", "second"}) {
		t.Errorf("Expected capture order, got %v", got)
	}
}

func TestViolationRemovesTargetWithoutRetry(t *testing.T) {
	h := newHarness(t)
	h.platform.removeErr = errors.New("insufficient permissions")

	if err := h.controller.Start(context.Background(), "alice"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	conn := h.platform.conn(0)

	conn.streams <- segmentStream("good_morning_everyone")
	conn.streams <- segmentStream("lowkey_based")

	waitFor(t, "third arm", func() bool { return conn.subscribeCount() >= 3 })
	h.drain(t)

	if h.platform.removalCount() != 1 {
		t.Fatalf("Expected exactly one removal attempt, got %d", h.platform.removalCount())
	}
	if h.platform.removals[0] != "alice" || h.platform.reasons[0] != "Detected use of banned words." {
		t.Errorf("Unexpected removal %v %v", h.platform.removals, h.platform.reasons)
	}

	status := h.controller.Status()
	if status.RemovalFailures != 1 || status.Removals != 0 {
		t.Errorf("Unexpected counters %+v", status)
	}
	if status.Target != "alice" {
		t.Error("Expected a failed removal to leave the session running")
	}
}

func TestHungRemovalTimesOutAndQueueContinues(t *testing.T) {
	h := newHarness(t)
	h.platform.hangs = true

	if err := h.controller.Start(context.Background(), "alice"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	conn := h.platform.conn(0)

	conn.streams <- segmentStream("lowkey_based")
	conn.streams <- segmentStream("good_morning")

	waitFor(t, "third arm", func() bool { return conn.subscribeCount() >= 3 })
	h.drain(t)

	if got := h.transcriber.seen(); !equalStrings(got, []string{"lowkey_based", "good_morning"}) {
		t.Errorf("Expected both clips transcribed in order, got %v", got)
	}

	h.platform.mu.Lock()
	deadlines := append([]bool(nil), h.platform.deadlines...)
	h.platform.mu.Unlock()
	if len(deadlines) != 1 || !deadlines[0] {
		t.Errorf("Expected one removal call bounded by a deadline, got %v", deadlines)
	}

	status := h.controller.Status()
	if status.RemovalFailures != 1 || status.Removals != 0 {
		t.Errorf("Expected the timed out removal counted as a failure, got %+v", status)
	}
}

func TestConcurrentStartIsSingleFlight(t *testing.T) {
	h := newHarness(t)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- h.controller.Start(context.Background(), "alice")
		}()
	}
	wg.Wait()
	close(errs)

	started := 0
	for err := range errs {
		switch {
		case err == nil:
			started++
		case !errors.Is(err, ErrAlreadyRecording):
			t.Errorf("Unexpected error %v", err)
		}
	}

	if started != 1 || h.platform.joinCount() != 1 {
		t.Errorf("Expected one start and one capture handle, got %d starts and %d joins", started, h.platform.joinCount())
	}
}

func TestReadyTimeoutAbandonsSession(t *testing.T) {
	dir := t.TempDir()
	platform := newFakePlatform(map[string]string{"alice": "lobby"})
	platform.newConn = func() *fakeConn { return newFakeConn(false) }

	q := queue.New(testLogger(), &echoTranscriber{}, moderation.DefaultDenylist, nil)
	controller := NewController(testLogger(), Config{
		Capture:      capture.Config{Dir: dir, MinPayloadBytes: 100},
		ReadyTimeout: 20 * time.Millisecond,
	}, platform, &fakeConverter{}, q)
	defer controller.Stop()

	if err := controller.Start(context.Background(), "alice"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, "session to be abandoned", func() bool { return controller.Status().Target == "" })

	if !platform.conn(0).isClosed() {
		t.Error("Expected the unready connection to be closed")
	}
	if platform.conn(0).subscribeCount() != 0 {
		t.Error("Expected no writer to be armed before readiness")
	}
}

func TestWithStateInjectsState(t *testing.T) {
	state := NewState()
	platform := newFakePlatform(map[string]string{"alice": "lobby"})
	q := queue.New(testLogger(), &echoTranscriber{}, moderation.DefaultDenylist, nil)

	controller := NewController(testLogger(), Config{
		Capture: capture.Config{Dir: filepath.Join(t.TempDir(), "recordings"), MinPayloadBytes: 100},
	}, platform, &fakeConverter{}, q, WithState(state))
	defer controller.Stop()

	if err := controller.Start(context.Background(), "alice"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if snapshot := state.snapshot(); snapshot.Target != "alice" || snapshot.Channel != "lobby" {
		t.Errorf("Expected the injected state to be used, got %+v", snapshot)
	}
}

func TestSnapshotStartedAtOnlyWhileRecording(t *testing.T) {
	h := newHarness(t)

	data, err := json.Marshal(h.controller.Status())
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if strings.Contains(string(data), "started_at") {
		t.Errorf("Expected idle snapshot without started_at, got %s", data)
	}

	if err := h.controller.Start(context.Background(), "alice"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if status := h.controller.Status(); status.StartedAt == nil || status.StartedAt.IsZero() {
		t.Errorf("Expected started_at while recording, got %+v", status.StartedAt)
	}

	h.controller.Stop()
	if status := h.controller.Status(); status.StartedAt != nil {
		t.Errorf("Expected started_at cleared after stop, got %v", *status.StartedAt)
	}
}
