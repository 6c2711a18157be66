package taskloop

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/chauffeur/pkg/actions"
	"github.com/odvcencio/chauffeur/pkg/cdp"
)

// stubDriver scripts per-kind results and records every executed descriptor.
type stubDriver struct {
	mu       sync.Mutex
	executed []actions.Descriptor
	results  map[actions.Kind]actions.Result
	execErr  error
	html     string
}

func newStubDriver() *stubDriver {
	return &stubDriver{
		results: map[actions.Kind]actions.Result{
			actions.KindNavigate: {Status: actions.StatusSuccess, Message: "navigated"},
			actions.KindClick:    {Status: actions.StatusSuccess, Message: "clicked"},
			actions.KindDone:     {Status: actions.StatusDone, Message: "task complete"},
		},
		html: `<html><body><h1>Stub</h1></body></html>`,
	}
}

func (s *stubDriver) Execute(_ context.Context, d actions.Descriptor) (actions.Result, error) {
	s.mu.Lock()
	s.executed = append(s.executed, d)
	s.mu.Unlock()
	if s.execErr != nil {
		return actions.Result{Status: actions.StatusError, Message: s.execErr.Error()}, s.execErr
	}
	if res, ok := s.results[d.Type]; ok {
		return res, nil
	}
	return actions.Result{Status: actions.StatusError, Message: "unscripted action"}, nil
}

func (s *stubDriver) CaptureScreenshot(_ context.Context, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("jpeg"), 0644)
}

func (s *stubDriver) PageURL(context.Context) (string, error)   { return "https://example.com", nil }
func (s *stubDriver) PageTitle(context.Context) (string, error) { return "Stub", nil }
func (s *stubDriver) PageHTML(context.Context) (string, error)  { return s.html, nil }

func (s *stubDriver) executedKinds() []actions.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]actions.Kind, len(s.executed))
	for i, d := range s.executed {
		kinds[i] = d.Type
	}
	return kinds
}

// queueSource hands out pre-scripted batches, then times out.
type queueSource struct {
	mu      sync.Mutex
	batches []*Batch
}

func (q *queueSource) Await(ctx context.Context, timeout time.Duration) (*Batch, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.batches) == 0 {
		return nil, ErrDecisionTimeout
	}
	b := q.batches[0]
	q.batches = q.batches[1:]
	return b, nil
}

func testConfig(t *testing.T) Config {
	dir := t.TempDir()
	return Config{
		StateFile:      filepath.Join(dir, "browser_state.json"),
		ScreenshotsDir: filepath.Join(dir, "screenshots"),
		MaxIterations:  5,
		DecisionWait:   50 * time.Millisecond,
	}
}

func TestRunCompletes(t *testing.T) {
	drv := newStubDriver()
	src := &queueSource{batches: []*Batch{
		{Thinking: "go to the page", Actions: []actions.Descriptor{
			{Type: actions.KindNavigate, URL: "https://example.com"},
		}},
		{Thinking: "finish", Actions: []actions.Descriptor{
			{Type: actions.KindDone},
		}},
	}}
	cfg := testConfig(t)
	c := NewCoordinator(drv, src, cfg, nil)

	reason, err := c.Run(context.Background(), "visit example")
	require.NoError(t, err)
	assert.Equal(t, ReasonCompleted, reason)
	assert.Equal(t, 2, c.Iterations())
	assert.Equal(t, []actions.Kind{actions.KindNavigate, actions.KindDone}, drv.executedKinds())

	history := c.History()
	require.Len(t, history, 2)
	assert.Equal(t, "go to the page", history[0].Thinking)
	require.Len(t, history[1].Executed, 1)
	assert.Equal(t, actions.StatusDone, history[1].Executed[0].Result.Status)

	// Final snapshot re-uses the terminating iteration number.
	snap, err := ReadSnapshot(cfg.StateFile)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Iteration)
	assert.Equal(t, "visit example", snap.Task)
	assert.Equal(t, "https://example.com", snap.URL)
	require.Len(t, snap.Elements.Headings, 1)
	assert.Equal(t, "Stub", snap.Elements.Headings[0].Text)
}

func TestRunDoneShortCircuitsBatch(t *testing.T) {
	drv := newStubDriver()
	src := &queueSource{batches: []*Batch{
		{Actions: []actions.Descriptor{
			{Type: actions.KindDone},
			{Type: actions.KindClick, Selector: "#never"},
		}},
	}}
	c := NewCoordinator(drv, src, testConfig(t), nil)

	reason, err := c.Run(context.Background(), "finish early")
	require.NoError(t, err)
	assert.Equal(t, ReasonCompleted, reason)
	assert.Equal(t, []actions.Kind{actions.KindDone}, drv.executedKinds(),
		"actions after done must not execute")
}

func TestRunTimesOutOnSilentSource(t *testing.T) {
	drv := newStubDriver()
	cfg := testConfig(t)
	c := NewCoordinator(drv, &queueSource{}, cfg, nil)

	reason, err := c.Run(context.Background(), "nobody answers")
	require.NoError(t, err)
	assert.Equal(t, ReasonTimeout, reason)
	assert.Equal(t, 1, c.Iterations())
	assert.Empty(t, drv.executedKinds())

	snap, err := ReadSnapshot(cfg.StateFile)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Iteration)
}

func TestRunExhaustsIterationCeiling(t *testing.T) {
	drv := newStubDriver()
	src := &queueSource{}
	for i := 0; i < 10; i++ {
		src.batches = append(src.batches, &Batch{Actions: []actions.Descriptor{
			{Type: actions.KindClick, Selector: "#more"},
		}})
	}
	cfg := testConfig(t)
	cfg.MaxIterations = 3
	c := NewCoordinator(drv, src, cfg, nil)

	reason, err := c.Run(context.Background(), "never done")
	require.NoError(t, err)
	assert.Equal(t, ReasonExhausted, reason)
	assert.Equal(t, 3, c.Iterations())
	assert.Len(t, drv.executedKinds(), 3)
}

func TestRunFatalOnTransportFailure(t *testing.T) {
	drv := newStubDriver()
	drv.execErr = &cdp.TransportError{Op: "write", Err: os.ErrClosed}
	src := &queueSource{batches: []*Batch{
		{Actions: []actions.Descriptor{{Type: actions.KindClick, Selector: "#x"}}},
	}}
	c := NewCoordinator(drv, src, testConfig(t), nil)

	reason, err := c.Run(context.Background(), "doomed")
	assert.Equal(t, ReasonFatal, reason)
	require.Error(t, err)
	assert.True(t, cdp.IsConnectionError(err))

	// The failing result is still recorded.
	history := c.History()
	require.Len(t, history, 1)
	require.Len(t, history[0].Executed, 1)
	assert.Equal(t, actions.StatusError, history[0].Executed[0].Result.Status)
}

func TestRunContinuesPastActionErrors(t *testing.T) {
	drv := newStubDriver()
	src := &queueSource{batches: []*Batch{
		{Actions: []actions.Descriptor{
			{Type: actions.KindClick, Selector: "#broken"},
			{Type: actions.KindNavigate, URL: "https://example.com"},
		}},
		{Actions: []actions.Descriptor{{Type: actions.KindDone}}},
	}}
	drv.results[actions.KindClick] = actions.Result{Status: actions.StatusError, Message: "element not found"}
	c := NewCoordinator(drv, src, testConfig(t), nil)

	reason, err := c.Run(context.Background(), "resilient")
	require.NoError(t, err)
	assert.Equal(t, ReasonCompleted, reason)
	assert.Equal(t, []actions.Kind{actions.KindClick, actions.KindNavigate, actions.KindDone},
		drv.executedKinds(), "an error result must not stop the batch")

	history := c.History()
	require.Len(t, history, 2)
	assert.Equal(t, actions.StatusError, history[0].Executed[0].Result.Status)
	assert.Equal(t, actions.StatusSuccess, history[0].Executed[1].Result.Status)
}

func TestRunWritesScreenshotPerIteration(t *testing.T) {
	drv := newStubDriver()
	src := &queueSource{batches: []*Batch{
		{Actions: []actions.Descriptor{{Type: actions.KindNavigate, URL: "https://example.com"}}},
		{Actions: []actions.Descriptor{{Type: actions.KindDone}}},
	}}
	cfg := testConfig(t)
	c := NewCoordinator(drv, src, cfg, nil)

	_, err := c.Run(context.Background(), "screenshots")
	require.NoError(t, err)

	for _, name := range []string{"001.jpg", "002.jpg"} {
		_, err := os.Stat(filepath.Join(cfg.ScreenshotsDir, name))
		assert.NoError(t, err, "missing %s", name)
	}
}
