// Package taskloop drives the bounded capture / await-decision / execute
// cycle against an external decision source.
package taskloop

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/chauffeur/pkg/actions"
	"github.com/odvcencio/chauffeur/pkg/cdp"
	"github.com/odvcencio/chauffeur/pkg/logging"
)

// Reason explains why a task run terminated.
type Reason string

const (
	// ReasonCompleted: an action reported done.
	ReasonCompleted Reason = "completed"
	// ReasonTimeout: the decision source never answered within the wait.
	ReasonTimeout Reason = "timeout"
	// ReasonFatal: the transport failed; nothing further can execute.
	ReasonFatal Reason = "fatal"
	// ReasonExhausted: the iteration ceiling was reached.
	ReasonExhausted Reason = "exhausted"
)

// Driver is what the coordinator needs from the action library.
// *actions.Executor satisfies it.
type Driver interface {
	Execute(ctx context.Context, d actions.Descriptor) (actions.Result, error)
	CaptureScreenshot(ctx context.Context, path string) error
	PageURL(ctx context.Context) (string, error)
	PageTitle(ctx context.Context) (string, error)
	PageHTML(ctx context.Context) (string, error)
}

// Config tunes one coordinator.
type Config struct {
	StateFile      string
	ScreenshotsDir string
	MaxIterations  int
	DecisionWait   time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 10
	}
	if c.DecisionWait <= 0 {
		c.DecisionWait = 2 * time.Minute
	}
	return c
}

// ExecutedAction pairs one descriptor with the result it produced.
type ExecutedAction struct {
	Action actions.Descriptor `json:"action"`
	Result actions.Result     `json:"result"`
}

// IterationRecord is the executed-actions record of one iteration. Every
// error result lands here; none are dropped.
type IterationRecord struct {
	Iteration int              `json:"iteration"`
	Thinking  string           `json:"thinking,omitempty"`
	Executed  []ExecutedAction `json:"executed"`
}

// Coordinator runs the task state machine:
// CAPTURE -> AWAIT_DECISION -> EXECUTE -> (CAPTURE | TERMINATED),
// bounded by an iteration ceiling and a per-iteration decision wait.
type Coordinator struct {
	drv       Driver
	decisions DecisionSource
	cfg       Config
	log       *logging.Logger

	iteration int
	history   []IterationRecord
}

// NewCoordinator creates a coordinator.
func NewCoordinator(drv Driver, decisions DecisionSource, cfg Config, log *logging.Logger) *Coordinator {
	return &Coordinator{
		drv:       drv,
		decisions: decisions,
		cfg:       cfg.withDefaults(),
		log:       log,
	}
}

// History returns the per-iteration executed-actions records.
func (c *Coordinator) History() []IterationRecord {
	out := make([]IterationRecord, len(c.history))
	copy(out, c.history)
	return out
}

// Iterations returns how many iterations have started.
func (c *Coordinator) Iterations() int {
	return c.iteration
}

// Run drives the loop until done, timeout, transport failure, or the
// iteration ceiling. A final snapshot is always captured on termination,
// re-using the current iteration number so snapshot iterations stay
// monotonic and count the loop's real iterations.
func (c *Coordinator) Run(ctx context.Context, task string) (Reason, error) {
	reason := ReasonExhausted
	var fatal error

loop:
	for i := 1; i <= c.cfg.MaxIterations; i++ {
		c.iteration = i
		metricIterations.Inc()

		if err := c.capture(ctx, task, i); err != nil {
			reason = ReasonFatal
			fatal = err
			break
		}

		batch, err := c.decisions.Await(ctx, c.cfg.DecisionWait)
		if err != nil {
			if errors.Is(err, ErrDecisionTimeout) {
				reason = ReasonTimeout
			} else {
				reason = ReasonFatal
				fatal = err
			}
			break
		}

		rec := IterationRecord{Iteration: i, Thinking: batch.Thinking}
		for _, action := range batch.Actions {
			res, execErr := c.drv.Execute(ctx, action)
			rec.Executed = append(rec.Executed, ExecutedAction{Action: action, Result: res})
			metricActions.WithLabelValues(string(res.Status)).Inc()

			if execErr != nil {
				c.history = append(c.history, rec)
				reason = ReasonFatal
				fatal = execErr
				break loop
			}
			if res.Status == actions.StatusDone {
				c.history = append(c.history, rec)
				reason = ReasonCompleted
				break loop
			}
			if res.Status == actions.StatusError && c.log != nil {
				c.log.WithIteration(i).Warn("action failed",
					"action", string(action.Type),
					"message", res.Message,
				)
			}
		}
		c.history = append(c.history, rec)
	}

	// Termination snapshot. A lost transport makes it pointless.
	if reason != ReasonFatal || !cdp.IsConnectionError(fatal) {
		if err := c.capture(ctx, task, max(c.iteration, 1)); err != nil && c.log != nil {
			c.log.Warn("final capture failed", "error", err.Error())
		}
	}

	metricTerminations.WithLabelValues(string(reason)).Inc()
	if c.log != nil {
		c.log.LoopTerminated(string(reason), c.iteration)
	}
	return reason, fatal
}

// capture assembles and atomically writes one BrowserStateSnapshot. Page
// metadata reads run concurrently; individual failures degrade the snapshot
// rather than aborting it unless the transport is gone.
func (c *Coordinator) capture(ctx context.Context, task string, iteration int) error {
	screenshotPath := filepath.Join(c.cfg.ScreenshotsDir, fmt.Sprintf("%03d.jpg", iteration))

	var url, title, html string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.captureField(gctx, &url, c.drv.PageURL)
	})
	g.Go(func() error {
		return c.captureField(gctx, &title, c.drv.PageTitle)
	})
	g.Go(func() error {
		return c.captureField(gctx, &html, c.drv.PageHTML)
	})
	g.Go(func() error {
		err := c.drv.CaptureScreenshot(gctx, screenshotPath)
		if cdp.IsConnectionError(err) {
			return err
		}
		if err != nil {
			screenshotPath = ""
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	inventory, err := ExtractInventory(html)
	if err != nil {
		inventory = Inventory{}
	}

	snap := &Snapshot{
		Iteration:  iteration,
		Timestamp:  time.Now(),
		Task:       task,
		URL:        url,
		Title:      title,
		Screenshot: screenshotPath,
		Elements:   inventory,
	}
	if err := WriteSnapshot(c.cfg.StateFile, snap); err != nil {
		return err
	}
	metricSnapshotWrites.Inc()
	if c.log != nil {
		c.log.StateCaptured(iteration, url)
	}
	return nil
}

// captureField stores a page attribute best-effort: only a dead transport
// propagates as an error.
func (c *Coordinator) captureField(ctx context.Context, dst *string, fetch func(context.Context) (string, error)) error {
	value, err := fetch(ctx)
	if cdp.IsConnectionError(err) {
		return err
	}
	if err == nil {
		*dst = value
	}
	return nil
}
