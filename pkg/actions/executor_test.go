package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/chauffeur/pkg/cdp"
)

// fakeCommander scripts protocol responses per method and records the call
// sequence.
type fakeCommander struct {
	mu     sync.Mutex
	calls  []string
	params []any
	handle func(method string, params any) (json.RawMessage, error)
}

func (f *fakeCommander) Send(_ context.Context, method string, params any, _ time.Duration) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, method)
	f.params = append(f.params, params)
	f.mu.Unlock()
	return f.handle(method, params)
}

func (f *fakeCommander) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == method {
			n++
		}
	}
	return n
}

func evalResult(value string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"result": {"value": %s}}`, value))
}

func expressionOf(params any) string {
	m, ok := params.(map[string]any)
	if !ok {
		return ""
	}
	expr, _ := m["expression"].(string)
	return expr
}

// geometryCommander answers the structural click chain with a box centered at
// (20, 15).
func geometryCommander() *fakeCommander {
	f := &fakeCommander{}
	f.handle = func(method string, params any) (json.RawMessage, error) {
		switch method {
		case "DOM.getDocument":
			return json.RawMessage(`{"root": {"nodeId": 1}}`), nil
		case "DOM.querySelector":
			return json.RawMessage(`{"nodeId": 42}`), nil
		case "DOM.getBoxModel":
			return json.RawMessage(`{"model": {"content": [10, 10, 30, 10, 30, 20, 10, 20]}}`), nil
		default:
			return json.RawMessage(`{}`), nil
		}
	}
	return f
}

func TestClickUsesBoxModelCenter(t *testing.T) {
	f := geometryCommander()
	e := NewExecutor(f, Config{}, nil)

	require.NoError(t, e.Click(context.Background(), "#submit"))

	assert.Equal(t, 2, f.callCount("Input.dispatchMouseEvent"), "press and release")
	assert.Zero(t, f.callCount("Runtime.evaluate"), "geometry success must not fall back")

	// Both pointer events land on the computed center.
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, method := range f.calls {
		if method != "Input.dispatchMouseEvent" {
			continue
		}
		p := f.params[i].(map[string]any)
		assert.Equal(t, 20, p["x"])
		assert.Equal(t, 15, p["y"])
	}
}

func TestClickFallsBackToScriptedClick(t *testing.T) {
	f := &fakeCommander{}
	f.handle = func(method string, params any) (json.RawMessage, error) {
		switch method {
		case "DOM.getDocument":
			return json.RawMessage(`{"root": {"nodeId": 1}}`), nil
		case "DOM.querySelector":
			return nil, &cdp.ProtocolError{Method: method, Message: "no node"}
		case "Runtime.evaluate":
			return evalResult("true"), nil
		default:
			return json.RawMessage(`{}`), nil
		}
	}
	e := NewExecutor(f, Config{}, nil)

	require.NoError(t, e.Click(context.Background(), ".btn"))
	require.Equal(t, 1, f.callCount("Runtime.evaluate"))
	assert.Zero(t, f.callCount("Input.dispatchMouseEvent"))
}

func TestClickNotFoundEitherWay(t *testing.T) {
	f := &fakeCommander{}
	f.handle = func(method string, params any) (json.RawMessage, error) {
		switch method {
		case "DOM.getDocument":
			return json.RawMessage(`{"root": {"nodeId": 1}}`), nil
		case "DOM.querySelector":
			return json.RawMessage(`{"nodeId": 0}`), nil
		case "Runtime.evaluate":
			return evalResult("false"), nil
		default:
			return json.RawMessage(`{}`), nil
		}
	}
	e := NewExecutor(f, Config{}, nil)

	err := e.Click(context.Background(), "#missing")
	var actionErr *ActionError
	require.ErrorAs(t, err, &actionErr)
	assert.Contains(t, actionErr.Message, "element not found")
}

func TestClickConnectionErrorDoesNotFallBack(t *testing.T) {
	f := &fakeCommander{}
	f.handle = func(method string, params any) (json.RawMessage, error) {
		return nil, cdp.ErrConnectionClosed
	}
	e := NewExecutor(f, Config{}, nil)

	err := e.Click(context.Background(), "#submit")
	assert.True(t, cdp.IsConnectionError(err))
	assert.Zero(t, f.callCount("Runtime.evaluate"))
}

func TestTypeTextViaInputPipeline(t *testing.T) {
	f := geometryCommander()
	e := NewExecutor(f, Config{}, nil)

	require.NoError(t, e.TypeText(context.Background(), "#email", "user@example.com"))

	// Click to focus, then select-all + delete, then insert.
	assert.Equal(t, 2, f.callCount("Input.dispatchMouseEvent"))
	assert.Equal(t, 4, f.callCount("Input.dispatchKeyEvent"))
	require.Equal(t, 1, f.callCount("Input.insertText"))
	assert.Zero(t, f.callCount("Runtime.evaluate"))
}

func TestTypeTextFallsBackToScriptedAssignment(t *testing.T) {
	f := &fakeCommander{}
	f.handle = func(method string, params any) (json.RawMessage, error) {
		switch method {
		case "DOM.getDocument":
			return nil, &cdp.ProtocolError{Method: method, Message: "not available"}
		case "Runtime.evaluate":
			expr := expressionOf(params)
			if strings.Contains(expr, "el.click()") {
				// Scripted click inside the focus chain fails too.
				return evalResult("false"), nil
			}
			return evalResult("true"), nil
		default:
			return json.RawMessage(`{}`), nil
		}
	}
	e := NewExecutor(f, Config{}, nil)

	require.NoError(t, e.TypeText(context.Background(), "#email", "fallback"))
	assert.Zero(t, f.callCount("Input.insertText"))
	assert.GreaterOrEqual(t, f.callCount("Runtime.evaluate"), 2)
}

func TestEvaluateException(t *testing.T) {
	f := &fakeCommander{}
	f.handle = func(method string, params any) (json.RawMessage, error) {
		return json.RawMessage(`{
			"exceptionDetails": {
				"text": "Uncaught",
				"exception": {"description": "ReferenceError: nope is not defined"}
			}
		}`), nil
	}
	e := NewExecutor(f, Config{}, nil)

	_, err := e.Evaluate(context.Background(), "nope()")
	var actionErr *ActionError
	require.ErrorAs(t, err, &actionErr)
	assert.Contains(t, actionErr.Message, "ReferenceError")
}

func TestExecuteReportsActionFailureInResult(t *testing.T) {
	f := &fakeCommander{}
	f.handle = func(method string, params any) (json.RawMessage, error) {
		return nil, &cdp.ProtocolError{Method: method, Message: "boom"}
	}
	e := NewExecutor(f, Config{}, nil)

	res, err := e.Execute(context.Background(), Descriptor{Type: KindReload})
	require.NoError(t, err, "action-level failures never surface as errors")
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Message, "boom")
}

func TestExecutePropagatesConnectionError(t *testing.T) {
	f := &fakeCommander{}
	f.handle = func(method string, params any) (json.RawMessage, error) {
		return nil, cdp.ErrConnectionClosed
	}
	e := NewExecutor(f, Config{}, nil)

	res, err := e.Execute(context.Background(), Descriptor{Type: KindReload})
	require.Error(t, err)
	assert.True(t, cdp.IsConnectionError(err))
	assert.Equal(t, StatusError, res.Status)
}

func TestExecuteDone(t *testing.T) {
	f := &fakeCommander{}
	f.handle = func(method string, params any) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	}
	e := NewExecutor(f, Config{}, nil)

	res, err := e.Execute(context.Background(), Descriptor{Type: KindDone})
	require.NoError(t, err)
	assert.Equal(t, StatusDone, res.Status)
	assert.Zero(t, f.callCount("Runtime.evaluate"), "done needs no protocol traffic")
}

func TestExecuteUnknownAction(t *testing.T) {
	f := &fakeCommander{}
	f.handle = func(method string, params any) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	}
	e := NewExecutor(f, Config{}, nil)

	res, err := e.Execute(context.Background(), Descriptor{Type: Kind("teleport")})
	require.NoError(t, err)
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Message, "unknown action")
}

func TestWaitForSelectorPollsUntilFound(t *testing.T) {
	var attempts int
	f := &fakeCommander{}
	f.handle = func(method string, params any) (json.RawMessage, error) {
		attempts++
		if attempts < 3 {
			return evalResult("false"), nil
		}
		return evalResult("true"), nil
	}
	e := NewExecutor(f, Config{PollInterval: time.Millisecond}, nil)

	found, err := e.WaitForSelector(context.Background(), ".late", time.Second)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 3, attempts)
}

func TestWaitForSelectorTimesOutAsNotFound(t *testing.T) {
	f := &fakeCommander{}
	f.handle = func(method string, params any) (json.RawMessage, error) {
		return evalResult("false"), nil
	}
	e := NewExecutor(f, Config{PollInterval: time.Millisecond}, nil)

	found, err := e.WaitForSelector(context.Background(), ".never", 20*time.Millisecond)
	require.NoError(t, err, "absence is a result, not an error")
	assert.False(t, found)
}

func TestCaptureScreenshotWritesDecodedImage(t *testing.T) {
	f := &fakeCommander{}
	f.handle = func(method string, params any) (json.RawMessage, error) {
		// base64 of "jpegdata"
		return json.RawMessage(`{"data": "anBlZ2RhdGE="}`), nil
	}
	e := NewExecutor(f, Config{ScreenshotQuality: 60}, nil)

	path := filepath.Join(t.TempDir(), "shots", "001.jpg")
	require.NoError(t, e.CaptureScreenshot(context.Background(), path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "jpegdata", string(data))

	// Quality knob travels with the command.
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.params[0].(map[string]any)
	assert.Equal(t, 60, p["quality"])
}

func TestDismissPopupsCountsMatches(t *testing.T) {
	f := &fakeCommander{}
	f.handle = func(method string, params any) (json.RawMessage, error) {
		expr := expressionOf(params)
		if strings.Contains(expr, "Accept all") || strings.Contains(expr, `aria-label="Close"`) {
			return evalResult("true"), nil
		}
		return evalResult("false"), nil
	}
	e := NewExecutor(f, Config{}, nil)

	n, err := e.DismissPopups(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestNavigateRequiresURL(t *testing.T) {
	f := &fakeCommander{}
	f.handle = func(method string, params any) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	}
	e := NewExecutor(f, Config{}, nil)

	err := e.Navigate(context.Background(), "")
	var actionErr *ActionError
	require.ErrorAs(t, err, &actionErr)
	assert.Zero(t, f.callCount("Page.navigate"))
}
