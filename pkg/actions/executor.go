package actions

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/odvcencio/chauffeur/pkg/cdp"
	"github.com/odvcencio/chauffeur/pkg/logging"
)

// Commander is the correlator primitive the action library is built on.
// *cdp.Channel satisfies it; tests substitute scripted transports.
type Commander interface {
	Send(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error)
}

// Config tunes the action library.
type Config struct {
	CommandTimeout    time.Duration
	NavigateSettle    time.Duration
	PollInterval      time.Duration
	ScreenshotQuality int
	ArtifactDir       string
}

func (c Config) withDefaults() Config {
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 30 * time.Second
	}
	if c.NavigateSettle <= 0 {
		c.NavigateSettle = 2 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.ScreenshotQuality <= 0 {
		c.ScreenshotQuality = 80
	}
	return c
}

// Executor runs high-level browser actions over a Commander.
type Executor struct {
	cmd Commander
	cfg Config
	log *logging.Logger
}

// NewExecutor creates an executor.
func NewExecutor(cmd Commander, cfg Config, log *logging.Logger) *Executor {
	return &Executor{cmd: cmd, cfg: cfg.withDefaults(), log: log}
}

// Execute runs one descriptor and produces its Result. The returned error is
// non-nil only for transport-fatal failures; every other failure is reported
// in the Result with status error.
func (e *Executor) Execute(ctx context.Context, d Descriptor) (Result, error) {
	res, err := e.execute(ctx, d)
	if err != nil {
		if cdp.IsConnectionError(err) {
			return Result{Status: StatusError, Message: err.Error()}, err
		}
		res = Result{Status: StatusError, Message: err.Error()}
	}
	if e.log != nil {
		e.log.ActionExecuted(string(d.Type), string(res.Status), res.Message)
	}
	return res, nil
}

func (e *Executor) execute(ctx context.Context, d Descriptor) (Result, error) {
	switch d.Type {
	case KindNavigate:
		if err := e.Navigate(ctx, d.URL); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusSuccess, Message: fmt.Sprintf("navigated to %s", d.URL)}, nil

	case KindClick:
		if err := e.Click(ctx, d.Selector); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusSuccess, Message: fmt.Sprintf("clicked %s", d.Selector)}, nil

	case KindClickPixel, KindMouseClick:
		if err := e.ClickPixel(ctx, d.X, d.Y); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusSuccess, Message: fmt.Sprintf("clicked (%d, %d)", d.X, d.Y)}, nil

	case KindType:
		if err := e.TypeText(ctx, d.Selector, d.Text); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusSuccess, Message: fmt.Sprintf("typed %q", truncateText(d.Text, 20))}, nil

	case KindPress:
		key := d.Key
		if key == "" {
			key = "Enter"
		}
		if err := e.Press(ctx, key); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusSuccess, Message: fmt.Sprintf("pressed %s", key)}, nil

	case KindEvaluate:
		value, err := e.Evaluate(ctx, d.Code)
		if err != nil {
			return Result{}, err
		}
		return Result{Status: StatusSuccess, Message: fmt.Sprintf("evaluated: %s", truncateText(string(value), 100))}, nil

	case KindScreenshot:
		name := d.Name
		if name == "" {
			name = "manual"
		}
		path := filepath.Join(e.cfg.ArtifactDir, "screenshots", name+".jpg")
		if err := e.CaptureScreenshot(ctx, path); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusSuccess, Message: fmt.Sprintf("screenshot: %s", path)}, nil

	case KindScroll:
		amount := d.Amount
		if amount == 0 {
			amount = 300
		}
		if d.Direction == "up" {
			amount = -amount
		}
		if err := e.Scroll(ctx, d.X, amount); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusSuccess, Message: fmt.Sprintf("scrolled by %d", amount)}, nil

	case KindWait:
		ms := d.Amount
		if ms <= 0 {
			ms = 500
		}
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
		return Result{Status: StatusSuccess, Message: fmt.Sprintf("waited %dms", ms)}, nil

	case KindWaitForSelector:
		timeout := time.Duration(d.TimeoutMs) * time.Millisecond
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		found, err := e.WaitForSelector(ctx, d.Selector, timeout)
		if err != nil {
			return Result{}, err
		}
		if !found {
			return Result{Status: StatusError, Message: fmt.Sprintf("selector %s not found within %s", d.Selector, timeout)}, nil
		}
		return Result{Status: StatusSuccess, Message: fmt.Sprintf("found selector: %s", d.Selector)}, nil

	case KindSetViewport:
		width, height := d.Width, d.Height
		if width == 0 {
			width = 1280
		}
		if height == 0 {
			height = 720
		}
		if err := e.SetViewport(ctx, width, height); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusSuccess, Message: fmt.Sprintf("viewport set to %dx%d", width, height)}, nil

	case KindDismissCookies:
		n, err := e.DismissPopups(ctx)
		if err != nil {
			return Result{}, err
		}
		return Result{Status: StatusSuccess, Message: fmt.Sprintf("dismissed %d popup(s)", n)}, nil

	case KindGoBack:
		if _, err := e.Evaluate(ctx, "history.back()"); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusSuccess, Message: "went back"}, nil

	case KindGoForward:
		if _, err := e.Evaluate(ctx, "history.forward()"); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusSuccess, Message: "went forward"}, nil

	case KindReload:
		if _, err := e.send(ctx, "Page.reload", nil); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusSuccess, Message: "page reloaded"}, nil

	case KindGetDOM:
		html, err := e.PageHTML(ctx)
		if err != nil {
			return Result{}, err
		}
		path := filepath.Join(e.cfg.ArtifactDir, "page_dom.html")
		if err := writeArtifact(path, []byte(html)); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusSuccess, Message: fmt.Sprintf("dom saved: %s (%d chars)", path, len(html))}, nil

	case KindGetPageText:
		text, err := e.EvaluateString(ctx, "document.body.innerText")
		if err != nil {
			return Result{}, err
		}
		path := filepath.Join(e.cfg.ArtifactDir, "page_text.txt")
		if err := writeArtifact(path, []byte(text)); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusSuccess, Message: fmt.Sprintf("text saved: %d chars", len(text))}, nil

	case KindSelectOption:
		if err := e.SelectOption(ctx, d.Selector, d.Value); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusSuccess, Message: fmt.Sprintf("selected %s", d.Value)}, nil

	case KindFocus:
		if err := e.focusBySelector(ctx, d.Selector); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusSuccess, Message: fmt.Sprintf("focused: %s", d.Selector)}, nil

	case KindHover:
		if err := e.Hover(ctx, d.Selector); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusSuccess, Message: fmt.Sprintf("hovered: %s", d.Selector)}, nil

	case KindMouseMove:
		if err := e.dispatchMouse(ctx, "mouseMoved", d.X, d.Y, 0); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusSuccess, Message: fmt.Sprintf("mouse moved to (%d, %d)", d.X, d.Y)}, nil

	case KindMouseDrag:
		if err := e.Drag(ctx, d.X, d.Y, d.X2, d.Y2); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusSuccess, Message: fmt.Sprintf("dragged (%d,%d) to (%d,%d)", d.X, d.Y, d.X2, d.Y2)}, nil

	case KindCDPSend:
		raw, err := e.send(ctx, d.Method, d.Params)
		if err != nil {
			return Result{}, err
		}
		return Result{Status: StatusSuccess, Message: fmt.Sprintf("%s: %s", d.Method, truncateText(string(raw), 100))}, nil

	case KindDone:
		return Result{Status: StatusDone, Message: "task complete"}, nil

	default:
		return Result{}, &ActionError{Op: "execute", Message: fmt.Sprintf("unknown action: %s", d.Type)}
	}
}

func (e *Executor) send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return e.cmd.Send(ctx, method, params, e.cfg.CommandTimeout)
}

// Navigate issues a navigation command and waits a bounded settle interval.
// The settle wait is a coarse substitute for load completion, never
// indefinite.
func (e *Executor) Navigate(ctx context.Context, url string) error {
	if url == "" {
		return &ActionError{Op: "navigate", Message: "url is required"}
	}
	if _, err := e.send(ctx, "Page.navigate", map[string]any{"url": url}); err != nil {
		return err
	}
	select {
	case <-time.After(e.cfg.NavigateSettle):
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Evaluate executes script in-page with by-value serialization and returns
// the raw result value. An in-page exception surfaces as an ActionError.
func (e *Executor) Evaluate(ctx context.Context, expression string) (json.RawMessage, error) {
	raw, err := e.send(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expression,
		"returnByValue": true,
		"awaitPromise":  true,
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Result struct {
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text      string `json:"text"`
			Exception *struct {
				Description string `json:"description"`
			} `json:"exception"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &ActionError{Op: "evaluate", Message: fmt.Sprintf("malformed evaluate result: %v", err)}
	}
	if exc := parsed.ExceptionDetails; exc != nil {
		msg := exc.Text
		if exc.Exception != nil && exc.Exception.Description != "" {
			msg = exc.Exception.Description
		}
		if msg == "" {
			msg = "script error"
		}
		return nil, &ActionError{Op: "evaluate", Message: msg}
	}
	return parsed.Result.Value, nil
}

// EvaluateString evaluates an expression expected to yield a string.
func (e *Executor) EvaluateString(ctx context.Context, expression string) (string, error) {
	value, err := e.Evaluate(ctx, expression)
	if err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		return strings.Trim(string(value), `"`), nil
	}
	return s, nil
}

func (e *Executor) evaluateBool(ctx context.Context, expression string) (bool, error) {
	value, err := e.Evaluate(ctx, expression)
	if err != nil {
		return false, err
	}
	var b bool
	if err := json.Unmarshal(value, &b); err != nil {
		return false, nil
	}
	return b, nil
}

// Click resolves the element structurally, computes its box-model center,
// and synthesizes pointer events there. Any failure in that chain falls back
// to a scripted click on the first match; no match either way reports
// element-not-found.
func (e *Executor) Click(ctx context.Context, selector string) error {
	if selector == "" {
		return &ActionError{Op: "click", Message: "selector is required"}
	}
	x, y, err := e.elementCenter(ctx, selector)
	if err == nil {
		return e.ClickPixel(ctx, x, y)
	}
	if cdp.IsConnectionError(err) {
		return err
	}
	return e.scriptedClick(ctx, selector)
}

// elementCenter finds the center of a selector's box model in viewport
// coordinates.
func (e *Executor) elementCenter(ctx context.Context, selector string) (int, int, error) {
	doc, err := e.send(ctx, "DOM.getDocument", nil)
	if err != nil {
		return 0, 0, err
	}
	var docParsed struct {
		Root struct {
			NodeID int `json:"nodeId"`
		} `json:"root"`
	}
	if err := json.Unmarshal(doc, &docParsed); err != nil || docParsed.Root.NodeID == 0 {
		return 0, 0, &ActionError{Op: "click", Message: "document unavailable"}
	}

	node, err := e.send(ctx, "DOM.querySelector", map[string]any{
		"nodeId":   docParsed.Root.NodeID,
		"selector": selector,
	})
	if err != nil {
		return 0, 0, err
	}
	var nodeParsed struct {
		NodeID int `json:"nodeId"`
	}
	if err := json.Unmarshal(node, &nodeParsed); err != nil || nodeParsed.NodeID == 0 {
		return 0, 0, &ActionError{Op: "click", Message: fmt.Sprintf("no structural match for %s", selector)}
	}

	box, err := e.send(ctx, "DOM.getBoxModel", map[string]any{"nodeId": nodeParsed.NodeID})
	if err != nil {
		return 0, 0, err
	}
	var boxParsed struct {
		Model struct {
			Content []float64 `json:"content"`
		} `json:"model"`
	}
	if err := json.Unmarshal(box, &boxParsed); err != nil || len(boxParsed.Model.Content) < 8 {
		return 0, 0, &ActionError{Op: "click", Message: "box model unavailable"}
	}

	quad := boxParsed.Model.Content
	x := (quad[0] + quad[2] + quad[4] + quad[6]) / 4
	y := (quad[1] + quad[3] + quad[5] + quad[7]) / 4
	return int(x), int(y), nil
}

func (e *Executor) scriptedClick(ctx context.Context, selector string) error {
	clicked, err := e.evaluateBool(ctx, fmt.Sprintf(`(() => {
		const el = document.querySelector("%s");
		if (el) { el.click(); return true; }
		return false;
	})()`, jsEscape(selector)))
	if err != nil {
		return err
	}
	if !clicked {
		return &ActionError{Op: "click", Message: ErrElementNotFound.Error()}
	}
	return nil
}

// ClickPixel synthesizes a press/release pair at viewport coordinates.
func (e *Executor) ClickPixel(ctx context.Context, x, y int) error {
	if err := e.dispatchMouse(ctx, "mousePressed", x, y, 1); err != nil {
		return err
	}
	return e.dispatchMouse(ctx, "mouseReleased", x, y, 1)
}

func (e *Executor) dispatchMouse(ctx context.Context, kind string, x, y, clickCount int) error {
	params := map[string]any{
		"type":   kind,
		"x":      x,
		"y":      y,
		"button": "left",
	}
	if clickCount > 0 {
		params["clickCount"] = clickCount
	}
	_, err := e.send(ctx, "Input.dispatchMouseEvent", params)
	return err
}

// TypeText focuses the target via the click chain, clears existing content
// with synthesized select-all and delete, and inserts the text through the
// input pipeline so the page sees the same events a keystroke would. Any
// failure falls back to a scripted value assignment that dispatches
// input/change directly.
func (e *Executor) TypeText(ctx context.Context, selector, text string) error {
	if selector == "" {
		return &ActionError{Op: "type", Message: "selector is required"}
	}
	err := e.typeViaInput(ctx, selector, text)
	if err == nil {
		return nil
	}
	if cdp.IsConnectionError(err) {
		return err
	}
	return e.scriptedType(ctx, selector, text)
}

func (e *Executor) typeViaInput(ctx context.Context, selector, text string) error {
	if err := e.Click(ctx, selector); err != nil {
		return err
	}

	// Select-all + delete clears whatever the field held.
	for _, ev := range []map[string]any{
		{"type": "keyDown", "key": "a", "modifiers": 2},
		{"type": "keyUp", "key": "a", "modifiers": 2},
		{"type": "keyDown", "key": "Backspace"},
		{"type": "keyUp", "key": "Backspace"},
	} {
		if _, err := e.send(ctx, "Input.dispatchKeyEvent", ev); err != nil {
			return err
		}
	}

	_, err := e.send(ctx, "Input.insertText", map[string]any{"text": text})
	return err
}

func (e *Executor) scriptedType(ctx context.Context, selector, text string) error {
	set, err := e.evaluateBool(ctx, fmt.Sprintf(`(() => {
		const el = document.querySelector("%s");
		if (el) {
			el.focus();
			el.value = "%s";
			el.dispatchEvent(new Event("input", {bubbles: true}));
			el.dispatchEvent(new Event("change", {bubbles: true}));
			return true;
		}
		return false;
	})()`, jsEscape(selector), jsEscape(text)))
	if err != nil {
		return err
	}
	if !set {
		return &ActionError{Op: "type", Message: ErrElementNotFound.Error()}
	}
	return nil
}

// Press synthesizes a key down/up pair.
func (e *Executor) Press(ctx context.Context, key string) error {
	for _, kind := range []string{"keyDown", "keyUp"} {
		if _, err := e.send(ctx, "Input.dispatchKeyEvent", map[string]any{
			"type": kind,
			"key":  key,
		}); err != nil {
			return err
		}
	}
	return nil
}

// Scroll scrolls the page by pixel deltas.
func (e *Executor) Scroll(ctx context.Context, dx, dy int) error {
	_, err := e.Evaluate(ctx, fmt.Sprintf("window.scrollBy(%d, %d)", dx, dy))
	return err
}

// WaitForSelector polls until the selector matches or the timeout elapses.
// Absence is an expected outcome, reported as false rather than an error.
func (e *Executor) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	expr := fmt.Sprintf(`!!document.querySelector("%s")`, jsEscape(selector))
	for {
		found, err := e.evaluateBool(ctx, expr)
		if err != nil {
			if cdp.IsConnectionError(err) {
				return false, err
			}
			// In-page errors during polling count as not-found-yet.
			found = false
		}
		if found {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-time.After(e.cfg.PollInterval):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

// SetViewport fixes the viewport size so coordinates stay stable.
func (e *Executor) SetViewport(ctx context.Context, width, height int) error {
	_, err := e.send(ctx, "Emulation.setDeviceMetricsOverride", map[string]any{
		"width":             width,
		"height":            height,
		"deviceScaleFactor": 1,
		"mobile":            false,
	})
	return err
}

// CaptureScreenshot captures the page as JPEG and writes it to path.
func (e *Executor) CaptureScreenshot(ctx context.Context, path string) error {
	raw, err := e.send(ctx, "Page.captureScreenshot", map[string]any{
		"format":  "jpeg",
		"quality": e.cfg.ScreenshotQuality,
	})
	if err != nil {
		return err
	}
	var parsed struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return &ActionError{Op: "screenshot", Message: fmt.Sprintf("malformed screenshot result: %v", err)}
	}
	img, err := base64.StdEncoding.DecodeString(parsed.Data)
	if err != nil {
		return &ActionError{Op: "screenshot", Message: fmt.Sprintf("decode screenshot: %v", err)}
	}
	return writeArtifact(path, img)
}

// PageURL returns the current page URL.
func (e *Executor) PageURL(ctx context.Context) (string, error) {
	return e.EvaluateString(ctx, "window.location.href")
}

// PageTitle returns the current page title.
func (e *Executor) PageTitle(ctx context.Context) (string, error) {
	return e.EvaluateString(ctx, "document.title")
}

// PageHTML returns the full page markup.
func (e *Executor) PageHTML(ctx context.Context) (string, error) {
	return e.EvaluateString(ctx, "document.documentElement.outerHTML")
}

// SelectOption sets a select element's value and dispatches a change event.
func (e *Executor) SelectOption(ctx context.Context, selector, value string) error {
	set, err := e.evaluateBool(ctx, fmt.Sprintf(`(() => {
		const el = document.querySelector("%s");
		if (el) {
			el.value = "%s";
			el.dispatchEvent(new Event("change", {bubbles: true}));
			return true;
		}
		return false;
	})()`, jsEscape(selector), jsEscape(value)))
	if err != nil {
		return err
	}
	if !set {
		return &ActionError{Op: "select_option", Message: ErrElementNotFound.Error()}
	}
	return nil
}

// Hover moves the pointer to the element's box-model center, falling back to
// a scripted mouseover dispatch when geometry is unavailable.
func (e *Executor) Hover(ctx context.Context, selector string) error {
	x, y, err := e.elementCenter(ctx, selector)
	if err == nil {
		return e.dispatchMouse(ctx, "mouseMoved", x, y, 0)
	}
	if cdp.IsConnectionError(err) {
		return err
	}
	hovered, err := e.evaluateBool(ctx, fmt.Sprintf(`(() => {
		const el = document.querySelector("%s");
		if (el) {
			el.dispatchEvent(new MouseEvent("mouseover", {bubbles: true}));
			return true;
		}
		return false;
	})()`, jsEscape(selector)))
	if err != nil {
		return err
	}
	if !hovered {
		return &ActionError{Op: "hover", Message: ErrElementNotFound.Error()}
	}
	return nil
}

// Drag synthesizes a press-move-release sequence between two points.
func (e *Executor) Drag(ctx context.Context, x1, y1, x2, y2 int) error {
	if err := e.dispatchMouse(ctx, "mouseMoved", x1, y1, 0); err != nil {
		return err
	}
	if err := e.dispatchMouse(ctx, "mousePressed", x1, y1, 1); err != nil {
		return err
	}
	if err := e.dispatchMouse(ctx, "mouseMoved", x2, y2, 0); err != nil {
		return err
	}
	return e.dispatchMouse(ctx, "mouseReleased", x2, y2, 1)
}

func (e *Executor) focusBySelector(ctx context.Context, selector string) error {
	focused, err := e.evaluateBool(ctx, fmt.Sprintf(`(() => {
		const el = document.querySelector("%s");
		if (el) { el.focus(); return true; }
		return false;
	})()`, jsEscape(selector)))
	if err != nil {
		return err
	}
	if !focused {
		return &ActionError{Op: "focus", Message: ErrElementNotFound.Error()}
	}
	return nil
}

// popupSelectors match common consent and notification dialogs by structure,
// not by pixel position.
var popupSelectors = []string{
	`[data-cookiebanner="accept_button"]`,
	`button[data-testid="cookie-policy-manage-dialog-accept-button"]`,
	`[aria-label="Allow all cookies"]`,
	`[aria-label="Accept all"]`,
	`button[title="Block"]`,
	`[aria-label="Block"]`,
	`[aria-label="Close"]`,
	`button[aria-label="Dismiss"]`,
}

// DismissPopups clicks through known dismissal controls and reports how many
// matched.
func (e *Executor) DismissPopups(ctx context.Context) (int, error) {
	dismissed := 0
	for _, selector := range popupSelectors {
		clicked, err := e.evaluateBool(ctx, fmt.Sprintf(`(() => {
			const el = document.querySelector('%s');
			if (el) { el.click(); return true; }
			return false;
		})()`, strings.ReplaceAll(selector, `'`, `\'`)))
		if err != nil {
			if cdp.IsConnectionError(err) {
				return dismissed, err
			}
			continue
		}
		if clicked {
			dismissed++
		}
	}
	return dismissed, nil
}

func writeArtifact(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func jsEscape(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`"`, `\"`,
		"\n", `\n`,
		"\r", `\r`,
		"\t", `\t`,
	)
	return r.Replace(s)
}

func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
