// Package actions provides the high-level browser operations built on the
// cdp channel, each with a primary protocol strategy and a scripted fallback.
package actions

import (
	"errors"
	"fmt"
)

// Kind identifies one action variant.
type Kind string

const (
	KindNavigate        Kind = "navigate"
	KindClick           Kind = "click"
	KindClickPixel      Kind = "click_pixel"
	KindType            Kind = "type"
	KindPress           Kind = "press"
	KindEvaluate        Kind = "evaluate"
	KindScreenshot      Kind = "screenshot"
	KindScroll          Kind = "scroll"
	KindWait            Kind = "wait"
	KindWaitForSelector Kind = "wait_for_selector"
	KindSetViewport     Kind = "set_viewport"
	KindDismissCookies  Kind = "dismiss_cookies"
	KindGoBack          Kind = "go_back"
	KindGoForward       Kind = "go_forward"
	KindReload          Kind = "reload"
	KindGetDOM          Kind = "get_dom"
	KindGetPageText     Kind = "get_page_text"
	KindSelectOption    Kind = "select_option"
	KindFocus           Kind = "focus"
	KindHover           Kind = "hover"
	KindMouseMove       Kind = "mouse_move"
	KindMouseClick      Kind = "mouse_click"
	KindMouseDrag       Kind = "mouse_drag"
	KindCDPSend         Kind = "cdp_send"
	KindDone            Kind = "done"
)

// Descriptor is one requested action. Fields are kind-specific; unused
// fields are zero.
type Descriptor struct {
	Type     Kind   `json:"type"`
	URL      string `json:"url,omitempty"`
	Selector string `json:"selector,omitempty"`
	Text     string `json:"text,omitempty"`
	Key      string `json:"key,omitempty"`
	Code     string `json:"code,omitempty"`
	Value    string `json:"value,omitempty"`
	Name     string `json:"name,omitempty"`

	Direction string `json:"direction,omitempty"`
	Amount    int    `json:"amount,omitempty"`

	X  int `json:"x,omitempty"`
	Y  int `json:"y,omitempty"`
	X2 int `json:"x2,omitempty"`
	Y2 int `json:"y2,omitempty"`

	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`

	TimeoutMs int `json:"timeout,omitempty"`

	// Raw protocol passthrough for cdp_send.
	Method string         `json:"method,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

// Status is the outcome class of one executed action.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusDone    Status = "done"
)

// Result is the envelope produced exactly once per executed descriptor.
type Result struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// ErrElementNotFound reports that neither the structural lookup nor the
// scripted fallback matched the selector.
var ErrElementNotFound = errors.New("element not found")

// ActionError is an action-level failure: element not found, in-page
// exception, malformed arguments. It never terminates the task loop on its
// own.
type ActionError struct {
	Op      string
	Message string
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}
