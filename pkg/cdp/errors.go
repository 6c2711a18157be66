package cdp

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConnectionClosed fails every request still pending when the
	// channel tears down, and every send attempted afterwards.
	ErrConnectionClosed = errors.New("cdp connection closed")

	// ErrNoTargets indicates the discovery listing was empty.
	ErrNoTargets = errors.New("no debuggable targets")

	// ErrNoDebuggerURL indicates no listed target exposed a stream URL.
	ErrNoDebuggerURL = errors.New("no target exposes a websocket debugger url")
)

// DiscoveryError is a fatal failure to resolve a debugging target.
type DiscoveryError struct {
	Endpoint string
	Err      error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("target discovery failed for %s: %v", e.Endpoint, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// ConnectError is a fatal failure to open the persistent stream.
type ConnectError struct {
	URL string
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to %s failed: %v", e.URL, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// TransportError is a mid-life read or write failure. It is fatal to the
// connection and triggers teardown.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is a failure the browser reported against one specific
// command. The connection remains usable.
type ProtocolError struct {
	Method  string
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error for %s: %s", e.Method, e.Message)
}

// TimeoutError is a per-request deadline expiry. The pending entry is
// discarded and the connection remains usable.
type TimeoutError struct {
	Method  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command %s timed out after %s", e.Method, e.Timeout)
}

// DomainEnableError is a tolerated handshake failure, logged only.
type DomainEnableError struct {
	Domain string
	Err    error
}

func (e *DomainEnableError) Error() string {
	return fmt.Sprintf("enable %s failed: %v", e.Domain, e.Err)
}

func (e *DomainEnableError) Unwrap() error { return e.Err }

// IsConnectionError reports whether err means the channel is gone and no
// further commands can succeed on it.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnectionClosed) {
		return true
	}
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}

// IsRetryable reports whether the failed command might succeed if reissued
// on the same connection.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var timeoutErr *TimeoutError
	return errors.As(err, &timeoutErr)
}
