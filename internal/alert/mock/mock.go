// Package mock provides a test double for [alert.Transport].
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voiceguard/internal/alert"
)

// SendCall records a single Send invocation.
type SendCall struct {
	Recipient string
	Alert     alert.Alert
}

// Transport is a mock [alert.Transport]. Errors are looked up per recipient
// first, then Err applies to everything else.
type Transport struct {
	mu sync.Mutex

	// SchemeName is returned by Scheme. Default: "mock".
	SchemeName string

	// Err is returned by Send for recipients without an entry in ErrFor.
	Err error

	// ErrFor maps recipients to the error Send returns for them.
	ErrFor map[string]error

	// Calls records every Send invocation in order.
	Calls []SendCall
}

var _ alert.Transport = (*Transport)(nil)

// Scheme implements [alert.Transport].
func (t *Transport) Scheme() string {
	if t.SchemeName == "" {
		return "mock"
	}
	return t.SchemeName
}

// Send implements [alert.Transport].
func (t *Transport) Send(_ context.Context, recipient string, a alert.Alert) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls = append(t.Calls, SendCall{Recipient: recipient, Alert: a})
	if err, ok := t.ErrFor[recipient]; ok {
		return err
	}
	return t.Err
}

// Recipients returns the recipients of all recorded calls.
func (t *Transport) Recipients() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.Calls))
	for i, c := range t.Calls {
		out[i] = c.Recipient
	}
	return out
}

// CallCount returns the number of Send calls.
func (t *Transport) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Calls)
}
