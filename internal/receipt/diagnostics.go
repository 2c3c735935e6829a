package receipt

import (
	"context"
	"sync"
)

// Diagnostics collects notes about a run that are not part of the record,
// such as a date fallback or a degraded extraction.
type Diagnostics struct {
	mu    sync.Mutex
	notes []string
}

type diagnosticsKey struct{}

// WithDiagnostics attaches d to ctx
func WithDiagnostics(ctx context.Context, d *Diagnostics) context.Context {
	return context.WithValue(ctx, diagnosticsKey{}, d)
}

// Note records msg on the Diagnostics attached to ctx, if any
func Note(ctx context.Context, msg string) {
	if d, ok := ctx.Value(diagnosticsKey{}).(*Diagnostics); ok && d != nil {
		d.Add(msg)
	}
}

func (d *Diagnostics) Add(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notes = append(d.notes, msg)
}

// Notes returns a copy of the recorded notes
func (d *Diagnostics) Notes() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.notes...)
}
