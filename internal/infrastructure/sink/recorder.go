package sink

import (
	"context"
	"sync"

	"github.com/alexisbeaulieu97/convergo/internal/ports"
)

// Recorder keeps everything in memory. The verify command uses it to collect
// rows without touching configured sinks, and tests inspect it.
type Recorder struct {
	mu       sync.Mutex
	statuses map[string]string
	order    []string
	rows     map[string][]ports.Record
	closed   bool
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{statuses: map[string]string{}, rows: map[string][]ports.Record{}}
}

// SetStatus implements ports.StatusSink.
func (r *Recorder) SetStatus(_ context.Context, field, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.statuses[field]; !ok {
		r.order = append(r.order, field)
	}
	r.statuses[field] = value
	return nil
}

// AppendRow implements ports.StatusSink.
func (r *Recorder) AppendRow(_ context.Context, sinkID string, record ports.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[sinkID] = append(r.rows[sinkID], append(ports.Record(nil), record...))
	return nil
}

// Close implements ports.StatusSink.
func (r *Recorder) Close(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Status returns a recorded field.
func (r *Recorder) Status(field string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.statuses[field]
	return v, ok
}

// Fields returns field names in first-set order.
func (r *Recorder) Fields() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// Rows returns the rows appended for sinkID.
func (r *Recorder) Rows(sinkID string) []ports.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ports.Record(nil), r.rows[sinkID]...)
}

// Closed reports whether Close was called.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

var _ ports.StatusSink = (*Recorder)(nil)
