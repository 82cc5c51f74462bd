package ports

import "context"

// Field is one named column of a Record.
type Field struct {
	Name  string
	Value string
}

// Record is an ordered row for export sinks.
type Record []Field

// Get returns the value of a named field.
func (r Record) Get(name string) (string, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Names returns the column names in order.
func (r Record) Names() []string {
	names := make([]string, len(r))
	for i, f := range r {
		names[i] = f.Name
	}
	return names
}

// Values returns the column values in order.
func (r Record) Values() []string {
	values := make([]string, len(r))
	for i, f := range r {
		values[i] = f.Value
	}
	return values
}

// StatusSink receives reporting output. SetStatus writes a scalar monitoring
// field (e.g. an RMM custom field); AppendRow adds a structured row to the
// export identified by sinkID. Callers treat both as fire-and-forget.
type StatusSink interface {
	SetStatus(ctx context.Context, field, value string) error
	AppendRow(ctx context.Context, sinkID string, record Record) error
	Close(ctx context.Context) error
}
