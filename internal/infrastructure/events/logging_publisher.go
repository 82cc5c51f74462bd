// Package events logs domain events and fans them out to in-process
// subscribers such as the metrics collector.
package events

import (
	"context"
	"sort"
	"sync"

	"github.com/alexisbeaulieu97/convergo/internal/ports"
)

// WildcardEvent subscribes a handler to every event type.
const WildcardEvent = "*"

var eventMessages = map[string]string{
	ports.EventReconcileStarted:  "reconciling target",
	ports.EventReconcileOutcome:  "target outcome",
	ports.EventHardMatchResolved: "principal resolved",
	ports.EventRunCompleted:      "run completed",
}

// LoggingPublisher writes each event as one structured log entry and then
// runs the subscribers for its type, in subscription order, on the caller's
// goroutine.
type LoggingPublisher struct {
	logger ports.Logger

	mu     sync.RWMutex
	nextID int
	subs   map[string][]handlerEntry
}

type handlerEntry struct {
	id      int
	handler ports.EventHandler
}

// NewLoggingPublisher creates a publisher. Started events log at debug,
// events whose payload carries failed=true at warn, the rest at info.
func NewLoggingPublisher(logger ports.Logger) *LoggingPublisher {
	return &LoggingPublisher{logger: logger, subs: make(map[string][]handlerEntry)}
}

// Publish logs event and delivers it. Handler errors are logged and never
// stop delivery or reach the caller.
func (p *LoggingPublisher) Publish(ctx context.Context, event ports.DomainEvent) error {
	if p == nil || event == nil {
		return nil
	}
	kind := event.EventType()

	p.mu.RLock()
	handlers := make([]handlerEntry, 0, len(p.subs[kind])+len(p.subs[WildcardEvent]))
	handlers = append(handlers, p.subs[kind]...)
	handlers = append(handlers, p.subs[WildcardEvent]...)
	p.mu.RUnlock()

	if p.logger != nil {
		p.log(ctx, kind, event.Payload())
	}

	for _, h := range handlers {
		if err := h.handler(ctx, event); err != nil && p.logger != nil {
			p.logger.Warn(ctx, "event handler failed", "event_type", kind, "error", err)
		}
	}
	return nil
}

func (p *LoggingPublisher) log(ctx context.Context, kind string, payload interface{}) {
	fields := []interface{}{"event_type", kind}
	failed := false
	switch data := payload.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(data))
		for k := range data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fields = append(fields, k, data[k])
		}
		failed, _ = data[ports.PayloadFailed].(bool)
	case nil:
	default:
		fields = append(fields, "payload", data)
	}

	msg, ok := eventMessages[kind]
	if !ok {
		msg = "domain event"
	}
	switch {
	case failed:
		p.logger.Warn(ctx, msg, fields...)
	case kind == ports.EventReconcileStarted:
		p.logger.Debug(ctx, msg, fields...)
	default:
		p.logger.Info(ctx, msg, fields...)
	}
}

// Subscribe registers handler for eventType, or for everything with
// WildcardEvent. A nil handler is ignored.
func (p *LoggingPublisher) Subscribe(eventType string, handler ports.EventHandler) (ports.Subscription, error) {
	if p == nil || handler == nil {
		return cancelFunc(nil), nil
	}
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.subs[eventType] = append(p.subs[eventType], handlerEntry{id: id, handler: handler})
	p.mu.Unlock()

	var once sync.Once
	return cancelFunc(func() {
		once.Do(func() { p.remove(eventType, id) })
	}), nil
}

func (p *LoggingPublisher) remove(eventType string, id int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entries := p.subs[eventType]
	for i, e := range entries {
		if e.id == id {
			p.subs[eventType] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

type cancelFunc func()

func (f cancelFunc) Unsubscribe() {
	if f != nil {
		f()
	}
}
