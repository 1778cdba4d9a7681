package social

import (
	"context"
	"time"
)

// ActivityEventType enumerates the events the subsystem emits.
type ActivityEventType string

const (
	ActivityConnectionConnected    ActivityEventType = "social.connection.connected"
	ActivityConnectionDisconnected ActivityEventType = "social.connection.disconnected"
	ActivityConnectionFailed       ActivityEventType = "social.connection.failed"
	ActivityPublishSucceeded       ActivityEventType = "social.publish.succeeded"
	ActivityPublishFailed          ActivityEventType = "social.publish.failed"
)

// ActivityEvent captures audit friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	UserID     string
	Provider   Provider
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing or telemetry.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// recordActivity never fails the caller; sink errors are only logged.
func recordActivity(ctx context.Context, sink ActivitySink, logger Logger, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	if err := sink.Record(ctx, event); err != nil {
		logger.Warn("activity sink failed", "event", event.EventType, "error", err)
	}
}
