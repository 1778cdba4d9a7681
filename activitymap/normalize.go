package activitymap

import (
	"strings"
	"time"

	social "github.com/goliatone/go-social"
)

const (
	// MetadataKeyProvider stores the provider the event concerns.
	MetadataKeyProvider = "provider"

	ObjectTypeConnection = "social_connection"
	ObjectTypePost       = "social_post"
)

const (
	defaultChannel = "social"
	defaultActorID = "system"
)

// Normalized is a transport-agnostic activity shape for downstream systems.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel          string
	objectType       string
	actorFallback    string
	objectIDResolver func(social.ActivityEvent) string
}

// Normalize converts a social.ActivityEvent into a generic normalized shape.
// Publish events describe a post, everything else a connection.
func Normalize(event social.ActivityEvent, opts ...Option) Normalized {
	options := defaultNormalizeOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	actorID := firstNonEmpty(
		strings.TrimSpace(event.UserID),
		strings.TrimSpace(options.actorFallback),
	)

	objectType := options.objectType
	if objectType == "" {
		objectType = objectTypeFor(event.EventType)
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return Normalized{
		ActorID:    actorID,
		Verb:       string(event.EventType),
		ObjectType: objectType,
		ObjectID:   resolveObjectID(event, options.objectIDResolver),
		Channel:    strings.TrimSpace(options.channel),
		Metadata:   normalizeMetadata(event),
		OccurredAt: occurredAt,
	}
}

// WithDefaultChannel sets the default channel for normalized records.
func WithDefaultChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithObjectType forces the object type instead of deriving it from the verb.
func WithObjectType(objectType string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.objectType = strings.TrimSpace(objectType)
	}
}

// WithObjectIDResolver overrides object-id extraction from ActivityEvent.
func WithObjectIDResolver(resolver func(social.ActivityEvent) string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.objectIDResolver = resolver
	}
}

// WithActorFallback sets the actor id used when the event has no user.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

func defaultNormalizeOptions() normalizeOptions {
	return normalizeOptions{
		channel:       defaultChannel,
		actorFallback: defaultActorID,
	}
}

func objectTypeFor(eventType social.ActivityEventType) string {
	switch eventType {
	case social.ActivityPublishSucceeded, social.ActivityPublishFailed:
		return ObjectTypePost
	default:
		return ObjectTypeConnection
	}
}

// resolveObjectID prefers the remote post, then the provider account, then
// the provider name.
func resolveObjectID(event social.ActivityEvent, resolver func(social.ActivityEvent) string) string {
	if resolver != nil {
		return strings.TrimSpace(resolver(event))
	}
	return firstNonEmpty(
		metadataString(event.Metadata, "remote_post_id"),
		metadataString(event.Metadata, "provider_account_id"),
		string(event.Provider),
	)
}

func normalizeMetadata(event social.ActivityEvent) map[string]any {
	metadata := cloneMap(event.Metadata)

	if event.Provider != "" {
		if metadata == nil {
			metadata = map[string]any{}
		}
		if _, exists := metadata[MetadataKeyProvider]; !exists {
			metadata[MetadataKeyProvider] = string(event.Provider)
		}
	}

	return metadata
}

func metadataString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func cloneMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
