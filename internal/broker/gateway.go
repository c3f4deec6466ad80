package broker

import (
	"context"
	"fmt"

	"github.com/agentfabric/fabric/internal/events"
)

// DefaultChannelPrefix matches the original deployment's Redis key prefix.
const DefaultChannelPrefix = "ao:events"

// Gateway is the publish/subscribe boundary the event publisher and the
// connection manager's fan-out dispatcher are built against. Implementations
// must be safe for concurrent use.
type Gateway interface {
	// Publish sends raw bytes on channel. It does not wait on slow
	// subscribers beyond a bounded delivery timeout.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe registers handler for messages published on channel and
	// returns an unsubscribe function. handler is invoked from an
	// internal goroutine; it must not block for long.
	Subscribe(ctx context.Context, channel string, handler func([]byte)) (unsubscribe func(), err error)

	// Close releases any underlying connection.
	Close() error
}

// Channels returns the three channel names an envelope with event type et
// and optional userID fans out to, per the "<prefix>:all" /
// "<prefix>:<event_type>" / "<prefix>:user:<user_id>" scheme.
func Channels(prefix string, et events.Type, userID string) []string {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	channels := []string{
		fmt.Sprintf("%s:all", prefix),
		fmt.Sprintf("%s:%s", prefix, et),
	}
	if userID != "" {
		channels = append(channels, fmt.Sprintf("%s:user:%s", prefix, userID))
	}
	return channels
}
