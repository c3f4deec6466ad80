// Package broker implements the Broker Gateway: a thin, channel-prefixed
// pub/sub abstraction that the Event Publisher writes through and the
// connection manager's fan-out dispatcher reads through.
//
// Gateway is the interface both layers depend on. Redis backs it in
// production (github.com/redis/go-redis/v9); Memory backs it in tests
// and single-process deployments that run without a Redis instance.
//
// Channel naming follows the original event_publisher's three-channel
// fan-out per event: "<prefix>:all", "<prefix>:<event_type>", and, when
// the event carries a user_id, "<prefix>:user:<user_id>".
package broker
