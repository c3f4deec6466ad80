package ws

import (
	"encoding/json"
	"fmt"

	"github.com/agentfabric/fabric/internal/events"
)

// clientMessage is the self-describing envelope for every client → server
// frame (spec.md §6): a "type" discriminator plus a type-specific body.
type clientMessage struct {
	Type string `json:"type"`

	Token       string         `json:"token,omitempty"`
	EventTypes  []events.Type  `json:"event_types,omitempty"`
	Filters     *events.Filter `json:"filters,omitempty"`
	AgentID     string         `json:"agent_id,omitempty"`
	PingID      string         `json:"ping_id,omitempty"`
}

const (
	clientMsgAuth            = "auth"
	clientMsgSubscribe       = "subscribe"
	clientMsgUnsubscribe     = "unsubscribe"
	clientMsgSubscribeAgent  = "subscribe_agent"
	clientMsgUnsubscribeAgent = "unsubscribe_agent"
	clientMsgUpdateFilters   = "update_filters"
	clientMsgPing            = "ping"
	clientMsgPong            = "pong"
)

func decodeClientMessage(data []byte) (clientMessage, error) {
	var m clientMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return clientMessage{}, fmt.Errorf("ws: decode client message: %w", err)
	}
	if m.Type == "" {
		return clientMessage{}, fmt.Errorf("ws: client message missing type")
	}
	return m, nil
}

// adminFrame is a ConnectionStatus-flavored administrative message sent
// directly to one connection (connected/authenticated/subscribed/...).
func adminFrame(clock *events.Clock, source, connectionID, status string, extra events.ConnectionStatusPayload) ([]byte, error) {
	extra.ConnectionID = connectionID
	extra.Status = status
	env, err := events.NewConnectionStatusEvent(clock, source, "", extra)
	if err != nil {
		return nil, err
	}
	return events.Encode(env)
}

func errorFrame(clock *events.Clock, source, code, message string) ([]byte, error) {
	env, err := events.NewErrorEvent(clock, source, events.ErrorPayload{
		ErrorCode:    code,
		ErrorMessage: message,
	})
	if err != nil {
		return nil, err
	}
	return events.Encode(env)
}
