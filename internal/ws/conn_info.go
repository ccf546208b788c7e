package ws

import "time"

// ConnInfo is the request metadata captured at handshake and attached to
// lifecycle events.
type ConnInfo struct {
	ConnID         string
	UserID         int64
	ConversationID int64
	DeviceID       string
	IP             string
	RequestID      string
	TraceID        string
	ConnectedAt    time.Time
}

func (i ConnInfo) payload(kind, event, reason string) map[string]interface{} {
	return map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        kind,
			"resource_id": i.ConversationID,
			"event":       event,
			"conn_id":     i.ConnID,
			"duration_ms": time.Since(i.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   i.UserID,
			"device_id": i.DeviceID,
			"ip":        i.IP,
		},
	}
}
