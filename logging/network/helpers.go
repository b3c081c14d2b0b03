package network

import (
	"context"

	"vtt/client/logging"
)

const (
	// EventConnected is emitted when a client joins a relay room.
	EventConnected logging.EventType = "network.connected"
	// EventDisconnected is emitted when a connection closes.
	EventDisconnected logging.EventType = "network.disconnected"
	// EventFrameDropped is emitted when an inbound frame cannot be decoded or routed.
	EventFrameDropped logging.EventType = "network.frame_dropped"
)

type ConnectionPayload struct {
	RemoteAddr string `json:"remoteAddr,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

type DropPayload struct {
	FrameType string `json:"frameType,omitempty"`
	Reason    string `json:"reason"`
}

func Connected(ctx context.Context, pub logging.Publisher, room string, actor logging.EntityRef, payload ConnectionPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventConnected,
		Room:     room,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}

func Disconnected(ctx context.Context, pub logging.Publisher, room string, actor logging.EntityRef, payload ConnectionPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventDisconnected,
		Room:     room,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}

// FrameDropped publishes a warning when a frame is discarded.
func FrameDropped(ctx context.Context, pub logging.Publisher, room string, actor logging.EntityRef, payload DropPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventFrameDropped,
		Room:     room,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}
