package bridge

import (
	"encoding/base64"
	"fmt"

	"sessiongate.local/gateway/internal/adapter"
)

type FrameType string

const (
	FrameConnect        FrameType = "connect"
	FrameSend           FrameType = "send"
	FrameLogout         FrameType = "logout"
	FrameProfilePicture FrameType = "profile_picture"

	FrameQR            FrameType = "qr"
	FrameAuthenticated FrameType = "authenticated"
	FrameReady         FrameType = "ready"
	FrameAuthFailure   FrameType = "auth_failure"
	FrameDisconnected  FrameType = "disconnected"
	FrameCredentials   FrameType = "credentials"
	FrameMessage       FrameType = "message"
	FrameResult        FrameType = "result"
)

// Frame is the single JSON envelope exchanged with the bridge in both directions.
type Frame struct {
	Type        FrameType               `json:"type"`
	RequestID   string                  `json:"request_id,omitempty"`
	TenantID    string                  `json:"tenant_id,omitempty"`
	Credentials string                  `json:"credentials,omitempty"`
	Destination string                  `json:"destination,omitempty"`
	Body        string                  `json:"body,omitempty"`
	Revoke      bool                    `json:"revoke,omitempty"`
	QR          string                  `json:"qr,omitempty"`
	Reason      string                  `json:"reason,omitempty"`
	Info        *adapter.AccountInfo    `json:"info,omitempty"`
	Message     *adapter.InboundMessage `json:"message,omitempty"`
	OK          bool                    `json:"ok,omitempty"`
	Error       string                  `json:"error,omitempty"`
	MessageID   string                  `json:"message_id,omitempty"`
	URL         string                  `json:"url,omitempty"`
}

func encodeCredentials(blob []byte) string {
	if len(blob) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(blob)
}

// toEvent maps an inbound lifecycle frame onto an adapter event.
func toEvent(frame Frame) (adapter.Event, bool, error) {
	switch frame.Type {
	case FrameQR:
		if frame.QR == "" {
			return adapter.Event{}, false, fmt.Errorf("qr frame without code")
		}
		return adapter.Event{Kind: adapter.EventQR, QRCode: frame.QR}, true, nil
	case FrameAuthenticated:
		return adapter.Event{Kind: adapter.EventAuthenticated}, true, nil
	case FrameReady:
		return adapter.Event{Kind: adapter.EventReady, Info: frame.Info}, true, nil
	case FrameAuthFailure:
		return adapter.Event{Kind: adapter.EventAuthFailure, Reason: frame.Reason}, true, nil
	case FrameDisconnected:
		return adapter.Event{Kind: adapter.EventDisconnected, Reason: frame.Reason}, true, nil
	case FrameCredentials:
		blob, err := base64.StdEncoding.DecodeString(frame.Credentials)
		if err != nil {
			return adapter.Event{}, false, fmt.Errorf("decode credentials frame: %w", err)
		}
		return adapter.Event{Kind: adapter.EventCredentials, Credentials: blob}, true, nil
	case FrameMessage:
		if frame.Message == nil {
			return adapter.Event{}, false, fmt.Errorf("message frame without message")
		}
		return adapter.Event{Kind: adapter.EventMessage, Message: frame.Message}, true, nil
	default:
		return adapter.Event{}, false, nil
	}
}
