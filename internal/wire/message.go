// Package wire defines the race message envelope and JSON codec exchanged
// between paired devices over the broadcast transport.
package wire

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// MessageType is the envelope's "type" tag.
type MessageType string

const (
	TypeSyncPing     MessageType = "syncPing"
	TypeSyncPong     MessageType = "syncPong"
	TypeRoleConfirm  MessageType = "roleConfirm"
	TypeReady        MessageType = "ready"
	TypeStartEvent   MessageType = "startEvent"
	TypeFinishResult MessageType = "finishResult"
	TypeHeartbeat    MessageType = "heartbeat"
)

// Role identifies which end of the race a device plays.
type Role string

const (
	RoleStart  Role = "start"
	RoleFinish Role = "finish"
)

// Envelope is the base header present on every race message:
// `{sessionId, senderId, seq}` plus a typed tag and payload.
type Envelope struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"sessionId"`
	SenderID  string          `json:"senderId"`
	Seq       uint64          `json:"seq"`
	Payload   json.RawMessage `json:"-"`
}

// SyncPingPayload is syncPing's payload: `t1: string<nanos>`.
type SyncPingPayload struct {
	T1 string `json:"t1"`
}

// SyncPongPayload is syncPong's payload: `t1, t2, t3: string<nanos>`.
type SyncPongPayload struct {
	T1 string `json:"t1"`
	T2 string `json:"t2"`
	T3 string `json:"t3"`
}

// RoleConfirmPayload is roleConfirm's (and ready's) payload.
type RoleConfirmPayload struct {
	Role Role `json:"role"`
}

// StartEventPayload is startEvent's payload: `tStart: string<nanos>`.
type StartEventPayload struct {
	TStart string `json:"tStart"`
}

// FinishResultPayload is finishResult's payload.
type FinishResultPayload struct {
	SplitNanos    string  `json:"splitNanos"`
	UncertaintyMs float64 `json:"uncertaintyMs"`
}

// envelopeWire is the flattened JSON wire shape: the base header fields and
// the payload's fields sit side by side in one object, not nested under a
// "payload" key. Marshal/Unmarshal re-split the two.
type envelopeWire struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
	SenderID  string      `json:"senderId"`
	Seq       uint64      `json:"seq"`
}

// Marshal encodes env plus its typed payload into the flattened wire shape.
func Marshal(env Envelope) ([]byte, error) {
	header, err := json.Marshal(envelopeWire{
		Type:      env.Type,
		SessionID: env.SessionID,
		SenderID:  env.SenderID,
		Seq:       env.Seq,
	})
	if err != nil {
		return nil, fmt.Errorf("wire: marshal header: %w", err)
	}

	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return header, nil
	}

	return mergeJSONObjects(header, env.Payload)
}

// Unmarshal splits raw into the base header; the caller then decodes
// Envelope.Payload (== raw, since the wire shape is flat) into the payload
// struct matching Envelope.Type.
func Unmarshal(raw []byte) (Envelope, error) {
	var hdr envelopeWire
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return Envelope{}, fmt.Errorf("wire: unmarshal header: %w", err)
	}
	return Envelope{
		Type:      hdr.Type,
		SessionID: hdr.SessionID,
		SenderID:  hdr.SenderID,
		Seq:       hdr.Seq,
		Payload:   json.RawMessage(raw),
	}, nil
}

// mergeJSONObjects combines two JSON object byte slices into one object,
// with b's keys taking precedence over a's on conflict.
func mergeJSONObjects(a, b []byte) ([]byte, error) {
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(a, &merged); err != nil {
		return nil, fmt.Errorf("wire: merge: %w", err)
	}
	var extra map[string]json.RawMessage
	if err := json.Unmarshal(b, &extra); err != nil {
		return nil, fmt.Errorf("wire: merge: %w", err)
	}
	for k, v := range extra {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// EncodeNanos renders a nanosecond timestamp as a decimal string: JSON
// numbers cannot hold 64-bit nanosecond values without precision loss.
func EncodeNanos(nanos int64) string {
	return strconv.FormatInt(nanos, 10)
}

// DecodeNanos parses a decimal nanosecond string back into an int64.
func DecodeNanos(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("wire: decode nanos %q: %w", s, err)
	}
	return v, nil
}
