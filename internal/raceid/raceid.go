// Package raceid generates the identifiers devices exchange to pair and
// coordinate a race: room codes, session ids, and sender ids.
package raceid

import (
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"
)

// roomCodeAlphabet is a 32-character unambiguous alphabet (no 0/O/1/I/etc.
// confusion pairs) for codes read aloud or typed by hand.
const roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const roomCodeLength = 6

// NewRoomCode generates a 6-character broadcast channel suffix. 256 is an
// exact multiple of len(roomCodeAlphabet) (32), so masking a random byte with
// &31 introduces no modulo bias and needs no rejection sampling.
func NewRoomCode() (string, error) {
	buf := make([]byte, roomCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("raceid: generate room code: %w", err)
	}

	code := make([]byte, roomCodeLength)
	for i, b := range buf {
		code[i] = roomCodeAlphabet[b&31]
	}
	return string(code), nil
}

// NewSessionID generates a fresh session identifier, unique per race.
func NewSessionID() string {
	return uuid.NewString()
}

// NewSenderID generates a fresh sender identifier, unique per device and
// created once at process start.
func NewSenderID() string {
	return uuid.NewString()
}
