package raceid

import "testing"

func TestNewRoomCodeShapeAndAlphabet(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := NewRoomCode()
		if err != nil {
			t.Fatalf("NewRoomCode: %v", err)
		}
		if len(code) != roomCodeLength {
			t.Fatalf("len(code) = %d, want %d", len(code), roomCodeLength)
		}
		for _, c := range code {
			found := false
			for _, a := range roomCodeAlphabet {
				if c == a {
					found = true
					break
				}
			}
			if !found {
				t.Fatalf("code %q contains char %q outside alphabet", code, c)
			}
		}
		seen[code] = true
	}
	if len(seen) < 45 {
		t.Fatalf("expected high uniqueness across 50 draws, got %d distinct", len(seen))
	}
}

func TestNewSessionAndSenderIDAreDistinctAndNonEmpty(t *testing.T) {
	a := NewSessionID()
	b := NewSessionID()
	if a == "" || b == "" {
		t.Fatal("expected non-empty session ids")
	}
	if a == b {
		t.Fatal("expected distinct session ids across calls")
	}
	if NewSenderID() == NewSenderID() {
		t.Fatal("expected distinct sender ids across calls")
	}
}
