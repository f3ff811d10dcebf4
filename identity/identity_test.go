package identity

import "testing"

func TestNewPeerIDPrefix(t *testing.T) {
	var hash [20]byte
	copy(hash[:], "infohashinfohashinfo")

	local, err := New(hash)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if string(local.PeerID[:len(clientPrefix)]) != clientPrefix {
		t.Fatalf("expected prefix %q, got %q", clientPrefix, local.PeerID[:len(clientPrefix)])
	}

	if local.InfoHash != hash {
		t.Fatalf("info hash not preserved")
	}
}

func TestNewPeerIDsUnique(t *testing.T) {
	var hash [20]byte

	a, err := New(hash)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	b, err := New(hash)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if a.PeerID == b.PeerID {
		t.Fatalf("expected distinct peer ids across calls")
	}
}
