package metainfo

import (
	"crypto/sha1"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// buildTorrent hand-assembles a minimal single-file bencoded .torrent so
// the info-hash extraction can be checked against an independently
// computed SHA-1 of the exact info dict bytes.
func buildTorrent(t *testing.T, pieceLength int64, pieces string, length int64) ([]byte, [20]byte) {
	t.Helper()

	info := "d" +
		"6:lengthi" + itoa(length) + "e" +
		"4:name8:file.bin" +
		"12:piece lengthi" + itoa(pieceLength) + "e" +
		"6:pieces" + itoa(int64(len(pieces))) + ":" + pieces +
		"e"

	full := "d8:announce20:http://tracker.test/4:info" + info + "e"

	hash := sha1.Sum([]byte(info))

	return []byte(full), hash
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}

	neg := n < 0
	if neg {
		n = -n
	}

	var buf []byte
	for n > 0 {
		buf = append([]byte{byte('0' + n%10)}, buf...)
		n /= 10
	}

	if neg {
		buf = append([]byte{'-'}, buf...)
	}

	return string(buf)
}

func TestLoadSingleFile(t *testing.T) {
	pieces := strings.Repeat("A", 20) + strings.Repeat("B", 20)
	data, wantHash := buildTorrent(t, 16384, pieces, 32768)

	dir := t.TempDir()
	path := filepath.Join(dir, "test.torrent")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if m.Name != "file.bin" {
		t.Fatalf("expected name file.bin, got %q", m.Name)
	}

	if m.TotalLength != 32768 {
		t.Fatalf("expected total length 32768, got %d", m.TotalLength)
	}

	if m.NumPieces() != 2 {
		t.Fatalf("expected 2 pieces, got %d", m.NumPieces())
	}

	if m.InfoHash != wantHash {
		t.Fatalf("info hash mismatch: got %x want %x", m.InfoHash, wantHash)
	}
}

func TestLastPieceLength(t *testing.T) {
	pieces := strings.Repeat("A", 20) + strings.Repeat("B", 20)
	data, _ := buildTorrent(t, 16384, pieces, 20000)

	dir := t.TempDir()
	path := filepath.Join(dir, "test.torrent")
	os.WriteFile(path, data, 0o644)

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if m.LastPieceLength() != 20000-16384 {
		t.Fatalf("expected last piece length %d, got %d", 20000-16384, m.LastPieceLength())
	}

	if m.PieceLengthAt(0) != 16384 {
		t.Fatalf("expected full piece length for piece 0")
	}

	if m.PieceLengthAt(1) != m.LastPieceLength() {
		t.Fatalf("expected last piece length for final piece")
	}
}

func TestRejectsBadPieceLength(t *testing.T) {
	data, _ := buildTorrent(t, 100, strings.Repeat("A", 20), 100)

	dir := t.TempDir()
	path := filepath.Join(dir, "test.torrent")
	os.WriteFile(path, data, 0o644)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for non-multiple-of-16384 piece length")
	}
}

func TestRejectsBadPiecesLength(t *testing.T) {
	data, _ := buildTorrent(t, 16384, "short", 100)

	dir := t.TempDir()
	path := filepath.Join(dir, "test.torrent")
	os.WriteFile(path, data, 0o644)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for pieces length not multiple of 20")
	}
}
