/*
Package metainfo decodes single-file .torrent metainfo dictionaries and
computes the infohash the rest of the core treats as opaque.

Reworked from lvbealr-BitTorrent/torrent/parse.go: the struct layout and
the two-step info-hash extraction (find the raw "4:info" byte range, then
SHA-1 that range rather than re-encoding the decoded struct) are kept
verbatim in spirit, generalized to reject multi-file torrents up front
since they are out of scope for this client.
*/
package metainfo

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"os"
	"strconv"

	bencode "github.com/jackpal/bencode-go"
)

const blockSize = 16384

// rawFile mirrors the bencoded root dictionary of a .torrent file. Only the
// fields this client acts on are decoded; everything else is ignored.
type rawFile struct {
	Announce     string     `bencode:"announce"`
	AnnounceList [][]string `bencode:"announce-list"`
	Info         rawInfo    `bencode:"info"`
}

type rawInfo struct {
	PieceLength int64  `bencode:"piece length"`
	Pieces      string `bencode:"pieces"`
	Name        string `bencode:"name"`
	Length      int64  `bencode:"length"`
	Private     int    `bencode:"private"`
}

// Metainfo is the read-only snapshot the core consumes (spec.md §3).
type Metainfo struct {
	Name         string
	TotalLength  int64
	PieceLength  int64
	PieceDigests [][20]byte
	Private      bool
	AnnounceList []string
	InfoHash     [20]byte
}

// NumPieces returns P, the number of piece digests. Load does not check it
// against ⌈total_length / piece_length⌉.
func (m *Metainfo) NumPieces() int {
	return len(m.PieceDigests)
}

// LastPieceLength returns the effective length of the final piece. This is
// computed directly from TotalLength/PieceLength, never from the high-water
// mark of a buffer map (spec.md §9 flags that pattern as a bug to avoid).
func (m *Metainfo) LastPieceLength() int64 {
	n := int64(m.NumPieces())
	if n == 0 {
		return 0
	}

	last := m.TotalLength - (n-1)*m.PieceLength
	if last <= 0 {
		return m.PieceLength
	}

	return last
}

// PieceLengthAt returns the effective length of piece index i, branching on
// whether i is the final piece (spec.md §4.2 edge case).
func (m *Metainfo) PieceLengthAt(i int) int64 {
	if i == m.NumPieces()-1 {
		return m.LastPieceLength()
	}

	return m.PieceLength
}

// Load reads and decodes a .torrent file from path, returning a validated
// Metainfo or an error (fatal to the process per spec.md §7's
// configuration/metainfo-error category).
func Load(path string) (*Metainfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("metainfo: reading %q: %w", path, err)
	}

	var raw rawFile
	if err := bencode.Unmarshal(bytes.NewReader(data), &raw); err != nil {
		return nil, fmt.Errorf("metainfo: decoding %q: %w", path, err)
	}

	if len(raw.Info.Name) == 0 {
		return nil, fmt.Errorf("metainfo: missing name")
	}

	if raw.Info.PieceLength <= 0 || raw.Info.PieceLength%blockSize != 0 {
		return nil, fmt.Errorf("metainfo: piece length %d is not a positive multiple of %d", raw.Info.PieceLength, blockSize)
	}

	if len(raw.Info.Pieces)%20 != 0 {
		return nil, fmt.Errorf("metainfo: pieces field length %d is not a multiple of 20", len(raw.Info.Pieces))
	}

	infoHash, err := computeInfoHash(data)
	if err != nil {
		return nil, fmt.Errorf("metainfo: computing info hash: %w", err)
	}

	numPieces := len(raw.Info.Pieces) / 20
	digests := make([][20]byte, numPieces)

	for i := 0; i < numPieces; i++ {
		copy(digests[i][:], raw.Info.Pieces[i*20:(i+1)*20])
	}

	announceList := []string{raw.Announce}
	for _, tier := range raw.AnnounceList {
		announceList = append(announceList, tier...)
	}

	return &Metainfo{
		Name:         raw.Info.Name,
		TotalLength:  raw.Info.Length,
		PieceLength:  raw.Info.PieceLength,
		PieceDigests: digests,
		Private:      raw.Info.Private == 1,
		AnnounceList: announceList,
		InfoHash:     infoHash,
	}, nil
}

// computeInfoHash locates the raw "4:info" dictionary inside the original
// bencoded bytes and SHA-1s that exact byte range. Re-encoding the decoded
// struct would not reproduce the original byte-for-byte bencoding (key
// ordering, unknown fields), so the infohash must come from the source
// bytes directly.
func computeInfoHash(data []byte) ([20]byte, error) {
	infoBytes, err := extractInfoBytes(data)
	if err != nil {
		return [20]byte{}, err
	}

	return sha1.Sum(infoBytes), nil
}

// extractInfoBytes scans past the "4:info" key and returns the byte range
// of the bencoded value that follows it, tracking dict/list nesting depth
// and skipping over embedded integers and length-prefixed strings so that
// digits inside them are never mistaken for depth markers.
func extractInfoBytes(data []byte) ([]byte, error) {
	idx := bytes.Index(data, []byte("4:info"))
	if idx < 0 {
		return nil, fmt.Errorf("no \"4:info\" key found")
	}

	start := idx + len("4:info")

	depth := 0
	for i := start; i < len(data); i++ {
		b := data[i]

		switch {
		case b == 'd' || b == 'l':
			depth++
		case b == 'e':
			depth--

			if depth == 0 {
				return data[start : i+1], nil
			}
		case b == 'i':
			j := i + 1
			for ; j < len(data) && data[j] != 'e'; j++ {
			}

			if j >= len(data) {
				return nil, fmt.Errorf("unterminated integer at %d", i)
			}

			i = j
		case b >= '0' && b <= '9':
			j := i
			for ; j < len(data) && data[j] >= '0' && data[j] <= '9'; j++ {
			}

			if j < len(data) && data[j] == ':' {
				length, err := strconv.Atoi(string(data[i:j]))
				if err != nil {
					return nil, fmt.Errorf("invalid string length at %d-%d", i, j)
				}

				j++
				i = j + length - 1
			}
		}
	}

	return nil, fmt.Errorf("unterminated info dict")
}
