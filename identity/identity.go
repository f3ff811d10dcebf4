/*
Package identity generates the process-wide Local Identity (peer id plus
infohash) that every collaborator — tracker client, handshake, wire
session — shares by reference rather than recomputing.

Reworked from lvbealr-BitTorrent/torrent/utils.go's GeneratePeerID: the
teacher called this once per peer dial with crypto/rand and a manual
alphabet mapping. This version generates it once per process and reuses
the teacher's pack-mate dependency github.com/google/uuid for the random
suffix instead of hand-mapping random bytes to characters.
*/
package identity

import (
	"fmt"

	"github.com/google/uuid"
)

// clientPrefix is the Azureus-style client tag: "-" + 2-letter client code +
// 4-digit version + "-".
const clientPrefix = "-GL0001-"

// Local bundles the two identifiers every core component needs: the
// process's own peer id, and the infohash of the torrent being served.
type Local struct {
	PeerID   [20]byte
	InfoHash [20]byte
}

// New builds a Local identity for infoHash, generating a fresh peer id.
func New(infoHash [20]byte) (*Local, error) {
	peerID, err := generatePeerID()
	if err != nil {
		return nil, fmt.Errorf("identity: generating peer id: %w", err)
	}

	return &Local{PeerID: peerID, InfoHash: infoHash}, nil
}

// generatePeerID produces a 20-byte Azureus-style peer id: an 8-byte
// client prefix followed by 12 bytes derived from a random UUID.
func generatePeerID() ([20]byte, error) {
	var id [20]byte

	copy(id[:], clientPrefix)

	u, err := uuid.NewRandom()
	if err != nil {
		return id, err
	}

	suffix := u.String()
	suffix = suffix[:20-len(clientPrefix)]
	copy(id[len(clientPrefix):], suffix)

	return id, nil
}
