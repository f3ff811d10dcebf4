package tracker

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/jackpal/bencode-go"
)

const httpAnnounceTimeout = 15 * time.Second

// httpTrackerResponse mirrors the bencoded dictionary an HTTP tracker
// replies with, decoded the same way
// lvbealr-BitTorrent/torrent/tracker.go's TrackerResponse is.
type httpTrackerResponse struct {
	Failure    string `bencode:"failure reason"`
	Interval   int    `bencode:"interval"`
	Complete   int    `bencode:"complete"`
	Incomplete int    `bencode:"incomplete"`
	Peers      string `bencode:"peers"`
}

// HTTPTracker announces over a plain HTTP(S) tracker URL.
type HTTPTracker struct {
	announceURL string
	client      *http.Client
}

// NewHTTP constructs an HTTPTracker for announceURL.
func NewHTTP(announceURL string) *HTTPTracker {
	return &HTTPTracker{
		announceURL: announceURL,
		client:      &http.Client{Timeout: httpAnnounceTimeout},
	}
}

// Announce implements PeerSource for the HTTP tracker protocol.
func (t *HTTPTracker) Announce(ctx context.Context, p Params) (AnnounceResult, error) {
	u, err := url.Parse(t.announceURL)
	if err != nil {
		return AnnounceResult{}, fmt.Errorf("tracker: parsing announce URL: %w", err)
	}

	q := url.Values{}
	q.Set("info_hash", string(p.InfoHash[:]))
	q.Set("peer_id", string(p.PeerID[:]))
	q.Set("port", fmt.Sprintf("%d", p.Port))
	q.Set("uploaded", fmt.Sprintf("%d", p.Uploaded))
	q.Set("downloaded", fmt.Sprintf("%d", p.Downloaded))
	q.Set("left", fmt.Sprintf("%d", p.Left))
	q.Set("compact", "1")

	if ev := p.Event.httpValue(); ev != "" {
		q.Set("event", ev)
	}

	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return AnnounceResult{}, fmt.Errorf("tracker: building request: %w", err)
	}

	req.Header.Set("User-Agent", "goleech/1.0")

	log.Printf("[INFO]\ttracker: announcing to %s\n", u.Host)

	resp, err := t.client.Do(req)
	if err != nil {
		return AnnounceResult{}, fmt.Errorf("tracker: http announce: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return AnnounceResult{}, fmt.Errorf("tracker: unexpected status %s", resp.Status)
	}

	var parsed httpTrackerResponse
	if err := bencode.Unmarshal(resp.Body, &parsed); err != nil {
		return AnnounceResult{}, fmt.Errorf("tracker: decoding response: %w", err)
	}

	if parsed.Failure != "" {
		return AnnounceResult{}, fmt.Errorf("tracker: failure reason: %s", parsed.Failure)
	}

	peers, err := parseCompactPeers([]byte(parsed.Peers))
	if err != nil {
		return AnnounceResult{}, err
	}

	return AnnounceResult{
		Peers:      peers,
		Interval:   time.Duration(parsed.Interval) * time.Second,
		Complete:   parsed.Complete,
		Incomplete: parsed.Incomplete,
	}, nil
}
