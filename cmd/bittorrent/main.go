/*
cmd/bittorrent is the CLI entrypoint (SPEC_FULL.md §4.10): parses flags,
loads the torrent's Metainfo, generates a Local Identity, and wires the
Tracker client, Piece Store, Work Queue, and console reporter into a
Supervisor.

Mirrors lvbealr-BitTorrent/main.go's shape: thin, delegates immediately,
fatal setup errors go through log.Fatalf.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"goleech/identity"
	"goleech/metainfo"
	"goleech/progress"
	"goleech/supervisor"
	"goleech/tracker"
)

func main() {
	torrentPath := flag.String("torrent", "", "path to the .torrent file")
	outputDir := flag.String("out", ".", "directory to write the downloaded file into")
	port := flag.Int("port", 6881, "TCP port to listen on (1024-49151)")
	seed := flag.Bool("seed", false, "remain in seed-only mode after completion")
	minUnchoked := flag.Int("min-unchoked", 0, "floor on unchoked peers (0 uses the spec default of 3)")
	flag.Parse()

	if *torrentPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s -torrent <file> [-out dir] [-port N] [-seed]\n", os.Args[0])
		os.Exit(1)
	}

	if *port < 1024 || *port > 49151 {
		log.Fatalf("[FATAL]\t-port must be in [1024, 49151], got %d\n", *port)
	}

	meta, err := metainfo.Load(*torrentPath)
	if err != nil {
		log.Fatalf("[FATAL]\tloading torrent: %v\n", err)
	}

	local, err := identity.New(meta.InfoHash)
	if err != nil {
		log.Fatalf("[FATAL]\tgenerating local identity: %v\n", err)
	}

	log.Printf("[INFO]\t%s: %d pieces, %d bytes, peer id %s\n", meta.Name, meta.NumPieces(), meta.TotalLength, local.PeerID)

	sv, err := supervisor.New(supervisor.Config{
		Meta:        meta,
		LocalPeerID: local.PeerID,
		ListenPort:  *port,
		OutputDir:   *outputDir,
		SeedMode:    *seed,
		MinUnchoked: *minUnchoked,
	})
	if err != nil {
		log.Fatalf("[FATAL]\tsetting up supervisor: %v\n", err)
	}
	defer sv.Close()

	trackerClient := newTrackerClient(meta.AnnounceList)
	if trackerClient == nil {
		log.Fatalf("[FATAL]\tno usable tracker announce URL found\n")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sv.Start(nil); err != nil {
		log.Fatalf("[FATAL]\tstarting supervisor: %v\n", err)
	}

	// The scheduler's first announce (event=started) supplies the initial
	// peer list via sv.OnAnnounce; subsequent announces happen on the
	// tracker-supplied interval until shutdown.
	scheduler := tracker.NewScheduler(trackerClient,
		func() tracker.Params { return sv.AnnounceParams(tracker.EventStarted) },
		sv.OnAnnounce,
	)

	go scheduler.Run(ctx)
	defer scheduler.Stop()

	reporter := progress.New(meta.Name, meta.TotalLength, sv.Counters())
	reportTicker := time.NewTicker(time.Second)
	defer reportTicker.Stop()

	go func() {
		for range reportTicker.C {
			reporter.Tick()
		}
	}()

	sv.Wait(ctx)
	reporter.Finish()

	log.Printf("[INFO]\tdownload complete: %s\n", meta.Name)
}

// newTrackerClient picks the first announce URL this client knows how to
// speak (http/https or udp), preferring HTTP since it requires no extra
// datagram round trip.
func newTrackerClient(announceList []string) tracker.PeerSource {
	var udpURL string

	for _, u := range announceList {
		switch {
		case strings.HasPrefix(u, "http://"), strings.HasPrefix(u, "https://"):
			return tracker.NewHTTP(u)
		case strings.HasPrefix(u, "udp://") && udpURL == "":
			udpURL = u
		}
	}

	if udpURL != "" {
		return tracker.NewUDP(udpURL)
	}

	return nil
}
