package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"vvplay/internal/buffer"
	"vvplay/internal/config"
	"vvplay/internal/decode"
	"vvplay/internal/logger"
	"vvplay/internal/manifest"
	"vvplay/internal/playback"
	"vvplay/internal/player"
	"vvplay/internal/source"
)

func main() {
	// 1. Parse command-line arguments
	manifestURL := pflag.StringP("manifest", "m", "", "Manifest URL for streaming playback")
	localDir := pflag.String("local", "", "Directory of frame files for local playback")
	localExt := pflag.String("ext", "", "Frame file extension filter for local playback (pcd, ply, bin)")
	localFPS := pflag.Float64("fps", 30, "Frame rate for local playback")
	configFile := pflag.StringP("config", "c", "", "Path to the player config file")
	logLevel := pflag.StringP("log-level", "L", "info", "Log level (error, warn, info, debug)")
	pflag.Parse()

	// 2. Initialize logger
	log := logger.NewLogger(*logLevel)
	log.Infof("Starting volumetric video player...")

	// 3. Load configuration
	cfg := config.Default()
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			log.Errorf("Failed to load configuration: %v", err)
			os.Exit(1)
		}
		cfg = loaded
		log.Infof("Configuration loaded from %s", *configFile)
	}

	// 4. Stop on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case *localDir != "":
		runLocal(ctx, log, cfg, *localDir, *localExt, *localFPS)
	case *manifestURL != "":
		runStream(ctx, log, cfg, *manifestURL)
	default:
		log.Errorf("Either --manifest or --local is required")
		pflag.Usage()
		os.Exit(1)
	}
}

// runStream plays an HTTP-addressable adaptive stream end to end.
func runStream(ctx context.Context, log logger.Logger, cfg *config.Player, url string) {
	client := manifest.NewClient(log, cfg.UserAgent)
	m, finalURL, err := client.Fetch(url)
	if err != nil {
		log.Errorf("Failed to fetch manifest: %v", err)
		os.Exit(1)
	}
	log.Infof("Manifest loaded from %s: %d representations, %v total",
		finalURL, len(m.Representations()), m.Duration())

	session := player.NewSession(log, cfg, m, client.HttpClient(), decode.RawSplitter{})
	session.Start()
	defer session.Stop()

	frameDur := time.Duration(float64(time.Second) / m.FrameRate)
	presented := runClock(ctx, log, session.Clock(), frameDur)

	if err := session.Wait(); err != nil {
		log.Errorf("Playback failed: %v", err)
		os.Exit(1)
	}

	snap := session.Metrics()
	log.Infof("Playback finished: %d frames presented, %d stalls, %d dropped, %d segments (%d failed), %d bytes",
		presented, snap.Stalls, snap.DroppedFrames, snap.SegmentsFetched, snap.SegmentsFailed, snap.BytesFetched)
}

// runLocal plays a directory of frame files through the same queue and
// render clock as the streaming path.
func runLocal(ctx context.Context, log logger.Logger, cfg *config.Player, dir, ext string, fps float64) {
	occupancy := buffer.NewOccupancy(log)
	queue := buffer.NewQueue(occupancy)

	src, err := source.NewDirectory(log, source.RawReader{}, dir, ext, fps,
		queue, occupancy, cfg.Playback.BufferTarget.Std())
	if err != nil {
		log.Errorf("Failed to open local source: %v", err)
		os.Exit(1)
	}
	log.Infof("Local playback of %d frames from %s at %.4g fps", src.FrameCount(), dir, fps)

	src.Start()
	defer src.Stop()

	clock := playback.NewScheduler(queue, log)
	frameDur := time.Duration(float64(time.Second) / fps)
	presented := runClock(ctx, log, clock, frameDur)

	log.Infof("Playback finished: %d frames presented, %d stalls, %d dropped",
		presented, clock.Stalls(), clock.Dropped())
}

// runClock is the renderer collaborator for headless runs: it ticks the
// render clock at the frame cadence and discards the frames.
func runClock(ctx context.Context, log logger.Logger, clock *playback.Scheduler, frameDur time.Duration) int {
	interval := frameDur / 2
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	presented := 0
	for {
		select {
		case <-ctx.Done():
			log.Infof("Playback interrupted")
			return presented
		case <-ticker.C:
			frame, result := clock.Tick(time.Now())
			switch result {
			case playback.TickFrame:
				presented++
				if frame.Missing {
					log.Debugf("Presented placeholder for frame %d", frame.Seq)
				}
			case playback.TickFinished:
				return presented
			}
		}
	}
}
