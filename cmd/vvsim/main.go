// vvsim replays the ABR control loop offline against a bandwidth trace.
// It fetches nothing: segment download times are derived from the trace and
// the chosen tier's bitrate, so policy behavior is reproducible and can be
// checked by hand.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"vvplay/internal/abr"
	"vvplay/internal/config"
	"vvplay/internal/logger"
	"vvplay/internal/manifest"
	"vvplay/internal/models"
	"vvplay/internal/throughput"
)

func main() {
	manifestPath := pflag.StringP("manifest", "m", "", "Path to the manifest file")
	tracePath := pflag.StringP("trace", "t", "", "Path to the bandwidth trace (KB/s per line, one per segment interval)")
	algorithm := pflag.StringP("algorithm", "a", "hybrid", "ABR policy to simulate (hybrid, ladder)")
	configFile := pflag.StringP("config", "c", "", "Path to the player config file")
	logLevel := pflag.StringP("log-level", "L", "warn", "Log level (error, warn, info, debug)")
	pflag.Parse()

	log := logger.NewLogger(*logLevel)

	if *manifestPath == "" || *tracePath == "" {
		fmt.Fprintln(os.Stderr, "both --manifest and --trace are required")
		pflag.Usage()
		os.Exit(1)
	}

	cfg := config.Default()
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	raw, err := os.ReadFile(*manifestPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read manifest: %v\n", err)
		os.Exit(1)
	}
	m, err := manifest.Parse(raw, "sim://origin/")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse manifest: %v\n", err)
		os.Exit(1)
	}

	trace, err := readTrace(*tracePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read trace: %v\n", err)
		os.Exit(1)
	}

	hybrid := abr.NewHybrid(cfg.ABR, log)
	var adapter abr.Adapter
	switch *algorithm {
	case "hybrid":
		adapter = hybrid
	case "ladder":
		adapter = abr.Ladder{}
	default:
		fmt.Fprintf(os.Stderr, "unknown algorithm %q\n", *algorithm)
		os.Exit(1)
	}

	run(m, cfg, adapter, hybrid, trace, *algorithm == "hybrid")
}

// readTrace parses one bandwidth value in KB/s per line.
func readTrace(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var trace []float64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid trace line %q: %w", line, err)
		}
		trace = append(trace, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(trace) == 0 {
		return nil, fmt.Errorf("trace file %s is empty", path)
	}
	return trace, nil
}

// run walks the stream segment by segment with a simple fluid buffer
// model: fetching drains the buffer in real time, a completed segment
// refills it by its playback duration.
func run(m *manifest.Manifest, cfg *config.Player, adapter abr.Adapter,
	hybrid *abr.Hybrid, trace []float64, isHybrid bool) {

	reps := m.Representations()
	est := throughput.New(cfg.Playback.ThroughputWindow, float64(m.Lowest().Bitrate))

	var last manifest.Representation
	var occupancy time.Duration
	stalls := 0
	tierCounts := make(map[string]int)

	fmt.Printf("%-8s %-8s %12s %12s %8s\n", "segment", "tier", "estimate", "buffer", "event")

	for index := 0; index < m.SegmentCount(); index++ {
		bwBps := trace[min(index, len(trace)-1)] * 8000 // KB/s to bits/s

		rep := adapter.SelectNext(reps, est.Estimate(), occupancy, last)
		last = rep
		tierCounts[rep.ID]++

		segDur := m.SegmentDuration(index)
		segBytes := int64(float64(rep.Bitrate) / 8 * segDur.Seconds())
		fetchTime := time.Duration(float64(segBytes*8) / bwBps * float64(time.Second))

		event := ""
		if index > 0 {
			// Playback runs while the fetch is in flight.
			if fetchTime > occupancy {
				stalls++
				event = "STALL"
				occupancy = 0
				if isHybrid {
					hybrid.OnStall()
				}
			} else {
				occupancy -= fetchTime
			}
		}
		occupancy += segDur

		est.Record(models.ThroughputSample{Bytes: segBytes, Elapsed: fetchTime})

		fmt.Printf("%-8d %-8s %12.0f %12v %8s\n", index, rep.ID, est.Estimate(), occupancy, event)
	}

	fmt.Printf("\nsegments: %d, stalls: %d\n", m.SegmentCount(), stalls)
	for _, rep := range reps {
		if n := tierCounts[rep.ID]; n > 0 {
			fmt.Printf("  %s (%d bps): %d\n", rep.ID, rep.Bitrate, n)
		}
	}
}
