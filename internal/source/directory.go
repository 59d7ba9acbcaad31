// Package source feeds the playback queue from a local directory of
// point-cloud frame files. A local source behaves as a degenerate
// representation with no fetch cost: the ABR control loop is bypassed
// entirely and frames go straight to the queue in file order.
package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"vvplay/internal/buffer"
	"vvplay/internal/logger"
	"vvplay/internal/models"
)

// FrameReader is the external point-cloud file-format parser collaborator.
type FrameReader interface {
	ReadFrame(path string) (models.PointCloud, error)
}

// Directory plays back a directory of frame files at a fixed frame rate.
type Directory struct {
	logger    logger.Logger
	reader    FrameReader
	queue     *buffer.PlaybackQueue
	occupancy *buffer.Occupancy
	target    time.Duration
	frameDur  time.Duration
	files     []string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDirectory enumerates the frame files under dir, sorted by name. ext
// filters by extension ("pcd", "ply", ...); empty means every regular file.
func NewDirectory(log logger.Logger, reader FrameReader, dir, ext string,
	frameRate float64, queue *buffer.PlaybackQueue, occupancy *buffer.Occupancy,
	target time.Duration) (*Directory, error) {

	if frameRate <= 0 {
		return nil, fmt.Errorf("frame rate must be positive, got %v", frameRate)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame directory %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ext != "" && !strings.EqualFold(strings.TrimPrefix(filepath.Ext(e.Name()), "."), ext) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)

	if len(files) == 0 {
		return nil, fmt.Errorf("no frame files found in %s", dir)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Directory{
		logger:    log,
		reader:    reader,
		queue:     queue,
		occupancy: occupancy,
		target:    target,
		frameDur:  time.Duration(float64(time.Second) / frameRate),
		files:     files,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// FrameCount returns the number of frame files found.
func (d *Directory) FrameCount() int {
	return len(d.files)
}

// Start begins reading frames into the queue in the background. Reading is
// throttled by the buffer target so a long stream is not loaded into memory
// at once.
func (d *Directory) Start() {
	d.wg.Add(1)
	go d.feed()
}

// Stop abandons reading promptly.
func (d *Directory) Stop() {
	d.cancel()
	d.wg.Wait()
}

// Wait blocks until every frame has been queued or Stop was called.
func (d *Directory) Wait() {
	d.wg.Wait()
}

func (d *Directory) feed() {
	defer d.wg.Done()
	defer d.queue.Close()

	ticker := time.NewTicker(d.frameDur)
	defer ticker.Stop()

	for i, path := range d.files {
		for d.occupancy.Occupancy() >= d.target {
			select {
			case <-d.ctx.Done():
				return
			case <-ticker.C:
			}
		}

		frame := models.DecodedFrame{
			Seq:      uint64(i),
			PTS:      time.Duration(i) * d.frameDur,
			Duration: d.frameDur,
			RepID:    "local",
		}

		cloud, err := d.reader.ReadFrame(path)
		if err != nil {
			// Keep timing consistent with an explicit placeholder.
			d.logger.Warnf("Failed to read frame %s: %v", path, err)
			frame.Missing = true
		} else {
			frame.Cloud = cloud
		}

		if err := d.queue.Push(frame); err != nil {
			d.logger.Errorf("Failed to enqueue local frame %d: %v", i, err)
			return
		}
	}

	d.logger.Infof("Local source finished queueing %d frames", len(d.files))
}
