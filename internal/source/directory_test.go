package source_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vvplay/internal/buffer"
	"vvplay/internal/logger"
	"vvplay/internal/models"
	"vvplay/internal/source"
)

func writeFrames(t *testing.T, dir string, count int, ext string) {
	t.Helper()
	for i := 0; i < count; i++ {
		name := filepath.Join(dir, fmt.Sprintf("frame_%04d.%s", i, ext))
		require.NoError(t, os.WriteFile(name, []byte(fmt.Sprintf("frame-%d", i)), 0o644))
	}
}

func TestDirectory_QueuesFramesInFileOrder(t *testing.T) {
	dir := t.TempDir()
	writeFrames(t, dir, 5, "bin")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	occ := buffer.NewOccupancy(logger.Nop())
	q := buffer.NewQueue(occ)

	d, err := source.NewDirectory(logger.Nop(), fakeReader{}, dir, "bin", 30, q, occ, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 5, d.FrameCount(), "extension filter must exclude unrelated files")

	d.Start()
	d.Wait()

	assert.True(t, q.Closed())
	perFrame := time.Second / 30
	for i := 0; i < 5; i++ {
		f, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, uint64(i), f.Seq)
		assert.Equal(t, time.Duration(i)*perFrame, f.PTS)
		assert.Equal(t, "local", f.RepID)
		assert.False(t, f.Missing)
		assert.Equal(t, []byte(fmt.Sprintf("frame-%d", i)), f.Cloud.Data)
	}
	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestDirectory_UnreadableFrameBecomesPlaceholder(t *testing.T) {
	dir := t.TempDir()
	writeFrames(t, dir, 3, "bin")

	occ := buffer.NewOccupancy(logger.Nop())
	q := buffer.NewQueue(occ)

	d, err := source.NewDirectory(logger.Nop(), fakeReader{failOn: "frame_0001"}, dir, "bin", 30, q, occ, time.Minute)
	require.NoError(t, err)

	d.Start()
	d.Wait()

	var missing []uint64
	for {
		f, ok := q.Pop()
		if !ok {
			break
		}
		if f.Missing {
			missing = append(missing, f.Seq)
		}
	}
	assert.Equal(t, []uint64{1}, missing, "a bad file costs its own slot and nothing else")
}

func TestDirectory_ThrottlesOnBufferTarget(t *testing.T) {
	dir := t.TempDir()
	writeFrames(t, dir, 30, "bin")

	occ := buffer.NewOccupancy(logger.Nop())
	q := buffer.NewQueue(occ)

	// 30fps frames against a 100ms target: at most 3 frames fit before the
	// feeder has to wait for the consumer.
	d, err := source.NewDirectory(logger.Nop(), fakeReader{}, dir, "bin", 30, q, occ, 100*time.Millisecond)
	require.NoError(t, err)

	d.Start()
	defer d.Stop()

	time.Sleep(150 * time.Millisecond)
	assert.LessOrEqual(t, q.Len(), 4, "feeder must not run ahead of the buffer target")
	assert.False(t, q.Closed())

	// Consuming makes room; the feeder resumes and eventually finishes.
	deadline := time.After(5 * time.Second)
	popped := 0
	for popped < 30 {
		if _, ok := q.Pop(); ok {
			popped++
			continue
		}
		select {
		case <-deadline:
			t.Fatalf("feeder stalled; popped %d of 30 frames", popped)
		case <-time.After(5 * time.Millisecond):
		}
	}
	d.Wait()
	assert.True(t, q.Closed())
}

func TestDirectory_RejectsEmptyDirectory(t *testing.T) {
	_, err := source.NewDirectory(logger.Nop(), fakeReader{}, t.TempDir(), "bin", 30, nil, nil, time.Minute)
	assert.Error(t, err)
}

func TestRawReader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "frame.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 48), 0o644))

	cloud, err := source.RawReader{}.ReadFrame(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cloud.Points)
	assert.Len(t, cloud.Data, 48)

	_, err = source.RawReader{}.ReadFrame(filepath.Join(dir, "absent.bin"))
	assert.Error(t, err)
}

// fakeReader returns the file contents as-is, optionally failing for paths
// containing failOn.
type fakeReader struct {
	failOn string
}

func (r fakeReader) ReadFrame(path string) (models.PointCloud, error) {
	if r.failOn != "" && filepath.Base(path) == r.failOn+".bin" {
		return models.PointCloud{}, fmt.Errorf("unreadable frame file")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return models.PointCloud{}, err
	}
	return models.PointCloud{Points: 1, Data: data}, nil
}
