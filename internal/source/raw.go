package source

import (
	"fmt"
	"os"

	"vvplay/internal/models"
)

// pointStride is the packed size of one xyz+rgba point.
const pointStride = 16

// RawReader is a FrameReader for files that already contain packed point
// data. Real format parsers (pcd, ply) plug in through the FrameReader
// interface.
type RawReader struct{}

// ReadFrame implements FrameReader.
func (RawReader) ReadFrame(path string) (models.PointCloud, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.PointCloud{}, fmt.Errorf("failed to read frame file: %w", err)
	}
	return models.PointCloud{
		Points: len(data) / pointStride,
		Data:   data,
	}, nil
}
