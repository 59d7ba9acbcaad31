package manifest

import (
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"vvplay/internal/models"
)

var (
	// ErrEmptyManifest is returned for manifests with zero representations.
	ErrEmptyManifest = errors.New("manifest contains no representations")
	// ErrInconsistentTimeline is returned when representations disagree on
	// segment count or per-index durations. Tier switches happen at segment
	// boundaries, so segments must be time-aligned across representations.
	ErrInconsistentTimeline = errors.New("representations disagree on segment timeline")
)

// ParseError is the fatal manifest-level error. It aborts stream start.
type ParseError struct {
	Detail string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("manifest parse: %v", e.Err)
	}
	return fmt.Sprintf("manifest parse: %s: %v", e.Detail, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// vvd is the root element of a volumetric video description document.
type vvd struct {
	XMLName         xml.Name            `xml:"VVD"`
	Type            string              `xml:"type,attr"`
	FrameRate       float64             `xml:"frameRate,attr"`
	Representations []xmlRepresentation `xml:"Representation"`
}

type xmlRepresentation struct {
	ID          string          `xml:"id,attr"`
	Bitrate     int64           `xml:"bitrate,attr"`
	PointBudget int             `xml:"pointBudget,attr,omitempty"`
	Template    segmentTemplate `xml:"SegmentTemplate"`
}

type segmentTemplate struct {
	Timescale int             `xml:"timescale,attr"`
	Media     string          `xml:"media,attr"`
	Timeline  segmentTimeline `xml:"SegmentTimeline"`
}

type segmentTimeline struct {
	Segments []s `xml:"S"`
}

// s represents a single segment or a run of segments with equal duration.
type s struct {
	T uint64 `xml:"t,attr"`           // Start time
	D uint64 `xml:"d,attr"`           // Duration
	R int    `xml:"r,attr,omitempty"` // Repeat count
}

// Representation is one quality tier of the stream.
type Representation struct {
	// ID is the stable identifier used in segment addressing.
	ID string
	// Bitrate is the nominal bitrate in bits per second.
	Bitrate int64
	// PointBudget is the advertised point count per frame, zero if absent.
	PointBudget int

	media     string
	timescale int
}

// Manifest is the parsed, immutable description of all representations and
// their segment addressing. Representations are held ascending by bitrate;
// the ABR engine relies on that ordering for deterministic tie-breaking.
type Manifest struct {
	FrameRate float64

	baseURL   *url.URL
	reps      []Representation
	durations []time.Duration // per segment index, shared by all reps
	frames    []int           // frames per segment index
}

// Parse parses a serialized manifest and validates its timeline invariants.
// baseURL is the location the manifest was fetched from; segment addresses
// resolve against it.
func Parse(raw []byte, baseURL string) (*Manifest, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, &ParseError{Detail: fmt.Sprintf("invalid base URL %q", baseURL), Err: err}
	}

	var doc vvd
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, &ParseError{Detail: "malformed XML", Err: err}
	}

	if len(doc.Representations) == 0 {
		return nil, &ParseError{Err: ErrEmptyManifest}
	}
	if doc.FrameRate <= 0 {
		return nil, &ParseError{Err: fmt.Errorf("frameRate attribute must be positive, got %v", doc.FrameRate)}
	}

	m := &Manifest{
		FrameRate: doc.FrameRate,
		baseURL:   base,
	}

	for i := range doc.Representations {
		xr := &doc.Representations[i]
		if xr.Template.Timescale <= 0 {
			return nil, &ParseError{
				Detail: fmt.Sprintf("representation %q", xr.ID),
				Err:    fmt.Errorf("timescale must be positive, got %d", xr.Template.Timescale),
			}
		}

		durations, err := expandTimeline(xr.Template.Timeline, xr.Template.Timescale)
		if err != nil {
			return nil, &ParseError{Detail: fmt.Sprintf("representation %q", xr.ID), Err: err}
		}
		if len(durations) == 0 {
			return nil, &ParseError{
				Detail: fmt.Sprintf("representation %q", xr.ID),
				Err:    fmt.Errorf("%w: empty segment timeline", ErrInconsistentTimeline),
			}
		}

		if m.durations == nil {
			m.durations = durations
		} else if !equalDurations(m.durations, durations) {
			return nil, &ParseError{
				Detail: fmt.Sprintf("representation %q", xr.ID),
				Err:    ErrInconsistentTimeline,
			}
		}

		m.reps = append(m.reps, Representation{
			ID:          xr.ID,
			Bitrate:     xr.Bitrate,
			PointBudget: xr.PointBudget,
			media:       xr.Template.Media,
			timescale:   xr.Template.Timescale,
		})
	}

	m.frames = make([]int, len(m.durations))
	for i, d := range m.durations {
		n := int(d.Seconds()*m.FrameRate + 0.5)
		if n < 1 {
			n = 1
		}
		m.frames[i] = n
	}

	// Ascending by bitrate, stable for equal bitrates.
	sort.SliceStable(m.reps, func(i, j int) bool {
		return m.reps[i].Bitrate < m.reps[j].Bitrate
	})

	return m, nil
}

// expandTimeline flattens the S entries into one duration per segment index.
func expandTimeline(tl segmentTimeline, timescale int) ([]time.Duration, error) {
	var durations []time.Duration
	for _, entry := range tl.Segments {
		if entry.D == 0 {
			return nil, fmt.Errorf("segment timeline entry with zero duration")
		}
		if entry.R < 0 {
			return nil, fmt.Errorf("open-ended repeat counts are not supported for static streams")
		}
		d := time.Duration(float64(entry.D) / float64(timescale) * float64(time.Second))
		for i := 0; i <= entry.R; i++ {
			durations = append(durations, d)
		}
	}
	return durations, nil
}

func equalDurations(a, b []time.Duration) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Representations returns all quality tiers ascending by nominal bitrate.
func (m *Manifest) Representations() []Representation {
	reps := make([]Representation, len(m.reps))
	copy(reps, m.reps)
	return reps
}

// Lowest returns the lowest-bitrate representation.
func (m *Manifest) Lowest() Representation {
	return m.reps[0]
}

// Highest returns the highest-bitrate representation.
func (m *Manifest) Highest() Representation {
	return m.reps[len(m.reps)-1]
}

// SegmentCount returns the number of segments, identical across tiers.
func (m *Manifest) SegmentCount() int {
	return len(m.durations)
}

// SegmentDuration returns the playback duration of the segment at index.
func (m *Manifest) SegmentDuration(index int) time.Duration {
	return m.durations[index]
}

// Duration returns the total playback duration of the stream.
func (m *Manifest) Duration() time.Duration {
	var total time.Duration
	for _, d := range m.durations {
		total += d
	}
	return total
}

// SegmentReference resolves the fetch address of one segment of one
// representation.
func (m *Manifest) SegmentReference(repID string, index int) (models.SegmentRef, error) {
	if index < 0 || index >= len(m.durations) {
		return models.SegmentRef{}, fmt.Errorf("segment index %d out of range [0, %d)", index, len(m.durations))
	}

	var rep *Representation
	for i := range m.reps {
		if m.reps[i].ID == repID {
			rep = &m.reps[i]
			break
		}
	}
	if rep == nil {
		return models.SegmentRef{}, fmt.Errorf("representation %q not found in manifest", repID)
	}

	mediaPath := strings.Replace(rep.media, "$RepresentationID$", rep.ID, 1)
	mediaPath = strings.Replace(mediaPath, "$Number$", strconv.Itoa(index), 1)

	resolved, err := url.Parse(mediaPath)
	if err != nil {
		return models.SegmentRef{}, fmt.Errorf("failed to parse media path %q: %w", mediaPath, err)
	}

	return models.SegmentRef{
		RepID:      rep.ID,
		Index:      index,
		URL:        m.baseURL.ResolveReference(resolved).String(),
		Duration:   m.durations[index],
		FrameCount: m.frames[index],
	}, nil
}
