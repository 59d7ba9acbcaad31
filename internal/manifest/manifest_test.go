package manifest_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vvplay/internal/logger"
	"vvplay/internal/manifest"
)

const testManifest = `<?xml version="1.0" encoding="UTF-8"?>
<VVD type="static" frameRate="30">
  <Representation id="R02" bitrate="4000000" pointBudget="200000">
    <SegmentTemplate media="$RepresentationID$/segment_$Number$.bin" timescale="30">
      <SegmentTimeline>
        <S t="0" d="30" r="9"/>
      </SegmentTimeline>
    </SegmentTemplate>
  </Representation>
  <Representation id="R01" bitrate="1000000" pointBudget="100000">
    <SegmentTemplate media="$RepresentationID$/segment_$Number$.bin" timescale="30">
      <SegmentTimeline>
        <S t="0" d="30" r="9"/>
      </SegmentTimeline>
    </SegmentTemplate>
  </Representation>
</VVD>`

func TestParse_Valid(t *testing.T) {
	m, err := manifest.Parse([]byte(testManifest), "http://origin.example/stream/manifest.vvd")
	require.NoError(t, err)

	assert.Equal(t, 10, m.SegmentCount())
	assert.Equal(t, time.Second, m.SegmentDuration(0))
	assert.Equal(t, 10*time.Second, m.Duration())
	assert.Equal(t, 30.0, m.FrameRate)

	reps := m.Representations()
	require.Len(t, reps, 2)
	assert.Equal(t, "R01", reps[0].ID, "representations must be ascending by bitrate")
	assert.Equal(t, "R02", reps[1].ID)
	assert.Equal(t, int64(1000000), m.Lowest().Bitrate)
	assert.Equal(t, int64(4000000), m.Highest().Bitrate)
}

func TestParse_SegmentReference(t *testing.T) {
	m, err := manifest.Parse([]byte(testManifest), "http://origin.example/stream/manifest.vvd")
	require.NoError(t, err)

	ref, err := m.SegmentReference("R01", 3)
	require.NoError(t, err)
	assert.Equal(t, "http://origin.example/stream/R01/segment_3.bin", ref.URL)
	assert.Equal(t, "R01", ref.RepID)
	assert.Equal(t, 3, ref.Index)
	assert.Equal(t, time.Second, ref.Duration)
	assert.Equal(t, 30, ref.FrameCount)

	_, err = m.SegmentReference("R01", 10)
	assert.Error(t, err, "index past the timeline must be rejected")

	_, err = m.SegmentReference("R99", 0)
	assert.Error(t, err, "unknown representation must be rejected")
}

func TestParse_EmptyManifest(t *testing.T) {
	_, err := manifest.Parse([]byte(`<VVD type="static" frameRate="30"></VVD>`), "http://origin.example/")
	require.Error(t, err)
	assert.ErrorIs(t, err, manifest.ErrEmptyManifest)

	var perr *manifest.ParseError
	assert.ErrorAs(t, err, &perr)
}

func TestParse_InconsistentSegmentCount(t *testing.T) {
	const doc = `<VVD type="static" frameRate="30">
  <Representation id="R01" bitrate="1000000">
    <SegmentTemplate media="$RepresentationID$/$Number$.bin" timescale="30">
      <SegmentTimeline><S t="0" d="30" r="9"/></SegmentTimeline>
    </SegmentTemplate>
  </Representation>
  <Representation id="R02" bitrate="4000000">
    <SegmentTemplate media="$RepresentationID$/$Number$.bin" timescale="30">
      <SegmentTimeline><S t="0" d="30" r="8"/></SegmentTimeline>
    </SegmentTemplate>
  </Representation>
</VVD>`

	_, err := manifest.Parse([]byte(doc), "http://origin.example/")
	require.Error(t, err)
	assert.ErrorIs(t, err, manifest.ErrInconsistentTimeline)
}

func TestParse_InconsistentDurations(t *testing.T) {
	const doc = `<VVD type="static" frameRate="30">
  <Representation id="R01" bitrate="1000000">
    <SegmentTemplate media="$RepresentationID$/$Number$.bin" timescale="30">
      <SegmentTimeline><S t="0" d="30" r="4"/></SegmentTimeline>
    </SegmentTemplate>
  </Representation>
  <Representation id="R02" bitrate="4000000">
    <SegmentTemplate media="$RepresentationID$/$Number$.bin" timescale="30">
      <SegmentTimeline><S t="0" d="15" r="9"/></SegmentTimeline>
    </SegmentTemplate>
  </Representation>
</VVD>`

	_, err := manifest.Parse([]byte(doc), "http://origin.example/")
	require.Error(t, err)
	assert.ErrorIs(t, err, manifest.ErrInconsistentTimeline)
}

func TestParse_MalformedXML(t *testing.T) {
	_, err := manifest.Parse([]byte("not xml at all <"), "http://origin.example/")
	require.Error(t, err)

	var perr *manifest.ParseError
	assert.ErrorAs(t, err, &perr)
}

func TestClient_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		fmt.Fprint(w, testManifest)
	}))
	defer server.Close()

	client := manifest.NewClient(logger.Nop(), "test-agent")
	m, finalURL, err := client.Fetch(server.URL + "/manifest.vvd")
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/manifest.vvd", finalURL)
	assert.Equal(t, 10, m.SegmentCount())
}

func TestClient_FetchFollowsRedirect(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, testManifest)
	}))
	defer target.Close()

	redirector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL+"/manifest.vvd", http.StatusFound)
	}))
	defer redirector.Close()

	client := manifest.NewClient(logger.Nop(), "")
	m, finalURL, err := client.Fetch(redirector.URL)
	require.NoError(t, err)
	assert.Equal(t, target.URL+"/manifest.vvd", finalURL)

	// Segment URLs must resolve against the post-redirect location.
	ref, err := m.SegmentReference("R01", 0)
	require.NoError(t, err)
	assert.Equal(t, target.URL+"/R01/segment_0.bin", ref.URL)
}

func TestClient_FetchRetriesTransientFailure(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, testManifest)
	}))
	defer server.Close()

	client := manifest.NewClient(logger.Nop(), "")
	_, _, err := client.Fetch(server.URL)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClient_FetchDoesNotRetryParseErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, `<VVD type="static" frameRate="30"></VVD>`)
	}))
	defer server.Close()

	client := manifest.NewClient(logger.Nop(), "")
	_, _, err := client.Fetch(server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, manifest.ErrEmptyManifest)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "a malformed document must not be re-fetched")
}
