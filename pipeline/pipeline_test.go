package pipeline

import (
	"context"
	"io"
	"math"
	"testing"

	"github.com/LdDl/mot-counter/config"
	"github.com/LdDl/mot-counter/counting"
	"github.com/LdDl/mot-counter/mot"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boxAt(cx, cy float64) mot.Rectangle {
	return mot.NewRect(cx-10, cy-10, cx+10, cy+10)
}

func quietLogger() *logrus.Entry {
	logger, _ := test.NewNullLogger()
	return logrus.NewEntry(logger)
}

func newPipeline(t *testing.T, cfg *config.Config, options ...Option) *Pipeline {
	t.Helper()
	options = append([]Option{WithLogger(quietLogger())}, options...)
	p, err := New(cfg, options...)
	require.NoError(t, err)
	return p
}

// flakyRegistry fails the given number of Update calls before delegating
type flakyRegistry struct {
	*mot.CentroidTracker
	failures int
	resets   int
}

func (r *flakyRegistry) Update(detections []mot.Rectangle) (map[int]mot.TrackSnapshot, error) {
	if r.failures > 0 {
		r.failures--
		return nil, errors.New("assignment failed")
	}
	return r.CentroidTracker.Update(detections)
}

func (r *flakyRegistry) Reset() {
	r.resets++
	r.CentroidTracker.Reset()
}

func TestPipelineRegionScenario(t *testing.T) {
	cfg := config.Default()
	region := mot.NewRect(0, 0, 200, 200)
	cfg.Region = &region
	cfg.Counting.MinTrackLength = 5

	logger, hook := test.NewNullLogger()
	p := newPipeline(t, cfg, WithLogger(logrus.NewEntry(logger)))
	for frame := 1; frame <= 4; frame++ {
		result := p.ProcessFrame(frame, []mot.Rectangle{boxAt(100, 100)})
		assert.Equal(t, 0, result.Total, "frame %d", frame)
		assert.Empty(t, result.Events)
		require.Len(t, result.Tracks, 1)
		assert.False(t, result.Tracks[0].Counted)
	}
	result := p.ProcessFrame(5, []mot.Rectangle{boxAt(100, 100)})
	assert.Equal(t, 1, result.Total)
	require.Len(t, result.Events, 1)
	assert.Equal(t, counting.Event{TrackID: 0, Total: 1, Frame: 5, Centroid: mot.Point{X: 100, Y: 100}}, result.Events[0])
	require.Len(t, result.Tracks, 1)
	assert.True(t, result.Tracks[0].Counted)

	var counted []*logrus.Entry
	for _, entry := range hook.AllEntries() {
		if entry.Message == "object counted" {
			counted = append(counted, entry)
		}
	}
	require.Len(t, counted, 1)
	assert.Equal(t, 0, counted[0].Data["track_id"])
	assert.Equal(t, 1, counted[0].Data["total"])
}

func TestPipelineRetriesAfterReset(t *testing.T) {
	cfg := config.Default()
	cfg.Counting.MinTrackLength = 1
	tracker, err := mot.NewCentroidTracker(cfg.Tracking.MaxDisappeared, cfg.Tracking.MaxDistance)
	require.NoError(t, err)
	registry := &flakyRegistry{CentroidTracker: tracker}

	p := newPipeline(t, cfg, WithRegistry(registry))
	p.ProcessFrame(1, []mot.Rectangle{boxAt(100, 100)})
	require.Equal(t, 1, tracker.Len())

	registry.failures = 1
	result := p.ProcessFrame(2, []mot.Rectangle{boxAt(105, 100)})
	assert.False(t, result.Degraded)
	assert.Equal(t, 1, registry.resets)
	require.Len(t, result.Tracks, 1)
	// Registry started from scratch, ID counter is not rewound
	assert.Equal(t, 1, result.Tracks[0].ID)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 0, p.DegradedFrames())
}

func TestPipelineDegradesAfterSecondFailure(t *testing.T) {
	cfg := config.Default()
	cfg.Counting.MinTrackLength = 1
	p := newPipeline(t, cfg)

	first := p.ProcessFrame(1, []mot.Rectangle{boxAt(100, 100)})
	require.Equal(t, 1, first.Total)

	result := p.ProcessFrame(2, []mot.Rectangle{boxAt(100, 100), mot.NewRect(math.NaN(), 0, 1, 1)})
	assert.True(t, result.Degraded)
	assert.Empty(t, result.Tracks)
	assert.Empty(t, result.Events)
	assert.Equal(t, 1, result.Total, "failed frame contributes no count changes")
	assert.Equal(t, 1, p.DegradedFrames())

	// Stream keeps going
	next := p.ProcessFrame(3, []mot.Rectangle{boxAt(300, 300)})
	assert.False(t, next.Degraded)
	assert.Len(t, next.Tracks, 1)
}

func TestPipelineHiddenTrackIsNotCountedTwice(t *testing.T) {
	cfg := config.Default()
	cfg.Counting.MinTrackLength = 1
	p := newPipeline(t, cfg)

	result := p.ProcessFrame(1, []mot.Rectangle{boxAt(100, 100)})
	require.Equal(t, 1, result.Total)
	result = p.ProcessFrame(2, nil)
	assert.Empty(t, result.Tracks)
	assert.Empty(t, p.engine.History(0), "history of invisible track is dropped")

	result = p.ProcessFrame(3, []mot.Rectangle{boxAt(102, 100)})
	require.Len(t, result.Tracks, 1)
	assert.Equal(t, 0, result.Tracks[0].ID)
	assert.True(t, result.Tracks[0].Counted)
	assert.Empty(t, result.Events)
	assert.Equal(t, 1, result.Total)
}

func TestPipelineForgetsDeregisteredTracks(t *testing.T) {
	cfg := config.Default()
	cfg.Tracking.MaxDisappeared = 1
	cfg.Counting.MinTrackLength = 1
	p := newPipeline(t, cfg)

	p.ProcessFrame(1, []mot.Rectangle{boxAt(100, 100)})
	require.True(t, p.engine.IsCounted(0))
	p.ProcessFrame(2, nil)
	assert.True(t, p.engine.IsCounted(0))
	p.ProcessFrame(3, nil)
	assert.False(t, p.engine.IsCounted(0), "state of deregistered track is removed")
}

func TestPipelineTotalNeverDecreases(t *testing.T) {
	cfg := config.Default()
	cfg.Counting.MinTrackLength = 2
	cfg.Tracking.MaxDisappeared = 2
	p := newPipeline(t, cfg)

	previous := 0
	for frame := 1; frame <= 200; frame++ {
		detections := make([]mot.Rectangle, 0)
		// Objects enter every 10 frames and move right by 10 px per frame
		for start := 0; start < frame; start += 10 {
			x := float64(frame-start) * 10
			if x < 1000 && frame%7 != 0 {
				detections = append(detections, boxAt(x, 100+float64(start%30)))
			}
		}
		result := p.ProcessFrame(frame, detections)
		require.GreaterOrEqual(t, result.Total, previous, "frame %d", frame)
		previous = result.Total
	}
	assert.Greater(t, previous, 0)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Tracking.MaxDistance = -1
	_, err := New(cfg, WithLogger(quietLogger()))
	require.Error(t, err)
	assert.Equal(t, config.ErrInvalidConfig, errors.Cause(err))

	p, err := New(nil, WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, p.SessionID())

	id := uuid.New()
	p, err = New(nil, WithLogger(quietLogger()), WithSessionID(id))
	require.NoError(t, err)
	assert.Equal(t, id, p.SessionID())
}

func TestPipelineCountedHandler(t *testing.T) {
	cfg := config.Default()
	cfg.Counting.MinTrackLength = 1
	var events []counting.Event
	p := newPipeline(t, cfg, WithCountedHandler(func(e counting.Event) {
		events = append(events, e)
	}))
	p.ProcessFrame(1, []mot.Rectangle{boxAt(100, 100), boxAt(400, 400)})
	require.Len(t, events, 2)
	assert.Equal(t, 0, events[0].TrackID)
	assert.Equal(t, 1, events[1].TrackID)
}

// sliceSource replays frames, optionally cancelling context after given number of frames
type sliceSource struct {
	frames      []Frame
	next        int
	cancelAfter int
	cancel      context.CancelFunc
}

func (s *sliceSource) Next(ctx context.Context) (Frame, error) {
	if s.cancel != nil && s.next == s.cancelAfter {
		s.cancel()
		return Frame{}, ctx.Err()
	}
	if s.next >= len(s.frames) {
		return Frame{}, io.EOF
	}
	frame := s.frames[s.next]
	s.next++
	return frame, nil
}

type recordingSink struct {
	results []FrameResult
	closed  int
	failAt  int
}

func (s *recordingSink) Consume(result FrameResult) error {
	if s.failAt > 0 && result.Frame == s.failAt {
		return errors.New("disk full")
	}
	s.results = append(s.results, result)
	return nil
}

func (s *recordingSink) Close() error {
	s.closed++
	return nil
}

func framesAt(indices ...int) []Frame {
	frames := make([]Frame, 0, len(indices))
	for _, idx := range indices {
		frames = append(frames, Frame{Index: idx, Detections: []mot.Rectangle{boxAt(100, 100)}})
	}
	return frames
}

func TestRunUntilEOF(t *testing.T) {
	cfg := config.Default()
	cfg.Counting.MinTrackLength = 3
	p := newPipeline(t, cfg)
	sink := &recordingSink{}

	summary, err := p.Run(context.Background(), &sliceSource{frames: framesAt(1, 2, 3, 4, 5)}, sink)
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Frames)
	assert.Equal(t, 1, summary.Total)
	assert.False(t, summary.Interrupted)
	assert.Equal(t, p.SessionID(), summary.SessionID)
	assert.Len(t, sink.results, 5)
	assert.Equal(t, 1, sink.closed)
	assert.GreaterOrEqual(t, summary.FPS(), 0.0)
}

func TestRunStopsBetweenFramesOnCancel(t *testing.T) {
	p := newPipeline(t, config.Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	source := &sliceSource{frames: framesAt(1, 2, 3, 4, 5), cancelAfter: 2, cancel: cancel}
	sink := &recordingSink{}

	summary, err := p.Run(ctx, source, sink)
	require.NoError(t, err)
	assert.True(t, summary.Interrupted)
	assert.Equal(t, 2, summary.Frames)
	assert.Len(t, sink.results, 2)
	assert.Equal(t, 1, sink.closed)
}

func TestRunRejectsOutOfOrderFrames(t *testing.T) {
	p := newPipeline(t, config.Default())
	sink := &recordingSink{}
	_, err := p.Run(context.Background(), &sliceSource{frames: framesAt(1, 3, 2)}, sink)
	require.Error(t, err)
	assert.Equal(t, ErrOutOfOrder, errors.Cause(err))
	assert.Len(t, sink.results, 2)
	assert.Equal(t, 1, sink.closed)
}

func TestRunSinkError(t *testing.T) {
	p := newPipeline(t, config.Default())
	sink := &recordingSink{failAt: 2}
	other := &recordingSink{}
	_, err := p.Run(context.Background(), &sliceSource{frames: framesAt(1, 2, 3)}, sink, other)
	require.Error(t, err)
	assert.Equal(t, 1, sink.closed)
	assert.Equal(t, 1, other.closed)
}
