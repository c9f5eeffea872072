package pipeline

import (
	"context"
	"io"
	"time"

	"github.com/LdDl/mot-counter/mot"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrOutOfOrder is returned when source delivers frame index not greater than previous one
var ErrOutOfOrder = errors.New("frames delivered out of capture order")

// Frame is one frame of detections
type Frame struct {
	Index      int
	Detections []mot.Rectangle
}

// FrameSource delivers frames in capture order. Next returns io.EOF when stream is over.
type FrameSource interface {
	Next(ctx context.Context) (Frame, error)
}

// Sink consumes frame results. Close is called exactly once when Run returns.
type Sink interface {
	Consume(result FrameResult) error
	Close() error
}

// Summary describes a finished run
type Summary struct {
	SessionID      uuid.UUID
	Total          int
	Frames         int
	DegradedFrames int
	Started        time.Time
	Duration       time.Duration
	Interrupted    bool
}

// FPS returns processing rate
func (s Summary) FPS() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.Frames) / s.Duration.Seconds()
}

// Run pulls frames from source until it is exhausted or ctx is cancelled. Cancellation
// is checked between frames only. Sinks are closed on every return path.
func (p *Pipeline) Run(ctx context.Context, source FrameSource, sinks ...Sink) (summary Summary, err error) {
	summary.SessionID = p.sessionID
	summary.Started = time.Now()
	framesBefore := p.frames
	degradedBefore := p.degraded

	defer func() {
		for _, sink := range sinks {
			if closeErr := sink.Close(); closeErr != nil && err == nil {
				err = errors.Wrap(closeErr, "Can't close sink")
			}
		}
		summary.Total = p.engine.Total()
		summary.Frames = p.frames - framesBefore
		summary.DegradedFrames = p.degraded - degradedBefore
		summary.Duration = time.Since(summary.Started)
		p.log.WithFields(logrus.Fields{
			"total":       summary.Total,
			"frames":      summary.Frames,
			"interrupted": summary.Interrupted,
			"seconds":     summary.Duration.Seconds(),
		}).Info("processing complete")
	}()

	for {
		if ctx.Err() != nil {
			summary.Interrupted = true
			p.log.Info("processing interrupted")
			return summary, nil
		}
		frame, err := source.Next(ctx)
		if err == io.EOF {
			return summary, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				summary.Interrupted = true
				return summary, nil
			}
			return summary, errors.Wrap(err, "Can't read frame")
		}
		if p.frames > 0 && frame.Index <= p.lastFrame {
			return summary, errors.Wrapf(ErrOutOfOrder, "frame %d after frame %d", frame.Index, p.lastFrame)
		}

		result := p.ProcessFrame(frame.Index, frame.Detections)
		for _, sink := range sinks {
			if err := sink.Consume(result); err != nil {
				return summary, errors.Wrapf(err, "Can't write results of frame %d", frame.Index)
			}
		}
		if every := p.cfg.ProgressEvery; every > 0 && (p.frames-framesBefore)%every == 0 {
			p.log.WithFields(logrus.Fields{
				"frame": frame.Index,
				"total": result.Total,
			}).Info("progress")
		}
	}
}
