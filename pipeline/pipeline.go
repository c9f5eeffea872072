package pipeline

import (
	"sort"

	"github.com/LdDl/mot-counter/config"
	"github.com/LdDl/mot-counter/counting"
	"github.com/LdDl/mot-counter/mot"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Registry is the track registry driven by the pipeline. *mot.CentroidTracker implements it.
type Registry interface {
	Update(detections []mot.Rectangle) (map[int]mot.TrackSnapshot, error)
	// Reset drops every track while keeping thresholds and ID counter
	Reset()
	Has(id int) bool
}

// TrackStatus is a visible track together with its counted flag
type TrackStatus struct {
	mot.TrackSnapshot
	Counted bool `json:"counted"`
}

// FrameResult is the outcome of a single frame
type FrameResult struct {
	Frame int
	// Running total after this frame
	Total int
	// Visible tracks ordered by ID
	Tracks []TrackStatus
	// Counted events emitted on this frame
	Events []counting.Event
	// Degraded is set when registry failed twice and frame was treated as empty
	Degraded bool
}

// Pipeline sequences frames through track registry and counting engine.
// It is not safe for concurrent use: frames have to be fed one by one in capture order.
type Pipeline struct {
	cfg       *config.Config
	registry  Registry
	engine    *counting.Engine
	log       *logrus.Entry
	sessionID uuid.UUID
	handlers  []func(counting.Event)
	frames    int
	lastFrame int
	degraded  int
}

// Option configures Pipeline
type Option func(*Pipeline)

// WithLogger sets logger. Default is logrus standard logger.
func WithLogger(entry *logrus.Entry) Option {
	return func(p *Pipeline) {
		p.log = entry
	}
}

// WithRegistry replaces default centroid tracker
func WithRegistry(registry Registry) Option {
	return func(p *Pipeline) {
		p.registry = registry
	}
}

// WithSessionID sets session identifier instead of random one
func WithSessionID(id uuid.UUID) Option {
	return func(p *Pipeline) {
		p.sessionID = id
	}
}

// WithCountedHandler registers callback for counted events
func WithCountedHandler(handler func(counting.Event)) Option {
	return func(p *Pipeline) {
		p.handlers = append(p.handlers, handler)
	}
}

// New validates configuration and creates pipeline. Invalid configuration is
// reported here, before any frame is processed.
func New(cfg *config.Config, options ...Option) (*Pipeline, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{
		cfg:       cfg,
		sessionID: uuid.New(),
	}
	for _, option := range options {
		option(p)
	}
	if p.log == nil {
		p.log = logrus.NewEntry(logrus.StandardLogger())
	}
	p.log = p.log.WithField("session", p.sessionID.String())

	if p.registry == nil {
		tracker, err := mot.NewCentroidTracker(cfg.Tracking.MaxDisappeared, cfg.Tracking.MaxDistance)
		if err != nil {
			return nil, errors.Wrap(err, "Can't create centroid tracker")
		}
		p.registry = tracker
	}

	rule, err := cfg.Rule()
	if err != nil {
		return nil, errors.Wrap(err, "Can't create counting rule")
	}
	engineOptions := []counting.EngineOption{
		counting.WithHistoryWindow(cfg.Counting.HistoryWindow),
		counting.WithCountedHandler(func(event counting.Event) {
			p.log.WithFields(logrus.Fields{
				"frame":    event.Frame,
				"track_id": event.TrackID,
				"total":    event.Total,
			}).Info("object counted")
		}),
	}
	for _, handler := range p.handlers {
		engineOptions = append(engineOptions, counting.WithCountedHandler(handler))
	}
	p.engine, err = counting.NewEngine(rule, cfg.Counting.MinTrackLength, engineOptions...)
	if err != nil {
		return nil, errors.Wrap(err, "Can't create counting engine")
	}
	p.log.WithFields(logrus.Fields{
		"max_disappeared":  cfg.Tracking.MaxDisappeared,
		"max_distance":     cfg.Tracking.MaxDistance,
		"min_track_length": cfg.Counting.MinTrackLength,
		"rule":             rule.String(),
	}).Info("pipeline initialized")
	return p, nil
}

// SessionID returns identifier of this pipeline run
func (p *Pipeline) SessionID() uuid.UUID {
	return p.sessionID
}

// Total returns running total
func (p *Pipeline) Total() int {
	return p.engine.Total()
}

// Frames returns number of processed frames
func (p *Pipeline) Frames() int {
	return p.frames
}

// DegradedFrames returns number of frames treated as empty after registry failures
func (p *Pipeline) DegradedFrames() int {
	return p.degraded
}

// ProcessFrame runs one frame of detections (already filtered to target class and
// confidence) through registry update, counting and stale state cleanup.
func (p *Pipeline) ProcessFrame(frame int, detections []mot.Rectangle) FrameResult {
	p.frames++
	p.lastFrame = frame

	snapshots, degraded := p.updateRegistry(frame, detections)
	if degraded {
		p.degraded++
	}

	ids := make([]int, 0, len(snapshots))
	for id := range snapshots {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	result := FrameResult{
		Frame:    frame,
		Tracks:   make([]TrackStatus, 0, len(ids)),
		Degraded: degraded,
	}
	visible := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		visible[id] = struct{}{}
		snapshot := snapshots[id]
		if event, counted := p.engine.Observe(frame, snapshot); counted {
			result.Events = append(result.Events, event)
		}
		result.Tracks = append(result.Tracks, TrackStatus{
			TrackSnapshot: snapshot,
			Counted:       p.engine.IsCounted(id),
		})
	}
	dropped := p.engine.Forget(visible, p.registry.Has)
	if dropped > 0 {
		p.log.WithFields(logrus.Fields{"frame": frame, "dropped": dropped}).Debug("stale track histories removed")
	}
	result.Total = p.engine.Total()
	return result
}

// updateRegistry calls registry and recovers from its failure: registry is reset
// and the same detections are retried once. If retry fails as well the frame is
// treated as having no tracked objects.
func (p *Pipeline) updateRegistry(frame int, detections []mot.Rectangle) (map[int]mot.TrackSnapshot, bool) {
	snapshots, err := p.registry.Update(detections)
	if err == nil {
		return snapshots, false
	}
	p.log.WithError(err).WithField("frame", frame).Error("tracker error, reinitializing")
	p.registry.Reset()
	snapshots, err = p.registry.Update(detections)
	if err == nil {
		return snapshots, false
	}
	p.log.WithError(err).WithField("frame", frame).Error("tracker failed after reinitialization, frame skipped")
	return map[int]mot.TrackSnapshot{}, true
}
