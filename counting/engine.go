package counting

import (
	"github.com/LdDl/mot-counter/mot"
	"github.com/pkg/errors"
)

const (
	// DefaultMinTrackLength is default number of history points before track could be counted
	DefaultMinTrackLength = 5
	// DefaultHistoryWindow is default cap of per-track position history
	DefaultHistoryWindow = 5
)

// Event is emitted once per track when it transitions from uncounted to counted
type Event struct {
	TrackID  int       `json:"track_id"`
	Total    int       `json:"total"`
	Frame    int       `json:"frame"`
	Centroid mot.Point `json:"centroid"`
}

// Engine keeps bounded position history and counted flag for every observed track
// and maintains running total.
type Engine struct {
	rule           Rule
	minTrackLength int
	historyWindow  int
	history        map[int][]mot.Point
	counted        map[int]struct{}
	total          int
	handlers       []func(Event)
}

// EngineOption configures Engine
type EngineOption func(*Engine)

// WithHistoryWindow overrides position history cap
func WithHistoryWindow(window int) EngineOption {
	return func(engine *Engine) {
		engine.historyWindow = window
	}
}

// WithCountedHandler registers callback invoked on every counted event
func WithCountedHandler(handler func(Event)) EngineOption {
	return func(engine *Engine) {
		engine.handlers = append(engine.handlers, handler)
	}
}

// NewEngine creates counting engine
func NewEngine(rule Rule, minTrackLength int, options ...EngineOption) (*Engine, error) {
	engine := &Engine{
		rule:           rule,
		minTrackLength: minTrackLength,
		historyWindow:  DefaultHistoryWindow,
		history:        make(map[int][]mot.Point),
		counted:        make(map[int]struct{}),
	}
	for _, option := range options {
		option(engine)
	}
	if engine.rule == nil {
		engine.rule = FullFrameRule{}
	}
	if engine.minTrackLength < 1 {
		return nil, errors.Errorf("min track length should be at least 1, got %d", engine.minTrackLength)
	}
	// Line crossing needs two points
	if engine.historyWindow < 2 {
		return nil, errors.Errorf("history window should be at least 2, got %d", engine.historyWindow)
	}
	return engine, nil
}

// Rule returns active counting rule
func (engine *Engine) Rule() Rule {
	return engine.rule
}

// Total returns running total
func (engine *Engine) Total() int {
	return engine.total
}

// IsCounted reports whether track was already counted
func (engine *Engine) IsCounted(trackID int) bool {
	_, ok := engine.counted[trackID]
	return ok
}

// History returns copy of track's position history
func (engine *Engine) History(trackID int) []mot.Point {
	history := engine.history[trackID]
	out := make([]mot.Point, len(history))
	copy(out, history)
	return out
}

// Observe appends snapshot centroid to track history and applies counting rule.
// Returns event and true when track got counted on this call.
func (engine *Engine) Observe(frame int, snapshot mot.TrackSnapshot) (Event, bool) {
	history := append(engine.history[snapshot.ID], snapshot.Centroid)
	if len(history) > engine.historyWindow {
		history = history[len(history)-engine.historyWindow:]
	}
	engine.history[snapshot.ID] = history

	if len(history) < engine.minTrackLength {
		return Event{}, false
	}
	if engine.IsCounted(snapshot.ID) {
		return Event{}, false
	}
	if !engine.rule.ShouldCount(history) {
		return Event{}, false
	}

	engine.counted[snapshot.ID] = struct{}{}
	engine.total++
	event := Event{
		TrackID:  snapshot.ID,
		Total:    engine.total,
		Frame:    frame,
		Centroid: snapshot.Centroid,
	}
	for _, handler := range engine.handlers {
		handler(event)
	}
	return event, true
}

// Forget drops position history of every track not visible on the current frame.
// Counted flag is kept while isLive still reports the track as registered, so a
// track hidden for a few frames can't be counted twice.
// Returns number of histories dropped.
func (engine *Engine) Forget(visible map[int]struct{}, isLive func(trackID int) bool) int {
	dropped := 0
	for trackID := range engine.history {
		if _, ok := visible[trackID]; !ok {
			delete(engine.history, trackID)
			dropped++
		}
	}
	for trackID := range engine.counted {
		if _, ok := visible[trackID]; ok {
			continue
		}
		if isLive == nil || !isLive(trackID) {
			delete(engine.counted, trackID)
		}
	}
	return dropped
}
