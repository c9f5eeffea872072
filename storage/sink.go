package storage

import (
	"time"

	"github.com/LdDl/mot-counter/pipeline"
	"github.com/google/uuid"
)

// SessionSink records counted events of a pipeline run and finalizes its session on Close
type SessionSink struct {
	store  *Store
	id     uuid.UUID
	total  int
	frames int
}

// NewSessionSink begins session and returns sink writing into it
func (s *Store) NewSessionSink(id uuid.UUID, source string, startedAt time.Time) (*SessionSink, error) {
	if err := s.BeginSession(id, source, startedAt); err != nil {
		return nil, err
	}
	return &SessionSink{store: s, id: id}, nil
}

func (sink *SessionSink) Consume(result pipeline.FrameResult) error {
	for _, event := range result.Events {
		if err := sink.store.RecordEvent(sink.id, event); err != nil {
			return err
		}
	}
	sink.total = result.Total
	sink.frames++
	return nil
}

func (sink *SessionSink) Close() error {
	return sink.store.FinishSession(sink.id, sink.total, sink.frames, time.Now())
}
