package report

import (
	"bufio"
	"io"

	"github.com/LdDl/mot-counter/pipeline"
	"github.com/pkg/errors"
	"github.com/tidwall/sjson"
)

// TrackLog writes one JSON line per frame with visible tracks (including Kalman-smoothed
// centers) and counted events
type TrackLog struct {
	w      *bufio.Writer
	closer io.Closer
}

// NewTrackLog creates TrackLog. If w implements io.Closer it is closed together with the log.
func NewTrackLog(w io.Writer) *TrackLog {
	log := &TrackLog{w: bufio.NewWriter(w)}
	if closer, ok := w.(io.Closer); ok {
		log.closer = closer
	}
	return log
}

func (log *TrackLog) Consume(result pipeline.FrameResult) error {
	line, err := encodeFrame(result)
	if err != nil {
		return errors.Wrapf(err, "Can't encode frame %d", result.Frame)
	}
	if _, err := log.w.Write(line); err != nil {
		return errors.Wrap(err, "Can't write track log")
	}
	return log.w.WriteByte('\n')
}

func (log *TrackLog) Close() error {
	err := log.w.Flush()
	if log.closer != nil {
		if closeErr := log.closer.Close(); err == nil {
			err = closeErr
		}
	}
	return errors.Wrap(err, "Can't close track log")
}

func encodeFrame(result pipeline.FrameResult) ([]byte, error) {
	line := []byte(`{}`)
	var err error
	line, err = sjson.SetBytes(line, "frame", result.Frame)
	if err != nil {
		return nil, err
	}
	line, err = sjson.SetBytes(line, "total", result.Total)
	if err != nil {
		return nil, err
	}
	if result.Degraded {
		line, err = sjson.SetBytes(line, "degraded", true)
		if err != nil {
			return nil, err
		}
	}
	line, err = sjson.SetRawBytes(line, "tracks", []byte(`[]`))
	if err != nil {
		return nil, err
	}
	for _, track := range result.Tracks {
		line, err = sjson.SetBytes(line, "tracks.-1", map[string]interface{}{
			"id":       track.ID,
			"centroid": []float64{track.Centroid.X, track.Centroid.Y},
			"smoothed": []float64{track.Smoothed.X, track.Smoothed.Y},
			"bbox":     []float64{track.BBox.X1, track.BBox.Y1, track.BBox.X2, track.BBox.Y2},
			"counted":  track.Counted,
		})
		if err != nil {
			return nil, err
		}
	}
	for _, event := range result.Events {
		line, err = sjson.SetBytes(line, "counted.-1", event.TrackID)
		if err != nil {
			return nil, err
		}
	}
	return line, nil
}
