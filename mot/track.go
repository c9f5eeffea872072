package mot

import (
	kalman_filter "github.com/LdDl/kalman-filter"
	"github.com/pkg/errors"
)

// Track is a persistent identity of a single physical object.
// Centroid and bounding box always come from the most recently matched detection.
// The Kalman-filtered center is kept alongside for telemetry and never takes part in matching.
type Track struct {
	id           int
	centroid     Point
	bbox         Rectangle
	noMatchTimes int
	smoothed     Point
	kf           *kalman_filter.Kalman2D
}

func newTrack(id int, bbox Rectangle, dt float64) *Track {
	center := bbox.Center()

	/* Kalman filter props */
	ux := 1.0
	uy := 1.0
	stdDevA := 2.0
	stdDevMx := 0.1
	stdDevMy := 0.1
	kf := kalman_filter.NewKalman2D(dt, ux, uy, stdDevA, stdDevMx, stdDevMy, kalman_filter.WithState2D(center.X, center.Y))
	return &Track{
		id:           id,
		centroid:     center,
		bbox:         bbox,
		noMatchTimes: 0,
		smoothed:     center,
		kf:           kf,
	}
}

// GetID returns track's identifier
func (track *Track) GetID() int {
	return track.id
}

// GetCentroid returns centroid of the last matched detection
func (track *Track) GetCentroid() Point {
	return track.centroid
}

// GetBBox returns last matched bounding box
func (track *Track) GetBBox() Rectangle {
	return track.bbox
}

// GetSmoothed returns Kalman-filtered center
func (track *Track) GetSmoothed() Point {
	return track.smoothed
}

// GetNoMatchTimes returns number of consecutive frames without a match
func (track *Track) GetNoMatchTimes() int {
	return track.noMatchTimes
}

// IncNoMatch increases track's no match times
func (track *Track) IncNoMatch() {
	track.noMatchTimes++
}

// predict advances Kalman state by one frame
func (track *Track) predict() {
	track.kf.Predict()
	stateX, stateY := track.kf.GetState()
	track.smoothed.X = stateX
	track.smoothed.Y = stateY
}

// update moves track onto matched detection and resets no match counter
func (track *Track) update(bbox Rectangle, center Point) error {
	track.bbox = bbox
	track.centroid = center
	track.noMatchTimes = 0
	err := track.kf.Update(center.X, center.Y)
	if err != nil {
		return errors.Wrapf(err, "Can't smooth center of track %d", track.id)
	}
	stateX, stateY := track.kf.GetState()
	track.smoothed.X = stateX
	track.smoothed.Y = stateY
	return nil
}

// TrackSnapshot is the per-frame view of a visible track:
// centroid plus the detection rectangle re-associated with it on this frame.
type TrackSnapshot struct {
	ID       int       `json:"id"`
	Centroid Point     `json:"centroid"`
	BBox     Rectangle `json:"bbox"`
	Smoothed Point     `json:"smoothed"`
}
