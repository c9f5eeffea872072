package mot

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const (
	// DefaultMaxDisappeared is default number of frames a track may stay unmatched
	DefaultMaxDisappeared = 30
	// DefaultMaxDistance is default max centroid displacement between frames (pixels)
	DefaultMaxDistance = 50.0
	// snapshotTolerance is max per-axis offset (pixels) between track centroid and
	// detection center when building per-frame snapshots
	snapshotTolerance = 4.0
)

var (
	// ErrMalformedDetection is returned when detection has non-finite or swapped coordinates
	ErrMalformedDetection = errors.New("malformed detection")
	// ErrBadThresholds is returned when tracker is configured with invalid thresholds
	ErrBadThresholds = errors.New("bad tracker thresholds")
)

// CentroidTracker is Multi-object tracker (MOT) with greedy nearest-centroid assignment.
//
// Tracks are kept in insertion order, which is also the order used to resolve
// equal distances during assignment.
type CentroidTracker struct {
	// Main storage
	objects map[int]*Track
	// Track IDs in registration order
	order []int
	// Next ID to assign. Never rewound, even by Reset
	nextID int
	// Max no match (max number of frames when object could not be found again). Default is 30
	maxDisappeared int
	// Threshold distance in pixels. Default 50.0
	maxDistance float64
	// Time step for Kalman smoothing
	dt float64
}

// NewCentroidTrackerDefault creates default instance of CentroidTracker
func NewCentroidTrackerDefault() *CentroidTracker {
	return &CentroidTracker{
		objects:        make(map[int]*Track),
		order:          make([]int, 0),
		maxDisappeared: DefaultMaxDisappeared,
		maxDistance:    DefaultMaxDistance,
		dt:             1.0,
	}
}

// NewCentroidTracker creates new instance of CentroidTracker
func NewCentroidTracker(maxDisappeared int, maxDistance float64) (*CentroidTracker, error) {
	if maxDisappeared < 0 {
		return nil, errors.Wrapf(ErrBadThresholds, "max disappeared should be non-negative, got %d", maxDisappeared)
	}
	if !(maxDistance > 0) || !isFinite(maxDistance) {
		return nil, errors.Wrapf(ErrBadThresholds, "max distance should be positive, got %f", maxDistance)
	}
	return &CentroidTracker{
		objects:        make(map[int]*Track),
		order:          make([]int, 0),
		maxDisappeared: maxDisappeared,
		maxDistance:    maxDistance,
		dt:             1.0,
	}, nil
}

// MaxDisappeared returns deregistration threshold
func (tracker *CentroidTracker) MaxDisappeared() int {
	return tracker.maxDisappeared
}

// MaxDistance returns assignment distance threshold
func (tracker *CentroidTracker) MaxDistance() float64 {
	return tracker.maxDistance
}

// Len returns number of live tracks
func (tracker *CentroidTracker) Len() int {
	return len(tracker.order)
}

// Has reports whether track with given ID is still registered
func (tracker *CentroidTracker) Has(id int) bool {
	_, ok := tracker.objects[id]
	return ok
}

// Track returns live track by its ID
func (tracker *CentroidTracker) Track(id int) (*Track, bool) {
	track, ok := tracker.objects[id]
	return track, ok
}

// IDs returns IDs of live tracks in registration order
func (tracker *CentroidTracker) IDs() []int {
	ids := make([]int, len(tracker.order))
	copy(ids, tracker.order)
	return ids
}

// Reset drops every track. ID counter is preserved so IDs are never reused.
func (tracker *CentroidTracker) Reset() {
	tracker.objects = make(map[int]*Track)
	tracker.order = tracker.order[:0]
}

func (tracker *CentroidTracker) register(bbox Rectangle) {
	track := newTrack(tracker.nextID, bbox, tracker.dt)
	tracker.objects[track.id] = track
	tracker.order = append(tracker.order, track.id)
	tracker.nextID++
}

func (tracker *CentroidTracker) deregister(id int) {
	delete(tracker.objects, id)
	for i, orderedID := range tracker.order {
		if orderedID == id {
			tracker.order = append(tracker.order[:i], tracker.order[i+1:]...)
			break
		}
	}
}

// markMissing increments no match counter and deregisters track once it exceeds the limit
func (tracker *CentroidTracker) markMissing(id int) {
	track := tracker.objects[id]
	track.IncNoMatch()
	if track.GetNoMatchTimes() > tracker.maxDisappeared {
		tracker.deregister(id)
	}
}

// Update consumes detections of a single frame and returns snapshots of tracks visible on it.
// It must be called once per frame, even when there are no detections.
func (tracker *CentroidTracker) Update(detections []Rectangle) (map[int]TrackSnapshot, error) {
	for i, detection := range detections {
		if !detection.IsValid() {
			return nil, errors.Wrapf(ErrMalformedDetection, "detection #%d %+v", i, detection)
		}
	}
	for _, id := range tracker.order {
		tracker.objects[id].predict()
	}

	if len(detections) == 0 {
		for _, id := range tracker.IDs() {
			tracker.markMissing(id)
		}
		return map[int]TrackSnapshot{}, nil
	}

	centroids := make([]Point, len(detections))
	for i, detection := range detections {
		centroids[i] = detection.Center()
	}

	if len(tracker.order) == 0 {
		for _, detection := range detections {
			tracker.register(detection)
		}
		return tracker.snapshots(detections, centroids), nil
	}

	trackIDs := tracker.IDs()
	distances := tracker.distanceMatrix(trackIDs, centroids)
	matchedTracks, matchedDetections, err := tracker.assign(trackIDs, detections, centroids, distances)
	if err != nil {
		return nil, err
	}

	for i, id := range trackIDs {
		if !matchedTracks[i] {
			tracker.markMissing(id)
		}
	}

	// Leftover detections become new tracks only when detections are not outnumbered by tracks.
	// Otherwise they are dropped for this frame.
	if len(trackIDs) <= len(detections) {
		for j, detection := range detections {
			if !matchedDetections[j] {
				tracker.register(detection)
			}
		}
	}
	return tracker.snapshots(detections, centroids), nil
}

// distanceMatrix returns Euclidean distances: rows are tracks, columns are detections
func (tracker *CentroidTracker) distanceMatrix(trackIDs []int, centroids []Point) *mat.Dense {
	distances := mat.NewDense(len(trackIDs), len(centroids), nil)
	for i, id := range trackIDs {
		center := tracker.objects[id].GetCentroid()
		for j, centroid := range centroids {
			distances.Set(i, j, euclideanDistance(center, centroid))
		}
	}
	return distances
}

// assign performs greedy matching: pairs are taken in ascending distance order
// (ties in row-major track/detection order) while both sides are still free.
func (tracker *CentroidTracker) assign(trackIDs []int, detections []Rectangle, centroids []Point, distances *mat.Dense) ([]bool, []bool, error) {
	rows, cols := distances.Dims()
	priorityQueue := make(distanceHeap, 0, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			priorityQueue.Push(&distancePair{
				trackIdx:     i,
				detectionIdx: j,
				distance:     distances.At(i, j),
				seq:          i*cols + j,
			})
		}
	}

	matchedTracks := make([]bool, rows)
	matchedDetections := make([]bool, cols)
	for priorityQueue.Len() > 0 {
		// Everything left is too far away
		if priorityQueue.Peek().distance > tracker.maxDistance {
			break
		}
		pair := priorityQueue.Pop()
		if matchedTracks[pair.trackIdx] || matchedDetections[pair.detectionIdx] {
			continue
		}
		trackID := trackIDs[pair.trackIdx]
		err := tracker.objects[trackID].update(detections[pair.detectionIdx], centroids[pair.detectionIdx])
		if err != nil {
			return nil, nil, errors.Wrapf(err, "Can't update track %d", trackID)
		}
		matchedTracks[pair.trackIdx] = true
		matchedDetections[pair.detectionIdx] = true
	}
	return matchedTracks, matchedDetections, nil
}

// snapshots re-associates every live track with the first detection whose center
// lies within snapshotTolerance of the track centroid. Tracks without such detection
// are left out, though they stay registered.
func (tracker *CentroidTracker) snapshots(detections []Rectangle, centroids []Point) map[int]TrackSnapshot {
	result := make(map[int]TrackSnapshot, len(tracker.order))
	for _, id := range tracker.order {
		track := tracker.objects[id]
		for j, centroid := range centroids {
			if withinTolerance(centroid, track.centroid, snapshotTolerance) {
				result[id] = TrackSnapshot{
					ID:       id,
					Centroid: track.centroid,
					BBox:     detections[j],
					Smoothed: track.smoothed,
				}
				break
			}
		}
	}
	return result
}
