package detections

import (
	"bufio"
	"bytes"
	"context"
	"io"

	"github.com/LdDl/mot-counter/mot"
	"github.com/LdDl/mot-counter/pipeline"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// MaxCoordinate is exclusive upper bound of sane pixel coordinate
const MaxCoordinate = 10000.0

// Filter selects detections of interest
type Filter struct {
	TargetClass   int
	MinConfidence float64
}

// Reader reads detector output as JSON Lines, one frame per line:
//
//	{"frame": 12, "detections": [{"box": [x1, y1, x2, y2], "class": 0, "confidence": 0.91}]}
//
// When "frame" is missing, or the line is not valid JSON, the frame gets the index
// following the previous frame (the line number for the very first frame).
type Reader struct {
	scanner *bufio.Scanner
	filter  Filter
	log     *logrus.Entry
	line    int
	dropped int
	// Index of the last emitted frame, -1 before the first one
	last int
}

// Option configures Reader
type Option func(*Reader)

// WithLogger sets logger. Default is logrus standard logger.
func WithLogger(entry *logrus.Entry) Option {
	return func(r *Reader) {
		r.log = entry
	}
}

// NewReader creates reader over r
func NewReader(r io.Reader, filter Filter, options ...Option) *Reader {
	scanner := bufio.NewScanner(r)
	bufsize := 10 << 20
	scanner.Buffer(make([]byte, 0, 64*1024), bufsize)
	reader := &Reader{
		scanner: scanner,
		filter:  filter,
		last:    -1,
	}
	for _, option := range options {
		option(reader)
	}
	if reader.log == nil {
		reader.log = logrus.NewEntry(logrus.StandardLogger())
	}
	return reader
}

// Dropped returns number of detections dropped so far
func (r *Reader) Dropped() int {
	return r.dropped
}

// Next returns next frame. Blank lines are skipped. A line that is not valid JSON
// is logged and yields a frame with no detections.
func (r *Reader) Next(ctx context.Context) (pipeline.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return pipeline.Frame{}, err
		}
		if !r.scanner.Scan() {
			if err := r.scanner.Err(); err != nil {
				return pipeline.Frame{}, errors.Wrapf(err, "Can't read line %d", r.line+1)
			}
			return pipeline.Frame{}, io.EOF
		}
		r.line++
		data := r.scanner.Bytes()
		if len(bytes.TrimSpace(data)) == 0 {
			continue
		}
		fallback := r.line
		if r.last >= 0 {
			fallback = r.last + 1
		}
		frame, rejected := Parse(data, fallback, r.filter)
		r.last = frame.Index
		for _, rejection := range rejected {
			r.dropped++
			entry := r.log.WithFields(logrus.Fields{"line": r.line, "frame": frame.Index})
			if rejection.Malformed {
				entry.Warn(rejection.Reason)
			} else {
				entry.Debug(rejection.Reason)
			}
		}
		return frame, nil
	}
}

// Rejection explains why detection was not passed further
type Rejection struct {
	Reason string
	// Malformed is set for broken input, unset for regular filtering
	Malformed bool
}

func malformed(reason string) *Rejection {
	return &Rejection{Reason: reason, Malformed: true}
}

func filtered(reason string) *Rejection {
	return &Rejection{Reason: reason}
}

// Parse converts a single line into a frame. Detections that are malformed or
// filtered out are reported in rejected with the reason. fallbackIndex is used
// when line has no "frame" key or is not valid JSON.
func Parse(data []byte, fallbackIndex int, filter Filter) (frame pipeline.Frame, rejected []Rejection) {
	frame.Index = fallbackIndex
	if !gjson.ValidBytes(data) {
		return frame, []Rejection{*malformed("invalid JSON line, frame treated as empty")}
	}
	root := gjson.ParseBytes(data)
	if idx := root.Get("frame"); idx.Exists() {
		frame.Index = int(idx.Int())
	}
	frame.Detections = make([]mot.Rectangle, 0)
	root.Get("detections").ForEach(func(_, item gjson.Result) bool {
		box, rejection := parseDetection(item, filter)
		if rejection != nil {
			rejected = append(rejected, *rejection)
			return true
		}
		frame.Detections = append(frame.Detections, box)
		return true
	})
	return frame, rejected
}

func parseDetection(item gjson.Result, filter Filter) (mot.Rectangle, *Rejection) {
	coords := item.Get("box").Array()
	if len(coords) != 4 {
		return mot.Rectangle{}, malformed("detection dropped: box should have 4 coordinates")
	}
	values := [4]float64{}
	for i, c := range coords {
		if c.Type != gjson.Number {
			return mot.Rectangle{}, malformed("detection dropped: box coordinate is not a number")
		}
		v := c.Float()
		if v < 0 || v >= MaxCoordinate {
			return mot.Rectangle{}, malformed("detection dropped: box coordinate out of bounds")
		}
		values[i] = v
	}
	if class := item.Get("class"); class.Exists() && int(class.Int()) != filter.TargetClass {
		return mot.Rectangle{}, filtered("detection dropped: class mismatch")
	}
	confidence := 1.0
	if conf := item.Get("confidence"); conf.Exists() {
		confidence = conf.Float()
	}
	if confidence < 0 || confidence > 1 {
		return mot.Rectangle{}, malformed("detection dropped: confidence out of [0, 1]")
	}
	if confidence < filter.MinConfidence {
		return mot.Rectangle{}, filtered("detection dropped: below confidence threshold")
	}
	box := mot.NewRect(values[0], values[1], values[2], values[3])
	if !box.IsValid() {
		return mot.Rectangle{}, malformed("detection dropped: swapped box corners")
	}
	return box, nil
}
