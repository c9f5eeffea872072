package counting

import (
	"fmt"

	"github.com/LdDl/mot-counter/mot"
	"github.com/pkg/errors"
)

// ErrConflictingRules is returned when both counting region and counting line are given
var ErrConflictingRules = errors.New("counting region and counting line are mutually exclusive")

// Rule decides whether a track should be counted given its position history
// (most recent point last).
type Rule interface {
	ShouldCount(history []mot.Point) bool
	String() string
}

// FullFrameRule accepts every track
type FullFrameRule struct{}

func (FullFrameRule) ShouldCount(history []mot.Point) bool {
	return true
}

func (FullFrameRule) String() string {
	return "full frame"
}

// RegionRule accepts track whose current centroid lies inside the region.
// History length does not matter: this is per-frame check.
type RegionRule struct {
	Region mot.Rectangle
}

func (rule RegionRule) ShouldCount(history []mot.Point) bool {
	if len(history) == 0 {
		return false
	}
	return rule.Region.Contains(history[len(history)-1])
}

func (rule RegionRule) String() string {
	return fmt.Sprintf("region (%g, %g, %g, %g)", rule.Region.X1, rule.Region.Y1, rule.Region.X2, rule.Region.Y2)
}

// LineRule accepts track whose two most recent positions straddle the line
type LineRule struct {
	Line mot.Line
}

func (rule LineRule) ShouldCount(history []mot.Point) bool {
	if len(history) < 2 {
		return false
	}
	return rule.Line.CrossedBy(history[len(history)-2], history[len(history)-1])
}

func (rule LineRule) String() string {
	return fmt.Sprintf("line (%g, %g) - (%g, %g)", rule.Line.A.X, rule.Line.A.Y, rule.Line.B.X, rule.Line.B.Y)
}

// NewRule picks rule for given geometry. Nil for both means full frame acceptance.
func NewRule(region *mot.Rectangle, line *mot.Line) (Rule, error) {
	switch {
	case region != nil && line != nil:
		return nil, ErrConflictingRules
	case region != nil:
		if !region.IsValid() || region.Width() <= 0 || region.Height() <= 0 {
			return nil, errors.Errorf("degenerate counting region %+v", *region)
		}
		return RegionRule{Region: *region}, nil
	case line != nil:
		if line.IsDegenerate() {
			return nil, errors.Errorf("degenerate counting line %+v", *line)
		}
		return LineRule{Line: *line}, nil
	default:
		return FullFrameRule{}, nil
	}
}
