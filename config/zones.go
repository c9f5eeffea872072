package config

import (
	"os"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

const (
	ZoneRectangle = "rectangle"
	ZoneLine      = "line"
)

// Zone is a named counting geometry: rectangle (x1, y1, x2, y2) or line segment
// between (x1, y1) and (x2, y2).
type Zone struct {
	Name        string
	Type        string
	Coordinates [4]float64
}

// LoadZones reads zones file and returns its first zone.
// "zones" may be either a list or an object keyed by zone name; in both cases the
// first entry in document order wins. Returns nil zone when file has no zones.
func LoadZones(path string) (*Zone, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "Can't read zones file")
	}
	return ParseZones(data)
}

// ParseZones parses zones document, see LoadZones
func ParseZones(data []byte) (*Zone, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.Wrap(ErrInvalidConfig, "zones file is not valid JSON")
	}
	zones := gjson.GetBytes(data, "zones")
	if !zones.Exists() || !(zones.IsArray() || zones.IsObject()) {
		return nil, nil
	}
	var first gjson.Result
	var firstKey string
	zones.ForEach(func(key, value gjson.Result) bool {
		first = value
		if zones.IsObject() {
			firstKey = key.String()
		}
		return false
	})
	if !first.Exists() {
		return nil, nil
	}

	zone := &Zone{
		Name: first.Get("name").String(),
		Type: first.Get("type").String(),
	}
	if zone.Name == "" {
		zone.Name = firstKey
	}
	if zone.Name == "" {
		zone.Name = "zone_1"
	}
	if zone.Type != ZoneRectangle && zone.Type != ZoneLine {
		return nil, errors.Wrapf(ErrInvalidConfig, "zone %q has unsupported type %q", zone.Name, zone.Type)
	}
	coords := first.Get("coordinates").Array()
	if len(coords) != 4 {
		return nil, errors.Wrapf(ErrInvalidConfig, "zone %q should have 4 coordinates, got %d", zone.Name, len(coords))
	}
	for i, c := range coords {
		if c.Type != gjson.Number {
			return nil, errors.Wrapf(ErrInvalidConfig, "zone %q coordinate #%d is not a number", zone.Name, i)
		}
		zone.Coordinates[i] = c.Float()
	}
	return zone, nil
}
