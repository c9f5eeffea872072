package detections

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/LdDl/mot-counter/mot"
	"github.com/LdDl/mot-counter/pipeline"
	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stream = `{"frame": 1, "detections": [{"box": [10, 20, 30, 40], "class": 0, "confidence": 0.9}]}

{"frame": 2, "detections": [{"box": [10, 20, 30], "class": 0, "confidence": 0.9}, {"box": [12, 20, 32, 40], "class": 0, "confidence": 0.8}]}
{"frame": 3, "detections": [{"box": [10, 20, 30, 40], "class": 2, "confidence": 0.9}, {"box": [10, 20, 30, 40], "class": 0, "confidence": 0.1}]}
not json at all
{"detections": [{"box": [-1, 20, 30, 40]}, {"box": [5, 5, 10000, 40]}, {"box": [1, 2, 3, 4]}]}
`

func TestReaderStream(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	reader := NewReader(strings.NewReader(stream), Filter{TargetClass: 0, MinConfidence: 0.5}, WithLogger(logrus.NewEntry(logger)))

	type frameWant struct {
		index      int
		detections []mot.Rectangle
	}
	want := []frameWant{
		{1, []mot.Rectangle{mot.NewRect(10, 20, 30, 40)}},
		{2, []mot.Rectangle{mot.NewRect(12, 20, 32, 40)}},
		{3, []mot.Rectangle{}},
		{4, nil},
		{5, []mot.Rectangle{mot.NewRect(1, 2, 3, 4)}},
	}
	ctx := context.Background()
	for i, w := range want {
		frame, err := reader.Next(ctx)
		require.NoError(t, err, "frame #%d", i)
		assert.Equal(t, w.index, frame.Index, "frame #%d", i)
		if diff := cmp.Diff(w.detections, frame.Detections); diff != "" && !(len(w.detections) == 0 && len(frame.Detections) == 0) {
			t.Errorf("frame #%d detections mismatch (-want +got):\n%s", i, diff)
		}
	}
	_, err := reader.Next(ctx)
	assert.Equal(t, io.EOF, err)

	// wrong arity, class, confidence, invalid JSON, two out of bounds
	assert.Equal(t, 6, reader.Dropped())
	warnings := 0
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel {
			warnings++
		}
	}
	assert.Equal(t, 4, warnings)
}

func TestReaderCancelled(t *testing.T) {
	reader := NewReader(strings.NewReader(stream), Filter{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := reader.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseDetection(t *testing.T) {
	filter := Filter{TargetClass: 1, MinConfidence: 0.3}
	cases := []struct {
		name      string
		line      string
		kept      int
		malformed bool
	}{
		{"kept", `{"detections": [{"box": [0, 0, 9999.5, 10], "class": 1, "confidence": 0.3}]}`, 1, false},
		{"no class and confidence", `{"detections": [{"box": [0, 0, 10, 10]}]}`, 1, false},
		{"string coordinate", `{"detections": [{"box": [0, "0", 10, 10], "class": 1}]}`, 0, true},
		{"confidence above one", `{"detections": [{"box": [0, 0, 10, 10], "class": 1, "confidence": 1.2}]}`, 0, true},
		{"swapped corners", `{"detections": [{"box": [10, 10, 0, 0], "class": 1}]}`, 0, true},
		{"five coordinates", `{"detections": [{"box": [0, 0, 10, 10, 4], "class": 1}]}`, 0, true},
	}
	for _, c := range cases {
		frame, rejected := Parse([]byte(c.line), 1, filter)
		assert.Len(t, frame.Detections, c.kept, c.name)
		if c.kept == 0 {
			require.Len(t, rejected, 1, c.name)
			assert.Equal(t, c.malformed, rejected[0].Malformed, c.name)
		}
	}
}

func TestReaderMalformedLineKeepsOrder(t *testing.T) {
	lines := strings.Join([]string{
		`{"frame": 0, "detections": [{"box": [10, 10, 30, 30]}]}`,
		`{"frame": 1, "detections": [{"box": [12, 10, 32, 30]}]}`,
		`not json`,
		`{"frame": 3, "detections": [{"box": [14, 10, 34, 30]}]}`,
		`{"detections": [{"box": [16, 10, 36, 30]}]}`,
		`{"frame": 5, "detections": [{"box": [18, 10, 38, 30]}]}`,
	}, "\n")
	logger, _ := test.NewNullLogger()
	entry := logrus.NewEntry(logger)
	reader := NewReader(strings.NewReader(lines), Filter{}, WithLogger(entry))

	p, err := pipeline.New(nil, pipeline.WithLogger(entry))
	require.NoError(t, err)
	indices := []int{}
	summary, err := p.Run(context.Background(), reader, &indexSink{indices: &indices})
	require.NoError(t, err)
	assert.Equal(t, 6, summary.Frames)
	assert.False(t, summary.Interrupted)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, indices)
}

func TestReaderFirstLineFallback(t *testing.T) {
	reader := NewReader(strings.NewReader("\nnot json\n{\"frame\": 7}\n"), Filter{})
	frame, err := reader.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, frame.Index)
	frame, err = reader.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, frame.Index)
}

type indexSink struct {
	indices *[]int
}

func (s *indexSink) Consume(result pipeline.FrameResult) error {
	*s.indices = append(*s.indices, result.Frame)
	return nil
}

func (s *indexSink) Close() error {
	return nil
}
