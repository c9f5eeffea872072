package report

import (
	"encoding/json"
	"os"
	"time"

	"github.com/LdDl/mot-counter/pipeline"
	"github.com/pkg/errors"
)

// Summary is the final results document of a run
type Summary struct {
	SessionID             string  `json:"session_id"`
	Source                string  `json:"source"`
	TotalCounted          int     `json:"total_counted"`
	FramesProcessed       int     `json:"frames_processed"`
	DegradedFrames        int     `json:"degraded_frames"`
	ProcessingTimeSeconds float64 `json:"processing_time_seconds"`
	FPSProcessed          float64 `json:"fps_processed"`
	Timestamp             string  `json:"timestamp"`
	ConfidenceThreshold   float64 `json:"confidence_threshold"`
	Interrupted           bool    `json:"interrupted"`
}

// NewSummary prepares results document from run summary
func NewSummary(run pipeline.Summary, source string, confidenceThreshold float64) Summary {
	return Summary{
		SessionID:             run.SessionID.String(),
		Source:                source,
		TotalCounted:          run.Total,
		FramesProcessed:       run.Frames,
		DegradedFrames:        run.DegradedFrames,
		ProcessingTimeSeconds: run.Duration.Seconds(),
		FPSProcessed:          run.FPS(),
		Timestamp:             run.Started.Add(run.Duration).Format(time.RFC3339),
		ConfidenceThreshold:   confidenceThreshold,
		Interrupted:           run.Interrupted,
	}
}

// WriteSummary writes indented JSON document to path
func WriteSummary(path string, summary Summary) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "Can't create results file %s", path)
	}
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		file.Close()
		return errors.Wrap(err, "Can't encode results")
	}
	return errors.Wrap(file.Close(), "Can't close results file")
}
