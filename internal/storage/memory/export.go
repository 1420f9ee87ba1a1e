// internal/storage/memory/export.go
package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dinorun/posecontrol/pkg/core"
)

// SessionExport is the root JSON structure written for a finished session
type SessionExport struct {
	Session      core.Session        `json:"session"`
	Calibrations []core.Baseline     `json:"calibrations"`
	Gestures     []GestureJSON       `json:"gestures"`
	Scores       []core.Score        `json:"scores"`
	Summary      core.SessionSummary `json:"summary"`
}

// GestureJSON is one gesture transition on the session timeline.
// OffsetMs is measured from the session start.
type GestureJSON struct {
	OffsetMs int64        `json:"offsetMs"`
	FrameSeq uint64       `json:"frameSeq"`
	Gesture  core.Gesture `json:"gesture"`
	Previous core.Gesture `json:"previous"`
	CurrentY float64      `json:"currentY"`
}

// ExportPath returns the file the session would be exported to.
func (b *Backend) ExportPath(s core.Session) string {
	name := fmt.Sprintf("%s_%s.json", s.StartedAt.UTC().Format("20060102_150405"), s.ID)
	if b.cfg.CompressOutput {
		name += ".gz"
	}
	return filepath.Join(b.cfg.OutputDir, name)
}

func buildExport(rec *SessionRecord) SessionExport {
	export := SessionExport{
		Session:      rec.Session,
		Calibrations: rec.Calibrations,
		Gestures:     make([]GestureJSON, 0, len(rec.Gestures)),
		Scores:       rec.Scores,
		Summary:      summarize(rec),
	}
	if export.Calibrations == nil {
		export.Calibrations = []core.Baseline{}
	}
	if export.Scores == nil {
		export.Scores = []core.Score{}
	}
	for _, g := range rec.Gestures {
		export.Gestures = append(export.Gestures, GestureJSON{
			OffsetMs: g.Time.Sub(rec.Session.StartedAt).Milliseconds(),
			FrameSeq: g.FrameSeq,
			Gesture:  g.Gesture,
			Previous: g.Previous,
			CurrentY: g.CurrentY,
		})
	}
	return export
}

// exportJSON writes the session to the output directory. Caller holds mu.
func (b *Backend) exportJSON(rec *SessionRecord) error {
	export := buildExport(rec)

	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	outputPath := b.ExportPath(rec.Session)
	if b.cfg.CompressOutput {
		return writeGzipJSON(outputPath, export)
	}
	return writeJSON(outputPath, export)
}

func writeJSON(path string, data SessionExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(data); err != nil {
		return fmt.Errorf("failed to write JSON: %w", err)
	}
	return nil
}

func writeGzipJSON(path string, data SessionExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gw := gzip.NewWriter(f)
	if err := json.NewEncoder(gw).Encode(data); err != nil {
		gw.Close()
		return fmt.Errorf("failed to write gzipped JSON: %w", err)
	}
	return gw.Close()
}
