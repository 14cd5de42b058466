package report

import (
	"bufio"
	"fmt"
	"io"
	"os"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	"authwatch/internal/model"
)

// exportRecord is one JSONL row. The run id is repeated on every row so that
// exports from several runs can be concatenated.
type exportRecord struct {
	RunID string `json:"run_id"`
	model.Incident
	DurationSec float64 `json:"duration_sec"`
}

// WriteJSONLGZ writes incidents as gzip-compressed JSON lines.
func WriteJSONLGZ(w io.Writer, runID string, incidents []model.Incident) error {
	gz, err := gzip.NewWriterLevel(w, gzip.BestSpeed)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(gz)
	for _, inc := range incidents {
		rec := exportRecord{RunID: runID, Incident: inc, DurationSec: inc.Duration().Seconds()}
		if err := enc.Encode(rec); err != nil {
			_ = gz.Close()
			return fmt.Errorf("encode incident %s: %w", inc.Key(), err)
		}
	}
	return gz.Close()
}

func exportFile(path, runID string, incidents []model.Incident) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := WriteJSONLGZ(bw, runID, incidents); err != nil {
		_ = f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
