package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileSink persists run results as one JSON document per run, written
// atomically so a crashed process never leaves a torn checkpoint.
type FileSink struct {
	dir string
}

// NewFileSink creates the checkpoint directory if needed.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint dir: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

func (s *FileSink) path(runID string) string {
	return filepath.Join(s.dir, "run-"+runID+".json")
}

// Save writes the result under its run ID.
func (s *FileSink) Save(_ context.Context, res Result) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", res.RunID, err)
	}

	tmp := s.path(res.RunID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write run %s: %w", res.RunID, err)
	}
	if err := os.Rename(tmp, s.path(res.RunID)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit run %s: %w", res.RunID, err)
	}
	return nil
}

// Load reads one checkpoint back by run ID.
func (s *FileSink) Load(runID string) (Result, error) {
	data, err := os.ReadFile(s.path(runID))
	if err != nil {
		return Result{}, fmt.Errorf("read run %s: %w", runID, err)
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return Result{}, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return res, nil
}

// List returns the stored run IDs sorted by start time, oldest first.
func (s *FileSink) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	type stamped struct {
		id      string
		started string
	}
	var runs []stamped
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "run-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(name, "run-"), ".json")
		res, err := s.Load(id)
		if err != nil {
			continue // torn or foreign file; skip
		}
		runs = append(runs, stamped{id: id, started: res.StartedAt.Format("2006-01-02T15:04:05.000000000")})
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].started < runs[j].started })

	out := make([]string, len(runs))
	for i, r := range runs {
		out[i] = r.id
	}
	return out, nil
}

var _ Sink = (*FileSink)(nil)
