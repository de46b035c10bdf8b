package storage

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/san-kum/cadsim/internal/dynamo"
)

var snapshotColumns = []string{"simulation", "subset", "run", "substep", "timestep"}

// FileStore keeps one directory per experiment holding metadata.json and
// results.csv.
type FileStore struct {
	baseDir string
}

func NewFileStore(baseDir string) *FileStore {
	return &FileStore{baseDir: baseDir}
}

func (s *FileStore) Init(ctx context.Context) error {
	return os.MkdirAll(s.baseDir, 0755)
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) Save(ctx context.Context, rec *ExperimentRecord, results []dynamo.Snapshot) error {
	runDir := filepath.Join(s.baseDir, rec.ID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return err
	}
	rec.Snapshots = len(results)

	metaFile, err := os.Create(filepath.Join(runDir, "metadata.json"))
	if err != nil {
		return err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		return err
	}

	csvFile, err := os.Create(filepath.Join(runDir, "results.csv"))
	if err != nil {
		return err
	}
	defer csvFile.Close()

	w := csv.NewWriter(csvFile)
	keys := stateKeys(results)
	if err := w.Write(append(slices.Clone(snapshotColumns), keys...)); err != nil {
		return err
	}
	for _, snap := range results {
		row := []string{
			strconv.Itoa(snap.Simulation),
			strconv.Itoa(snap.Subset),
			strconv.Itoa(snap.Run),
			strconv.Itoa(snap.Substep),
			strconv.Itoa(snap.Timestep),
		}
		for _, k := range keys {
			v, ok := snap.State[k]
			if !ok {
				row = append(row, "")
				continue
			}
			cell, err := formatCell(v)
			if err != nil {
				return fmt.Errorf("state %q: %w", k, err)
			}
			row = append(row, cell)
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func (s *FileStore) List(ctx context.Context) ([]ExperimentRecord, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []ExperimentRecord{}, nil
		}
		return nil, err
	}

	records := make([]ExperimentRecord, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		rec, err := s.Load(ctx, entry.Name())
		if err != nil {
			continue
		}
		records = append(records, *rec)
	}

	slices.SortFunc(records, func(a, b ExperimentRecord) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	return records, nil
}

func (s *FileStore) Load(ctx context.Context, id string) (*ExperimentRecord, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, id, "metadata.json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}

	var rec ExperimentRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *FileStore) LoadResults(ctx context.Context, id string) ([]dynamo.Snapshot, error) {
	file, err := os.Open(filepath.Join(s.baseDir, id, "results.csv"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return []dynamo.Snapshot{}, nil
	}

	header := records[0]
	if len(header) < len(snapshotColumns) {
		return nil, fmt.Errorf("results.csv: short header %v", header)
	}
	keys := header[len(snapshotColumns):]

	results := make([]dynamo.Snapshot, 0, len(records)-1)
	for i, record := range records[1:] {
		var tags [5]int
		for j := range tags {
			if tags[j], err = strconv.Atoi(record[j]); err != nil {
				return nil, fmt.Errorf("results.csv row %d: %w", i+1, err)
			}
		}
		snap := dynamo.Snapshot{
			Simulation: tags[0],
			Subset:     tags[1],
			Run:        tags[2],
			Substep:    tags[3],
			Timestep:   tags[4],
			State:      make(dynamo.State, len(keys)),
		}
		for j, k := range keys {
			cell := record[len(snapshotColumns)+j]
			if cell == "" {
				continue
			}
			snap.State[k] = parseCell(cell)
		}
		results = append(results, snap)
	}
	return results, nil
}

func stateKeys(results []dynamo.Snapshot) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, snap := range results {
		for k := range snap.State {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	slices.Sort(keys)
	return keys
}

// formatCell writes integers and floats as plain numbers, keeping a decimal
// point on whole floats, and anything else as JSON.
func formatCell(v any) (string, error) {
	switch x := v.(type) {
	case int:
		return strconv.Itoa(x), nil
	case float64:
		s := strconv.FormatFloat(x, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eEIN") {
			s += ".0"
		}
		return s, nil
	}
	switch v.(type) {
	case int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32:
		return formatCell(dynamo.Normalize(v))
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func parseCell(cell string) any {
	if i, err := strconv.Atoi(cell); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(cell, 64); err == nil {
		return f
	}
	dec := json.NewDecoder(strings.NewReader(cell))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err == nil {
		return dynamo.Normalize(v)
	}
	return cell
}
