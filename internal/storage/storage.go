package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tiliavir/timeentry-reconciler/internal/model"
	"github.com/Tiliavir/timeentry-reconciler/internal/timecalc"
)

// BaseDir returns the default data directory (~/.ter/data).
func BaseDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".ter", "data"), nil
}

// dayFilePath returns the path of resource's JSON file for t's UTC date.
func dayFilePath(base string, resource uuid.UUID, t time.Time) string {
	t = t.UTC()
	return filepath.Join(base, resource.String(), t.Format("2006"), t.Format("01"), t.Format("02")+".json")
}

// LoadDay loads the DayFile for the given date. Returns an empty DayFile if not found.
func LoadDay(base string, resource uuid.UUID, t time.Time) (model.DayFile, error) {
	path := dayFilePath(base, resource, t)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return model.DayFile{Date: timecalc.DayKey(t.UTC()), Entries: []model.TimeEntry{}}, nil
	}
	if err != nil {
		return model.DayFile{}, fmt.Errorf("storage error reading %s: %w", path, err)
	}

	var df model.DayFile
	if err := json.Unmarshal(data, &df); err != nil {
		// Back up corrupt file and abort.
		backupPath := path + ".corrupt"
		_ = os.Rename(path, backupPath)
		return model.DayFile{}, fmt.Errorf("corrupt JSON in %s (backed up to %s): %w", path, backupPath, err)
	}
	return df, nil
}

// SaveDay atomically writes a DayFile for the given date.
func SaveDay(base string, resource uuid.UUID, t time.Time, df model.DayFile) error {
	path := dayFilePath(base, resource, t)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("storage error creating directories: %w", err)
	}

	data, err := json.MarshalIndent(df, "", "  ")
	if err != nil {
		return fmt.Errorf("storage error marshalling JSON: %w", err)
	}

	// Atomic write: write to temp file then rename.
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("storage error writing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("storage error renaming temp file: %w", err)
	}
	return nil
}

// AppendEntry adds entry to the day file of its start date.
func AppendEntry(base string, entry model.TimeEntry) error {
	df, err := LoadDay(base, entry.ResourceRef, entry.Start)
	if err != nil {
		return err
	}
	for _, e := range df.Entries {
		if e.ID == entry.ID {
			return fmt.Errorf("storage error: entry %s already exists", entry.ID)
		}
	}
	df.Entries = append(df.Entries, entry)
	return SaveDay(base, entry.ResourceRef, entry.Start, df)
}

// LoadRange loads all entries of resource starting within [from, to],
// ordered by start.
func LoadRange(base string, resource uuid.UUID, from, to time.Time) ([]model.TimeEntry, error) {
	var entries []model.TimeEntry
	for d := range timecalc.EachDay(from.UTC(), to.UTC()) {
		df, err := LoadDay(base, resource, d)
		if err != nil {
			return nil, err
		}
		// Day files are keyed by UTC date and may hold entries outside a
		// range given in another zone.
		for _, e := range df.Entries {
			if e.Start.Before(from) || e.Start.After(to) {
				continue
			}
			entries = append(entries, e)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Start.Before(entries[j].Start)
	})
	return entries, nil
}

// Resources lists the resources that have a directory under base.
func Resources(base string) ([]uuid.UUID, error) {
	dirs, err := os.ReadDir(base)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage error listing %s: %w", base, err)
	}
	var out []uuid.UUID
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		id, err := uuid.Parse(d.Name())
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// Store is a file-backed time entry store rooted at a data directory.
type Store struct {
	base string
	mu   sync.Mutex
}

// New returns a Store writing below base.
func New(base string) *Store {
	return &Store{base: base}
}

// Base returns the data directory.
func (s *Store) Base() string {
	return s.base
}

// Retrieve returns the periods of resource's entries with a start at or after
// the first instant of from's day and an end at or before the last
// millisecond of to's day. Day boundaries follow the location of from and to.
func (s *Store) Retrieve(ctx context.Context, resource uuid.UUID, from, to time.Time) ([]model.Period, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lo := timecalc.StartOfDay(from)
	hi := timecalc.LastInstant(to)

	s.mu.Lock()
	entries, err := LoadRange(s.base, resource, lo, hi)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var out []model.Period
	for _, e := range entries {
		if e.Start.Before(lo) || e.End.After(hi) {
			continue
		}
		out = append(out, model.Period{Start: e.Start, End: e.End})
	}
	return out, nil
}

// Create assigns entry a new ID and stores it.
func (s *Store) Create(ctx context.Context, entry model.TimeEntry) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if entry.ResourceRef == uuid.Nil {
		return "", fmt.Errorf("storage error: time entry has no resource")
	}
	entry.ID = timecalc.GenerateID(entry.Start)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := AppendEntry(s.base, entry); err != nil {
		return "", err
	}
	return entry.ID, nil
}
