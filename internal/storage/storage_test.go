package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Tiliavir/timeentry-reconciler/internal/model"
	"github.com/Tiliavir/timeentry-reconciler/internal/reconcile"
	"github.com/Tiliavir/timeentry-reconciler/internal/storage"
	"github.com/Tiliavir/timeentry-reconciler/internal/timecalc"
	"github.com/Tiliavir/timeentry-reconciler/internal/timezone"
)

var res = uuid.MustParse("0b7d3f5e-9a1c-4a8e-8f2d-3c4b5a6d7e8f")

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Compile-time check that the file store satisfies the reconciler's collaborator.
var _ reconcile.Store = (*storage.Store)(nil)

func TestLoadDayNotExist(t *testing.T) {
	base := t.TempDir()
	df, err := storage.LoadDay(base, res, day(2026, 2, 27))
	if err != nil {
		t.Fatalf("LoadDay on missing file: %v", err)
	}
	if df.Date != "2026-02-27" {
		t.Errorf("LoadDay date = %q, want %q", df.Date, "2026-02-27")
	}
	if len(df.Entries) != 0 {
		t.Errorf("LoadDay entries = %d, want 0", len(df.Entries))
	}
}

func TestSaveDayAndLoadDay(t *testing.T) {
	base := t.TempDir()
	d := day(2026, 2, 27)

	df := model.DayFile{
		Date: "2026-02-27",
		Entries: []model.TimeEntry{
			{
				ID:          "test-id-1",
				ResourceRef: res,
				Start:       d,
				End:         d,
				Attributes:  map[string]any{"msdyn_description": "ECM"},
			},
		},
	}

	if err := storage.SaveDay(base, res, d, df); err != nil {
		t.Fatalf("SaveDay: %v", err)
	}

	loaded, err := storage.LoadDay(base, res, d)
	if err != nil {
		t.Fatalf("LoadDay after save: %v", err)
	}
	if len(loaded.Entries) != 1 {
		t.Fatalf("LoadDay entries = %d, want 1", len(loaded.Entries))
	}
	if got := loaded.Entries[0].Attributes["msdyn_description"]; got != "ECM" {
		t.Errorf("LoadDay description = %v, want %q", got, "ECM")
	}
	if loaded.Entries[0].ResourceRef != res {
		t.Errorf("LoadDay resource = %v, want %v", loaded.Entries[0].ResourceRef, res)
	}
}

func TestLoadDayCorrupt(t *testing.T) {
	// Verify that a corrupt JSON file is backed up and returns an error.
	base := t.TempDir()
	dir := filepath.Join(base, res.String(), "2026", "02")
	path := filepath.Join(dir, "27.json")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{bad json"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := storage.LoadDay(base, res, day(2026, 2, 27))
	if err == nil {
		t.Fatal("expected error for corrupt JSON, got nil")
	}

	// Backup file should exist.
	if _, err2 := os.Stat(path + ".corrupt"); os.IsNotExist(err2) {
		t.Error("expected backup file to exist after corrupt JSON")
	}
}

func TestAppendEntryRejectsDuplicateID(t *testing.T) {
	base := t.TempDir()
	e := model.TimeEntry{ID: "e1", ResourceRef: res, Start: day(2026, 2, 27), End: day(2026, 2, 27)}
	if err := storage.AppendEntry(base, e); err != nil {
		t.Fatalf("AppendEntry: %v", err)
	}
	if err := storage.AppendEntry(base, e); err == nil {
		t.Error("expected error appending the same ID twice")
	}
}

func TestStoreCreateAndRetrieve(t *testing.T) {
	s := storage.New(t.TempDir())
	ctx := context.Background()

	for _, d := range []time.Time{day(2010, 6, 29), day(2010, 6, 30), day(2010, 7, 2), day(2010, 7, 3)} {
		id, err := s.Create(ctx, model.TimeEntry{ResourceRef: res, Start: d, End: d})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if id == "" {
			t.Fatal("Create returned empty ID")
		}
	}
	// Another resource on a day inside the window.
	other := uuid.New()
	if _, err := s.Create(ctx, model.TimeEntry{ResourceRef: other, Start: day(2010, 7, 1), End: day(2010, 7, 1)}); err != nil {
		t.Fatal(err)
	}

	got, err := s.Retrieve(ctx, res,
		time.Date(2010, 6, 30, 15, 0, 0, 0, time.UTC),
		time.Date(2010, 7, 2, 1, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	var keys []string
	for _, p := range got {
		keys = append(keys, timecalc.DayKey(p.Start))
	}
	want := []string{"2010-06-30", "2010-07-02"}
	if len(keys) != len(want) || keys[0] != want[0] || keys[1] != want[1] {
		t.Errorf("Retrieve days = %v, want %v", keys, want)
	}
}

func TestStoreRetrieveExcludesOverhangingEntry(t *testing.T) {
	s := storage.New(t.TempDir())
	ctx := context.Background()

	// Starts inside the window but ends after its last day.
	_, err := s.Create(ctx, model.TimeEntry{
		ResourceRef: res,
		Start:       time.Date(2010, 7, 2, 22, 0, 0, 0, time.UTC),
		End:         time.Date(2010, 7, 3, 2, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.Retrieve(ctx, res, day(2010, 6, 30), day(2010, 7, 2))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("Retrieve = %v, want none", got)
	}
}

func TestStoreCreateWithoutResource(t *testing.T) {
	s := storage.New(t.TempDir())
	if _, err := s.Create(context.Background(), model.TimeEntry{Start: day(2010, 6, 30)}); err == nil {
		t.Error("expected error for entry without resource")
	}
}

func TestResources(t *testing.T) {
	base := t.TempDir()
	if ids, err := storage.Resources(filepath.Join(base, "missing")); err != nil || len(ids) != 0 {
		t.Fatalf("Resources on missing dir = %v, %v", ids, err)
	}
	s := storage.New(base)
	if _, err := s.Create(context.Background(), model.TimeEntry{ResourceRef: res, Start: day(2010, 6, 30), End: day(2010, 6, 30)}); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(base, "not-a-uuid"), 0o700); err != nil {
		t.Fatal(err)
	}
	ids, err := storage.Resources(base)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != res {
		t.Errorf("Resources = %v, want [%v]", ids, res)
	}
}

func TestLoadRangeFiltersByLocalDays(t *testing.T) {
	s := storage.New(t.TempDir())
	ctx := context.Background()
	berlin := time.FixedZone("CEST", 2*60*60)

	// Both are stored in the 2010-06-30 UTC day file; only the second one
	// starts on 2010-07-01 in +02:00.
	for _, start := range []time.Time{
		time.Date(2010, 6, 30, 21, 0, 0, 0, time.UTC),
		time.Date(2010, 6, 30, 22, 0, 0, 0, time.UTC),
	} {
		if _, err := s.Create(ctx, model.TimeEntry{ResourceRef: res, Start: start, End: start}); err != nil {
			t.Fatal(err)
		}
	}

	d := time.Date(2010, 7, 1, 0, 0, 0, 0, berlin)
	entries, err := storage.LoadRange(s.Base(), res, timecalc.StartOfDay(d), timecalc.EndOfDay(d))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if !entries[0].Start.Equal(d) {
		t.Errorf("entry start = %v, want %v", entries[0].Start, d)
	}
}

func TestReconcileAgainstFileStore(t *testing.T) {
	s := storage.New(t.TempDir())
	ctx := context.Background()
	r := reconcile.New(s, reconcile.WithNormalizer(timezone.Eastern()))

	// 2010-07-01 local midnight in EST, stored as 05:00Z.
	booked := time.Date(2010, 7, 1, 5, 0, 0, 0, time.UTC)
	if _, err := s.Create(ctx, model.TimeEntry{ResourceRef: res, Start: booked, End: booked}); err != nil {
		t.Fatal(err)
	}

	c := model.TimeEntry{
		ResourceRef: res,
		Start:       time.Date(2010, 6, 30, 5, 0, 0, 0, time.UTC),
		End:         time.Date(2010, 7, 2, 5, 0, 0, 0, time.UTC),
		Duration:    60,
	}
	result, err := r.Commit(ctx, &c)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if len(result.Created) != 1 {
		t.Errorf("created = %d, want 1", len(result.Created))
	}

	entries, err := storage.LoadRange(s.Base(), res, day(2010, 6, 30), timecalc.EndOfDay(day(2010, 7, 2)))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("stored entries = %d, want 3", len(entries))
	}
	for i, want := range []int{30, 1, 2} {
		if entries[i].Start.Day() != want || entries[i].Start.Hour() != 5 {
			t.Errorf("entry %d start = %v, want day %d at 05:00Z", i, entries[i].Start, want)
		}
	}

	// Running the same period again finds every day occupied.
	again := model.TimeEntry{
		ResourceRef: res,
		Start:       time.Date(2010, 6, 30, 5, 0, 0, 0, time.UTC),
		End:         time.Date(2010, 7, 2, 5, 0, 0, 0, time.UTC),
	}
	if _, err := r.Commit(ctx, &again); err != reconcile.ErrAllDatesOccupied {
		t.Errorf("second Commit err = %v, want ErrAllDatesOccupied", err)
	}
}
