package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Tiliavir/timeentry-reconciler/internal/dataverse"
	"github.com/Tiliavir/timeentry-reconciler/internal/model"
	"github.com/Tiliavir/timeentry-reconciler/internal/storage"
	"github.com/Tiliavir/timeentry-reconciler/internal/timecalc"
	"github.com/Tiliavir/timeentry-reconciler/internal/timezone"
)

var (
	listResource string
	listToday    bool
	listWeek     bool
	listFrom     string
	listTo       string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List time entries",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVar(&listResource, "resource", "", "Bookable resource ID (default: all resources)")
	listCmd.Flags().BoolVar(&listToday, "today", false, "Show today's entries")
	listCmd.Flags().BoolVar(&listWeek, "week", false, "Show this week's entries (default)")
	listCmd.Flags().StringVar(&listFrom, "from", "", "Start date (YYYY-MM-DD)")
	listCmd.Flags().StringVar(&listTo, "to", "", "End date (YYYY-MM-DD); defaults to --from")
}

func runList(cmd *cobra.Command, args []string) error {
	base, err := fileBase()
	if err != nil {
		return err
	}
	norm, err := app.cfg.Normalizer()
	if err != nil {
		return err
	}
	from, to, err := selectRange(time.Now(), listToday, listFrom, listTo)
	if err != nil {
		return err
	}
	resources, err := selectResources(base, listResource)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, r := range resources {
		entries, err := storage.LoadRange(base, r, from, to)
		if err != nil {
			return err
		}
		if len(resources) > 1 {
			fmt.Fprintf(out, "Resource %s\n", r)
		}
		printList(out, entries, norm)
	}
	if len(resources) == 0 {
		fmt.Fprintln(out, "No entries found.")
	}
	return nil
}

// selectRange resolves the --today/--from/--to flags to a day range; the
// current ISO week is the default.
func selectRange(now time.Time, today bool, from, to string) (time.Time, time.Time, error) {
	switch {
	case from != "":
		f, err := time.ParseInLocation(time.DateOnly, from, now.Location())
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from value %q: %w", from, err)
		}
		t := f
		if to != "" {
			if t, err = time.ParseInLocation(time.DateOnly, to, now.Location()); err != nil {
				return time.Time{}, time.Time{}, fmt.Errorf("invalid --to value %q: %w", to, err)
			}
		}
		if t.Before(f) {
			return time.Time{}, time.Time{}, fmt.Errorf("--to %s is before --from %s", to, from)
		}
		return timecalc.StartOfDay(f), timecalc.EndOfDay(t), nil
	case to != "":
		return time.Time{}, time.Time{}, fmt.Errorf("--from is required when --to is specified")
	case today:
		return timecalc.StartOfDay(now), timecalc.EndOfDay(now), nil
	default:
		monday, sunday := timecalc.WeekRange(now)
		return monday, sunday, nil
	}
}

// selectResources returns the resource named by flag, or every resource in
// the store when flag is empty.
func selectResources(base, flag string) ([]uuid.UUID, error) {
	if flag == "" {
		return storage.Resources(base)
	}
	id, err := uuid.Parse(flag)
	if err != nil {
		return nil, fmt.Errorf("invalid --resource value %q: %w", flag, err)
	}
	return []uuid.UUID{id}, nil
}

// printList groups entries by day and prints them.
func printList(w io.Writer, entries []model.TimeEntry, norm timezone.Normalizer) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No entries found.")
		return
	}

	for _, e := range entries {
		desc := ""
		if v, ok := e.Attributes[dataverse.Description]; ok {
			desc = fmt.Sprintf("  %v", v)
		}
		fmt.Fprintf(w, "%s  %s  %dm%s\n", localDay(norm, e.Start), e.ID, e.Duration, desc)
	}
}
