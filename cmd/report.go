package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Tiliavir/timeentry-reconciler/internal/model"
	"github.com/Tiliavir/timeentry-reconciler/internal/storage"
	"github.com/Tiliavir/timeentry-reconciler/internal/timecalc"
	"github.com/Tiliavir/timeentry-reconciler/internal/timezone"
)

var (
	reportWeek   bool
	reportFormat string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show booked days per resource for this week",
	Args:  cobra.NoArgs,
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().BoolVar(&reportWeek, "week", false, "Report for this week (default)")
	reportCmd.Flags().StringVar(&reportFormat, "format", "md", "Output format: md, csv, json")
}

// resourceDays is the number of distinct booked days of one resource.
type resourceDays struct {
	Resource uuid.UUID `json:"resource"`
	Days     int       `json:"days"`
	Minutes  int64     `json:"duration_minutes"`
}

func runReport(cmd *cobra.Command, args []string) error {
	base, err := fileBase()
	if err != nil {
		return err
	}
	norm, err := app.cfg.Normalizer()
	if err != nil {
		return err
	}
	now := time.Now()
	from, to := timecalc.WeekRange(now)
	label := timecalc.ISOWeekLabel(now)

	resources, err := storage.Resources(base)
	if err != nil {
		return err
	}
	rows := make([]resourceDays, 0, len(resources))
	for _, r := range resources {
		entries, err := storage.LoadRange(base, r, from, to)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			continue
		}
		rows = append(rows, summarize(r, entries, norm))
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Resource.String() < rows[j].Resource.String()
	})

	return printReport(cmd.OutOrStdout(), label, rows, reportFormat)
}

// summarize counts the distinct local days booked in entries.
func summarize(resource uuid.UUID, entries []model.TimeEntry, norm timezone.Normalizer) resourceDays {
	days := make(map[string]struct{}, len(entries))
	row := resourceDays{Resource: resource}
	for _, e := range entries {
		days[localDay(norm, e.Start)] = struct{}{}
		row.Minutes += e.Duration
	}
	row.Days = len(days)
	return row
}

func printReport(w io.Writer, label string, rows []resourceDays, format string) error {
	var totalDays int
	for _, r := range rows {
		totalDays += r.Days
	}

	switch format {
	case "csv":
		fmt.Fprintln(w, "resource,days,duration_minutes")
		for _, r := range rows {
			fmt.Fprintf(w, "%s,%d,%d\n", r.Resource, r.Days, r.Minutes)
		}
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Week      string         `json:"week"`
			Resources []resourceDays `json:"resources"`
			TotalDays int            `json:"total_days"`
		}{label, rows, totalDays})
	default: // md
		fmt.Fprintf(w, "Week %s\n", label)
		fmt.Fprintln(w, "--------------------------------------------------")
		for _, r := range rows {
			fmt.Fprintf(w, "%-40s%3d day(s)\n", r.Resource, r.Days)
		}
		fmt.Fprintln(w, "--------------------------------------------------")
		fmt.Fprintf(w, "%-40s%3d day(s)\n", "Total", totalDays)
	}
	return nil
}
