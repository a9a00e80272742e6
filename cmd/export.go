package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/spf13/cobra"

	"github.com/Tiliavir/timeentry-reconciler/internal/dataverse"
	"github.com/Tiliavir/timeentry-reconciler/internal/model"
	"github.com/Tiliavir/timeentry-reconciler/internal/storage"
	"github.com/Tiliavir/timeentry-reconciler/internal/timezone"
)

var (
	exportResource string
	exportFormat   string
	exportFrom     string
	exportTo       string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export time entries to stdout",
	Args:  cobra.NoArgs,
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportResource, "resource", "", "Bookable resource ID (default: all resources)")
	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "Output format: csv, json, ics")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start date (YYYY-MM-DD); defaults to this week")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End date (YYYY-MM-DD); defaults to --from")
}

func runExport(cmd *cobra.Command, args []string) error {
	base, err := fileBase()
	if err != nil {
		return err
	}
	norm, err := app.cfg.Normalizer()
	if err != nil {
		return err
	}
	from, to, err := selectRange(time.Now(), false, exportFrom, exportTo)
	if err != nil {
		return err
	}
	resources, err := selectResources(base, exportResource)
	if err != nil {
		return err
	}

	var entries []model.TimeEntry
	for _, r := range resources {
		e, err := storage.LoadRange(base, r, from, to)
		if err != nil {
			return err
		}
		entries = append(entries, e...)
	}

	out := cmd.OutOrStdout()
	switch exportFormat {
	case "json":
		if entries == nil {
			entries = []model.TimeEntry{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(entries); err != nil {
			return fmt.Errorf("error encoding JSON: %w", err)
		}
	case "ics":
		return writeICS(out, entries, norm, time.Now())
	case "csv":
		writeCSV(out, entries, norm)
	default:
		return fmt.Errorf("unknown format %q (want csv, json or ics)", exportFormat)
	}
	return nil
}

func writeCSV(w io.Writer, entries []model.TimeEntry, norm timezone.Normalizer) {
	fmt.Fprintln(w, "date,resource,id,description,start,end,duration_minutes")
	for _, e := range entries {
		desc := ""
		if v, ok := e.Attributes[dataverse.Description]; ok {
			desc = fmt.Sprint(v)
		}
		fmt.Fprintf(w, "%s,%s,%s,%s,%s,%s,%d\n",
			csvEscape(localDay(norm, e.Start)),
			csvEscape(e.ResourceRef.String()),
			csvEscape(e.ID),
			csvEscape(desc),
			csvEscape(e.Start.Format(time.RFC3339)),
			csvEscape(e.End.Format(time.RFC3339)),
			e.Duration,
		)
	}
}

// writeICS writes every entry as an all-day event on its booked day.
func writeICS(w io.Writer, entries []model.TimeEntry, norm timezone.Normalizer, stamp time.Time) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropProductID, "-//timeentry-reconciler//ter//EN")
	cal.Props.SetText(ical.PropVersion, "2.0")

	for _, e := range entries {
		start := e.Start
		if norm != nil {
			start = norm.ToLocal(start)
		}
		day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)

		event := ical.NewEvent()
		event.Props.SetText(ical.PropUID, e.ID+"@"+e.ResourceRef.String())
		event.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
		event.Props.SetDate(ical.PropDateTimeStart, day)
		event.Props.SetDate(ical.PropDateTimeEnd, day.AddDate(0, 0, 1))
		summary := "Time entry"
		if v, ok := e.Attributes[dataverse.Description]; ok {
			summary = fmt.Sprint(v)
		}
		event.Props.SetText(ical.PropSummary, summary)
		cal.Children = append(cal.Children, event.Component)
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("error encoding iCalendar: %w", err)
	}
	return nil
}

// csvEscape wraps a field in quotes if it contains a comma, quote, or newline.
func csvEscape(s string) string {
	if !strings.ContainsAny(s, ",\"\n\r") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
