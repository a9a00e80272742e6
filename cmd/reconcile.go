package cmd

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Tiliavir/timeentry-reconciler/internal/model"
	"github.com/Tiliavir/timeentry-reconciler/internal/reconcile"
	"github.com/Tiliavir/timeentry-reconciler/internal/timecalc"
	"github.com/Tiliavir/timeentry-reconciler/internal/timezone"
)

var (
	reconcileResource string
	reconcileStart    string
	reconcileEnd      string
	reconcileDuration int64
	reconcileAttrs    []string
	reconcileDryRun   bool
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Book a period as one time entry per free day",
	Long: `Reconcile creates one time entry for every day of --start..--end that has no
entry for the resource yet. The first free day reuses the submitted entry.`,
	Args: cobra.NoArgs,
	RunE: runReconcile,
}

func init() {
	reconcileCmd.Flags().StringVar(&reconcileResource, "resource", "", "Bookable resource ID (UUID)")
	reconcileCmd.Flags().StringVar(&reconcileStart, "start", "", "Start (RFC 3339 or YYYY-MM-DD)")
	reconcileCmd.Flags().StringVar(&reconcileEnd, "end", "", "End (RFC 3339 or YYYY-MM-DD); defaults to --start")
	reconcileCmd.Flags().Int64Var(&reconcileDuration, "duration", 0, "Duration in minutes of the submitted entry")
	reconcileCmd.Flags().StringArrayVar(&reconcileAttrs, "attr", nil, "Attribute key=value copied to every entry (repeatable)")
	reconcileCmd.Flags().BoolVar(&reconcileDryRun, "dry-run", false, "Print planned entries without writing")
	_ = reconcileCmd.MarkFlagRequired("resource")
	_ = reconcileCmd.MarkFlagRequired("start")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	candidate, err := buildCandidate(time.Local)
	if err != nil {
		return err
	}

	rec, err := newReconciler(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if reconcileDryRun {
		plan, err := rec.Plan(cmd.Context(), candidate)
		if err != nil {
			return userError(err)
		}
		fmt.Fprintln(out, "Dry run – planned time entries:")
		printPlan(out, plan.Days(), rec.Policy().Normalizer)
		return nil
	}

	res, err := rec.Commit(cmd.Context(), &candidate)
	if len(res.Created) > 0 && err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %d time entries were created before the failure: %s\n",
			len(res.Created), strings.Join(res.Created, ", "))
	}
	if err != nil {
		return userError(err)
	}

	fmt.Fprintf(out, "Booked %d day(s) for resource %s:\n", len(res.Created)+1, candidate.ResourceRef)
	fmt.Fprintf(out, "  %s  %s\n", localDay(rec.Policy().Normalizer, candidate.Start), res.CandidateID)
	for _, id := range res.Created {
		fmt.Fprintf(out, "              %s\n", id)
	}
	return nil
}

func buildCandidate(loc *time.Location) (model.TimeEntry, error) {
	resource, err := uuid.Parse(reconcileResource)
	if err != nil {
		return model.TimeEntry{}, fmt.Errorf("invalid --resource value %q: %w", reconcileResource, err)
	}
	start, err := parseTimestamp(reconcileStart, loc)
	if err != nil {
		return model.TimeEntry{}, fmt.Errorf("invalid --start value %q: %w", reconcileStart, err)
	}
	end := start
	if reconcileEnd != "" {
		if end, err = parseTimestamp(reconcileEnd, loc); err != nil {
			return model.TimeEntry{}, fmt.Errorf("invalid --end value %q: %w", reconcileEnd, err)
		}
	}
	attrs, err := parseAttrs(reconcileAttrs)
	if err != nil {
		return model.TimeEntry{}, err
	}
	return model.TimeEntry{
		ResourceRef: resource,
		Start:       start,
		End:         end,
		Duration:    reconcileDuration,
		Attributes:  attrs,
	}, nil
}

// parseTimestamp accepts RFC 3339 or a bare date, which is read as midnight in loc.
func parseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation(time.DateOnly, s, loc)
}

// parseAttrs turns key=value pairs into an attribute map. Integers and
// booleans keep their type; everything else stays a string.
func parseAttrs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	attrs := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --attr value %q: want key=value", p)
		}
		switch {
		case isInt(v):
			n, _ := strconv.ParseInt(v, 10, 64)
			attrs[k] = n
		case v == "true" || v == "false":
			attrs[k] = v == "true"
		default:
			attrs[k] = v
		}
	}
	return attrs, nil
}

func isInt(s string) bool {
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}

func printPlan(w io.Writer, days []time.Time, norm timezone.Normalizer) {
	for i, d := range days {
		role := "new"
		if i == 0 {
			role = "submitted"
		}
		fmt.Fprintf(w, "  %s  (%s)\n", localDay(norm, d), role)
	}
}

// localDay formats a stored day in the configured zone.
func localDay(norm timezone.Normalizer, t time.Time) string {
	if norm != nil {
		t = norm.ToLocal(t)
	}
	return timecalc.DayKey(t)
}

// userError shortens the business rule failure to its message.
func userError(err error) error {
	if errors.Is(err, reconcile.ErrAllDatesOccupied) {
		return errors.New(reconcile.NothingToCreate)
	}
	return err
}
