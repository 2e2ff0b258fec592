package lottery

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Report writes the operator summary of a run.
func (r *Result) Report(w io.Writer) error {
	mode := "LIVE"
	if r.DryRun {
		mode = "DRY RUN (nothing saved)"
	}
	limit := strconv.Itoa(r.Cap)
	if r.CapDisabled {
		limit = "disabled"
	}
	lines := []string{
		fmt.Sprintf("%s lottery, %s [%s]", r.Category, r.Week, mode),
		fmt.Sprintf("Window: %s to %s", r.WindowOpen.Format("Mon Jan 2 15:04"), r.WindowClose.Format("Mon Jan 2 15:04 MST")),
		fmt.Sprintf("Weekly cap: %s", limit),
		fmt.Sprintf("Total requests this week: %d", r.Total),
		fmt.Sprintf("Eligible: %d", r.Eligible),
		fmt.Sprintf("Already selected: %d", r.AlreadySelected),
		fmt.Sprintf("Will select: %d", r.WillSelect),
	}
	if r.QuotaExhausted {
		lines = append(lines, "Quota exhausted: eligible requests stay submitted")
	}
	lines = append(lines,
		fmt.Sprintf("Selected (%d): %s", len(r.Selected), joinIDs(r.Selected)),
		fmt.Sprintf("Not selected (%d): %s", len(r.NotSelected), joinIDs(r.NotSelected)),
	)
	_, err := io.WriteString(w, strings.Join(lines, "\n")+"\n")
	return err
}

func joinIDs(ids []int64) string {
	if len(ids) == 0 {
		return "-"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ", ")
}
