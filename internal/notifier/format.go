package notifier

import (
	"fmt"
	"strings"

	"MarketCache/internal/localcache"
)

// maxListed caps how many symbols an alert spells out.
const maxListed = 20

// FormatUnresolved reports symbols a warm-up could not resolve from any tier.
func FormatUnresolved(runID string, requested int, unresolved []string) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("⚠️ <b>MarketCache warm-up</b> | run %s\n\n", runID))
	b.WriteString(fmt.Sprintf("%d of %d symbols unresolved:\n", len(unresolved), requested))
	listed := unresolved
	if len(listed) > maxListed {
		listed = listed[:maxListed]
	}
	b.WriteString(strings.Join(listed, ", "))
	if n := len(unresolved) - len(listed); n > 0 {
		b.WriteString(fmt.Sprintf(" (+%d more)", n))
	}
	return b.String()
}

// FormatOverBudget reports a sweep that left Tier1 above its budget.
func FormatOverBudget(res localcache.SweepResult) string {
	var b strings.Builder
	b.WriteString("📦 <b>MarketCache local cache over budget</b>\n\n")
	b.WriteString(fmt.Sprintf("Occupancy: %.1f MB / %.1f MB\n", mb(res.OccupancyBytes), mb(res.BudgetBytes)))
	b.WriteString(fmt.Sprintf("Sweep removed %d stale entries (%.1f MB)\n", res.Removed, mb(res.FreedBytes)))
	b.WriteString("Remaining entries are fresh and were kept.")
	return b.String()
}

// FormatFailure reports a scheduled job that returned an error.
func FormatFailure(job string, err error) string {
	return fmt.Sprintf("❌ <b>MarketCache %s failed</b>\n\n%v", job, err)
}

func mb(n int64) float64 { return float64(n) / (1 << 20) }
