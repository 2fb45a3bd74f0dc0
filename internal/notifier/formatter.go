package notifier

import (
	"fmt"
	"html"
	"strings"

	"RimValidator/internal/recorder"
)

// FormatPeriodReport formats a ledger summary for operators.
func FormatPeriodReport(sum *recorder.PeriodSummary) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("<b>Validator report</b> | %s to %s\n\n",
		sum.Since.UTC().Format("2006-01-02 15:04"), sum.Until.UTC().Format("2006-01-02 15:04")))

	b.WriteString(fmt.Sprintf("Ticks: %d (failed: %d)\n", sum.Ticks, sum.FailedTicks))
	b.WriteString(fmt.Sprintf("Payouts: %d to %d accounts\n", sum.Payouts, sum.DistinctAccounts))
	b.WriteString(fmt.Sprintf("Reward granted: %.4f\n", sum.TotalReward))
	if sum.WriteFailures > 0 {
		b.WriteString(fmt.Sprintf("Write failures: %d\n", sum.WriteFailures))
	}

	if len(sum.TopEarners) > 0 {
		b.WriteString("\n<b>Top earners:</b>\n")
		for i, e := range sum.TopEarners {
			b.WriteString(fmt.Sprintf("  %d. %s +%.4f (%d ticks)\n", i+1, html.EscapeString(e.AccountID), e.Reward, e.Ticks))
		}
	}
	if sum.Ticks == 0 {
		b.WriteString("\nNo ticks recorded in this period.")
	}
	return b.String()
}
