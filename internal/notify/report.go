package notify

import (
	"fmt"
	"strings"

	"github.com/quantale/polyarb/internal/domain"
)

// FormatReport renders an arbitrage report as a notification title and
// message body. Signals are listed one per line with their traded direction;
// HOLD legs are omitted to keep alerts short.
func FormatReport(r domain.ArbitrageReport) (title, message string) {
	title = fmt.Sprintf("Arbitrage detected: %s", r.GroupID)

	var b strings.Builder
	fmt.Fprintf(&b, "profit %.4f | gap %.2e | %d iterations (%s)\n", r.Profit, r.Gap, r.Iterations, r.Status)
	for _, s := range r.Signals {
		if s.Direction == domain.DirectionHold {
			continue
		}
		label := s.Condition.Label
		if label == "" {
			label = fmt.Sprintf("condition %d", s.Condition.Index)
		}
		fmt.Fprintf(&b, "%s %s: market %.4f -> fair %.4f (magnitude %.4f)\n",
			s.Direction, label, s.Theta, s.Mu, s.Magnitude)
	}
	return title, strings.TrimRight(b.String(), "\n")
}
