package scoring

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sells-group/lead-scoring/internal/model"
)

// TierFor labels a composite score against the document's descending tier
// thresholds. A nil composite (every module failed) has no tier.
func TierFor(doc *Document, composite *float64) string {
	if composite == nil {
		return ""
	}
	for _, t := range doc.Tiers {
		if *composite >= t.MinScore {
			return t.Label
		}
	}
	return ""
}

// FormatDisplay renders the tier for CRM display, e.g. "A-Priority [87]".
func FormatDisplay(tier string, composite *float64) string {
	if tier == "" || composite == nil {
		return ""
	}
	return fmt.Sprintf("%s [%.0f]", tier, *composite)
}

// FormatDetails renders the per-module breakdown written back to the CRM
// alongside the tier: one line per module in stable order.
func FormatDetails(record *model.ScoredRecord) string {
	names := make([]string, 0, len(record.ModuleResults))
	for name := range record.ModuleResults {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		res := record.ModuleResults[name]
		if res.Failed() {
			fmt.Fprintf(&b, "%s: unavailable (%s)\n", name, res.Error)
			continue
		}
		fmt.Fprintf(&b, "%s: %.0f (%s)\n", name, *res.Score, res.Rationale)
	}
	return strings.TrimRight(b.String(), "\n")
}
