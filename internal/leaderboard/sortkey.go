package leaderboard

import (
	"strings"

	"spcbench-backend-go/internal/models"
)

// SortKey orders entries by one metric. Best-first is descending for
// higher-is-better metrics and ascending otherwise; Flipped inverts it.
type SortKey struct {
	Field   models.MetricField
	Flipped bool
}

// ParseSortKey accepts "<metric>" or "-<metric>". Unknown or empty values
// fall back to the default metric, best-first.
func ParseSortKey(raw string) SortKey {
	raw = strings.TrimSpace(raw)
	flipped := strings.HasPrefix(raw, "-")
	field, ok := models.MetricByKey(strings.TrimPrefix(raw, "-"))
	if !ok {
		field, _ = models.MetricByKey(models.DefaultMetric)
		flipped = false
	}
	return SortKey{Field: field, Flipped: flipped}
}

func (k SortKey) String() string {
	if k.Flipped {
		return "-" + k.Field.Key
	}
	return k.Field.Key
}

// Descending reports whether larger values rank first.
func (k SortKey) Descending() bool {
	return k.Field.HigherIsBetter != k.Flipped
}

// Less orders a before b; ties resolve by ascending id.
func (k SortKey) Less(a, b *models.ReconstructionEntry) bool {
	va, vb := a.Metric(k.Field.Key), b.Metric(k.Field.Key)
	if va != vb {
		if k.Descending() {
			return va > vb
		}
		return va < vb
	}
	return a.ID < b.ID
}
