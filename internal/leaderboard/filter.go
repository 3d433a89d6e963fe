package leaderboard

import (
	"strings"

	"spcbench-backend-go/internal/models"
)

var publicVisibilities = []interface{}{string(models.VisibilityPublic), string(models.VisibilityAnonymous)}

// Viewer is the identity a read is performed for. The zero value is an
// anonymous visitor.
type Viewer struct {
	UserID      string
	IsSuperuser bool
}

func (v Viewer) Owns(e *models.ReconstructionEntry) bool {
	return v.UserID != "" && v.UserID == e.CreatorID
}

// Filter is the single visibility predicate behind every read path. Where
// renders it as SQL over the entries table aliased "e"; Allows evaluates the
// same rules on a loaded entry.
type Filter struct {
	Viewer Viewer
	// Ranked restricts to SUCCESS entries with RankMetric computed.
	Ranked     bool
	RankMetric string
	Creator    string
}

// Where returns a condition with ? placeholders and its arguments.
func (f Filter) Where() (string, []interface{}) {
	conds := []string{"e.is_active = ?"}
	args := []interface{}{true}

	if f.Ranked {
		conds = append(conds, "e.process_status = ?")
		args = append(args, string(models.StatusSuccess))
		if field, ok := models.MetricByKey(f.RankMetric); ok {
			// field.Key comes from the fixed metric list, never from input.
			conds = append(conds, "e."+field.Key+" <> ?")
			args = append(args, models.Unset)
		}
	}

	if !f.Viewer.IsSuperuser {
		if f.Viewer.UserID == "" {
			conds = append(conds, "(e.visibility IN (?, ?) AND e.process_status = ?)")
			args = append(args, publicVisibilities...)
			args = append(args, string(models.StatusSuccess))
		} else {
			conds = append(conds, "(e.creator_id = ? OR (e.visibility IN (?, ?) AND e.process_status = ?))")
			args = append(args, f.Viewer.UserID)
			args = append(args, publicVisibilities...)
			args = append(args, string(models.StatusSuccess))
		}
	}

	if f.Creator != "" {
		conds = append(conds, "e.creator_id = ?")
		args = append(args, f.Creator)
		if f.hidesAnonymous() {
			conds = append(conds, "e.visibility <> ?")
			args = append(args, string(models.VisibilityAnonymous))
		}
	}
	return strings.Join(conds, " AND "), args
}

// Allows reports whether the entry passes the filter.
func (f Filter) Allows(e *models.ReconstructionEntry) bool {
	if !e.IsActive {
		return false
	}
	if f.Ranked {
		if e.ProcessStatus != models.StatusSuccess {
			return false
		}
		if _, ok := models.MetricByKey(f.RankMetric); ok && e.Metric(f.RankMetric) == models.Unset {
			return false
		}
	}
	if !f.Viewer.IsSuperuser && !f.Viewer.Owns(e) {
		if e.ProcessStatus != models.StatusSuccess {
			return false
		}
		if e.Visibility != models.VisibilityPublic && e.Visibility != models.VisibilityAnonymous {
			return false
		}
	}
	if f.Creator != "" {
		if e.CreatorID != f.Creator {
			return false
		}
		if f.hidesAnonymous() && e.Visibility == models.VisibilityAnonymous {
			return false
		}
	}
	return true
}

// Filtering by creator would reveal who owns their anonymous entries.
func (f Filter) hidesAnonymous() bool {
	return !f.Viewer.IsSuperuser && f.Viewer.UserID != f.Creator
}

// CanBeSeenBy is the detail-page check used by entry, compare and media reads.
func CanBeSeenBy(e *models.ReconstructionEntry, viewer Viewer) bool {
	return Filter{Viewer: viewer}.Allows(e)
}

// HidesCreator reports whether the entry's owner must be masked for viewer.
func HidesCreator(e *models.ReconstructionEntry, viewer Viewer) bool {
	return e.Visibility == models.VisibilityAnonymous && !viewer.Owns(e) && !viewer.IsSuperuser
}
