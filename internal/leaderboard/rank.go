package leaderboard

import (
	"sort"
	"strconv"

	"spcbench-backend-go/internal/models"
)

const PageSize = 25

// Listed is an entry joined with the public profile of its creator.
type Listed struct {
	models.ReconstructionEntry
	CreatorEmail      string `db:"creator_email"`
	CreatorUniversity string `db:"creator_university"`
}

type Row struct {
	Rank      int
	Entry     Listed
	GroupSize int
	// Anonymous is set when the viewer must not learn who the creator is.
	Anonymous bool
}

// Rank sorts entries in place by key.
func Rank(entries []Listed, key SortKey) {
	sort.SliceStable(entries, func(i, j int) bool {
		return key.Less(&entries[i].ReconstructionEntry, &entries[j].ReconstructionEntry)
	})
}

// Collapse keeps the best ranked entry per creator. Anonymous entries the
// viewer does not own stay on their own so grouping cannot reveal owners.
// entries must already be ranked.
func Collapse(entries []Listed, viewer Viewer) []Row {
	rows := []Row{}
	index := map[string]int{}
	for _, entry := range entries {
		key := entry.CreatorID
		if entry.Visibility == models.VisibilityAnonymous && !viewer.Owns(&entry.ReconstructionEntry) {
			key = "entry:" + strconv.FormatInt(entry.ID, 10)
		}
		if i, ok := index[key]; ok {
			rows[i].GroupSize++
			continue
		}
		index[key] = len(rows)
		rows = append(rows, Row{Entry: entry, GroupSize: 1})
	}
	return rows
}

func expand(entries []Listed) []Row {
	rows := make([]Row, len(entries))
	for i, entry := range entries {
		rows[i] = Row{Entry: entry, GroupSize: 1}
	}
	return rows
}

func number(rows []Row, viewer Viewer) {
	for i := range rows {
		rows[i].Rank = i + 1
		rows[i].Anonymous = HidesCreator(&rows[i].Entry.ReconstructionEntry, viewer)
	}
}

// Paginate clamps page into [1, pages] and returns that slice of rows with
// the effective page and the page count. An empty list has one empty page.
func Paginate(rows []Row, page int) ([]Row, int, int) {
	pages := (len(rows) + PageSize - 1) / PageSize
	if pages < 1 {
		pages = 1
	}
	if page < 1 {
		page = 1
	}
	if page > pages {
		page = pages
	}
	start := (page - 1) * PageSize
	end := min(start+PageSize, len(rows))
	if start > end {
		start = end
	}
	return rows[start:end], page, pages
}
