package leaderboard

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/rotisserie/eris"
)

type Request struct {
	SortKey  string
	Collapse bool
	Creator  string
	Viewer   Viewer
	Page     int
}

type Page struct {
	Rows     []Row
	Page     int
	Pages    int
	Total    int
	SortKey  SortKey
	Collapse bool
	Creator  string
}

const listedColumns = `e.*, u.email AS creator_email, u.university AS creator_university`

// Ranked loads every entry visible for req, ranked and collapsed but not
// paginated. The export uses it directly.
func Ranked(ctx context.Context, db *sqlx.DB, req Request) ([]Row, SortKey, bool, error) {
	key := ParseSortKey(req.SortKey)
	collapse := req.Collapse && req.Creator == ""
	filter := Filter{Viewer: req.Viewer, Ranked: true, RankMetric: key.Field.Key, Creator: req.Creator}
	where, args := filter.Where()

	entries := []Listed{}
	query := db.Rebind(`SELECT ` + listedColumns + `
FROM reconstruction_entries e
JOIN users u ON u.id = e.creator_id
WHERE ` + where + `
ORDER BY e.id`)
	if err := db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, key, collapse, eris.Wrap(err, "leaderboard: select entries")
	}

	Rank(entries, key)
	var rows []Row
	if collapse {
		rows = Collapse(entries, req.Viewer)
	} else {
		rows = expand(entries)
	}
	number(rows, req.Viewer)
	return rows, key, collapse, nil
}

// Query returns one page of the leaderboard.
func Query(ctx context.Context, db *sqlx.DB, req Request) (Page, error) {
	rows, key, collapse, err := Ranked(ctx, db, req)
	if err != nil {
		return Page{}, err
	}
	pageRows, page, pages := Paginate(rows, req.Page)
	return Page{
		Rows:     pageRows,
		Page:     page,
		Pages:    pages,
		Total:    len(rows),
		SortKey:  key,
		Collapse: collapse,
		Creator:  req.Creator,
	}, nil
}
