package leaderboard

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"spcbench-backend-go/internal/db"
	"spcbench-backend-go/internal/migrations"
	"spcbench-backend-go/internal/models"
)

func entry(id int64, creator string, vis models.Visibility, psnr float64) Listed {
	e := models.NewReconstructionEntry()
	e.ID = id
	e.UUID = fmt.Sprintf("uuid-%d", id)
	e.CreatorID = creator
	e.Name = fmt.Sprintf("entry %d", id)
	e.Visibility = vis
	e.ProcessStatus = models.StatusSuccess
	e.PSNRMean = psnr
	e.LPIPSMean = psnr / 100
	return Listed{ReconstructionEntry: e, CreatorEmail: creator + "@example.org"}
}

func ids(rows []Row) []int64 {
	out := make([]int64, len(rows))
	for i, row := range rows {
		out[i] = row.Entry.ID
	}
	return out
}

func TestParseSortKey(t *testing.T) {
	key := ParseSortKey("")
	assert.Equal(t, "psnr_mean", key.String())
	assert.True(t, key.Descending())

	key = ParseSortKey("-ssim_5p")
	assert.Equal(t, "-ssim_5p", key.String())
	assert.False(t, key.Descending())

	key = ParseSortKey("lpips_mean")
	assert.False(t, key.Descending())
	assert.True(t, ParseSortKey("-lpips_mean").Descending())

	assert.Equal(t, "psnr_mean", ParseSortKey("-name; DROP TABLE users").String())
}

func TestRankDirectionAndTies(t *testing.T) {
	entries := []Listed{
		entry(3, "a", models.VisibilityPublic, 20),
		entry(1, "b", models.VisibilityPublic, 30),
		entry(2, "c", models.VisibilityPublic, 30),
		entry(4, "d", models.VisibilityPublic, 25),
	}
	Rank(entries, ParseSortKey("psnr_mean"))
	assert.Equal(t, []int64{1, 2, 4, 3}, ids(expand(entries)))

	Rank(entries, ParseSortKey("-psnr_mean"))
	assert.Equal(t, []int64{3, 4, 1, 2}, ids(expand(entries)))

	// LPIPS is lower-is-better so best-first is ascending.
	Rank(entries, ParseSortKey("lpips_mean"))
	assert.Equal(t, []int64{3, 4, 1, 2}, ids(expand(entries)))
}

func TestCollapse(t *testing.T) {
	entries := []Listed{
		entry(1, "alice", models.VisibilityPublic, 35),
		entry(2, "bob", models.VisibilityPublic, 34),
		entry(3, "alice", models.VisibilityPublic, 33),
		entry(4, "alice", models.VisibilityAnonymous, 32),
		entry(5, "alice", models.VisibilityAnonymous, 31),
		entry(6, "bob", models.VisibilityPublic, 30),
	}

	rows := Collapse(entries, Viewer{})
	assert.Equal(t, []int64{1, 2, 4, 5}, ids(rows))
	assert.Equal(t, 2, rows[0].GroupSize)
	assert.Equal(t, 2, rows[1].GroupSize)
	assert.Equal(t, 1, rows[2].GroupSize)

	owner := Collapse(entries, Viewer{UserID: "alice"})
	assert.Equal(t, []int64{1, 2}, ids(owner))
	assert.Equal(t, 4, owner[0].GroupSize)
}

func TestPaginate(t *testing.T) {
	rows := make([]Row, 60)
	for i := range rows {
		rows[i].Rank = i + 1
	}
	page, current, pages := Paginate(rows, 2)
	assert.Equal(t, 2, current)
	assert.Equal(t, 3, pages)
	assert.Len(t, page, 25)
	assert.Equal(t, 26, page[0].Rank)

	page, current, _ = Paginate(rows, 99)
	assert.Equal(t, 3, current)
	assert.Len(t, page, 10)

	page, current, _ = Paginate(rows, -4)
	assert.Equal(t, 1, current)
	assert.Equal(t, 1, page[0].Rank)

	page, current, pages = Paginate(nil, 3)
	assert.Empty(t, page)
	assert.Equal(t, 1, current)
	assert.Equal(t, 1, pages)
}

func TestCanBeSeenBy(t *testing.T) {
	priv := entry(1, "alice", models.VisibilityPrivate, 30).ReconstructionEntry
	anon := entry(2, "alice", models.VisibilityAnonymous, 30).ReconstructionEntry
	pending := entry(3, "alice", models.VisibilityPublic, 30).ReconstructionEntry
	pending.ProcessStatus = models.StatusWaitProcess
	deleted := entry(4, "alice", models.VisibilityPublic, 30).ReconstructionEntry
	deleted.IsActive = false

	anonymous := Viewer{}
	alice := Viewer{UserID: "alice"}
	bob := Viewer{UserID: "bob"}
	admin := Viewer{UserID: "root", IsSuperuser: true}

	assert.False(t, CanBeSeenBy(&priv, anonymous))
	assert.False(t, CanBeSeenBy(&priv, bob))
	assert.True(t, CanBeSeenBy(&priv, alice))
	assert.True(t, CanBeSeenBy(&priv, admin))

	assert.True(t, CanBeSeenBy(&anon, bob))
	assert.True(t, HidesCreator(&anon, bob))
	assert.False(t, HidesCreator(&anon, alice))

	assert.False(t, CanBeSeenBy(&pending, bob))
	assert.True(t, CanBeSeenBy(&pending, alice))

	assert.False(t, CanBeSeenBy(&deleted, alice))
	assert.False(t, CanBeSeenBy(&deleted, admin))

	creatorFilter := Filter{Viewer: bob, Creator: "alice"}
	assert.False(t, creatorFilter.Allows(&anon))
	assert.True(t, Filter{Viewer: alice, Creator: "alice"}.Allows(&anon))
}

type fixture struct {
	db    *sqlx.DB
	users map[string]string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := db.Open(db.DriverSQLite, filepath.Join(t.TempDir(), "lb.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() }) //nolint:errcheck
	require.NoError(t, migrations.Apply(conn))
	return &fixture{db: conn, users: map[string]string{}}
}

func (f *fixture) user(t *testing.T, name string) string {
	t.Helper()
	if id, ok := f.users[name]; ok {
		return id
	}
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := f.db.Exec(`INSERT INTO users (id, email, password_hash, university, is_active, is_verified, created_at, updated_at)
VALUES (?, ?, 'x', ?, ?, ?, ?, ?)`, id, name+"@example.org", name+" University", true, true, now, now)
	require.NoError(t, err)
	f.users[name] = id
	return id
}

func (f *fixture) entry(t *testing.T, owner string, vis models.Visibility, status models.ProcessStatus, psnr float64) int64 {
	t.Helper()
	now := time.Now().UTC()
	var id int64
	err := f.db.Get(&id, `INSERT INTO reconstruction_entries
(uuid, creator_id, name, visibility, process_status, is_active, psnr_mean, ssim_mean, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		uuid.NewString(), f.user(t, owner), owner+" entry", string(vis), string(status), true, psnr, 0.9, now, now)
	require.NoError(t, err)
	return id
}

func TestQueryAgainstDatabase(t *testing.T) {
	f := newFixture(t)
	a1 := f.entry(t, "alice", models.VisibilityPublic, models.StatusSuccess, 30)
	a2 := f.entry(t, "alice", models.VisibilityPublic, models.StatusSuccess, 32)
	aAnon := f.entry(t, "alice", models.VisibilityAnonymous, models.StatusSuccess, 35)
	aPriv := f.entry(t, "alice", models.VisibilityPrivate, models.StatusSuccess, 40)
	b1 := f.entry(t, "bob", models.VisibilityPublic, models.StatusSuccess, 31)
	f.entry(t, "bob", models.VisibilityPublic, models.StatusWaitProcess, -1)
	f.entry(t, "bob", models.VisibilityPublic, models.StatusFail, -1)
	unscored := f.entry(t, "bob", models.VisibilityPublic, models.StatusSuccess, -1)
	gone := f.entry(t, "bob", models.VisibilityPublic, models.StatusSuccess, 50)
	_, err := f.db.Exec(`UPDATE reconstruction_entries SET is_active = ? WHERE id = ?`, false, gone)
	require.NoError(t, err)
	ctx := context.Background()

	page, err := Query(ctx, f.db, Request{})
	require.NoError(t, err)
	assert.Equal(t, []int64{aAnon, a2, b1, a1}, ids(page.Rows))
	assert.Equal(t, 1, page.Rows[0].Rank)
	assert.True(t, page.Rows[0].Anonymous)
	assert.Equal(t, "alice University", page.Rows[1].Entry.CreatorUniversity)

	page, err = Query(ctx, f.db, Request{Viewer: Viewer{UserID: f.users["alice"]}})
	require.NoError(t, err)
	assert.Equal(t, []int64{aPriv, aAnon, a2, b1, a1}, ids(page.Rows))

	page, err = Query(ctx, f.db, Request{Collapse: true})
	require.NoError(t, err)
	assert.Equal(t, []int64{aAnon, a2, b1}, ids(page.Rows))
	assert.Equal(t, 2, page.Rows[1].GroupSize)

	page, err = Query(ctx, f.db, Request{SortKey: "-psnr_mean", Creator: f.users["alice"], Collapse: true})
	require.NoError(t, err)
	assert.False(t, page.Collapse)
	assert.Equal(t, []int64{a1, a2}, ids(page.Rows))

	page, err = Query(ctx, f.db, Request{Viewer: Viewer{UserID: "admin", IsSuperuser: true}})
	require.NoError(t, err)
	assert.Contains(t, ids(page.Rows), aPriv)
	assert.NotContains(t, ids(page.Rows), unscored)
	assert.NotContains(t, ids(page.Rows), gone)

	// SQL filter and in-memory predicate agree on every stored entry.
	all := []Listed{}
	require.NoError(t, f.db.Select(&all, `SELECT `+listedColumns+` FROM reconstruction_entries e JOIN users u ON u.id = e.creator_id`))
	viewers := []Viewer{{}, {UserID: f.users["alice"]}, {UserID: f.users["bob"]}, {UserID: "admin", IsSuperuser: true}}
	for _, viewer := range viewers {
		filter := Filter{Viewer: viewer}
		where, args := filter.Where()
		visible := []int64{}
		require.NoError(t, f.db.Select(&visible, `SELECT e.id FROM reconstruction_entries e WHERE `+where+` ORDER BY e.id`, args...))
		expected := []int64{}
		for i := range all {
			if filter.Allows(&all[i].ReconstructionEntry) {
				expected = append(expected, all[i].ID)
			}
		}
		assert.ElementsMatch(t, expected, visible, "viewer %+v", viewer)
	}
}

// Filtering by creator must not link a creator to their anonymous entries,
// although those entries stay on the unfiltered board for everyone.
func TestCreatorFilterHidesAnonymousEntries(t *testing.T) {
	f := newFixture(t)
	pub := f.entry(t, "alice", models.VisibilityPublic, models.StatusSuccess, 30)
	anon := f.entry(t, "alice", models.VisibilityAnonymous, models.StatusSuccess, 35)
	f.entry(t, "bob", models.VisibilityPublic, models.StatusSuccess, 31)
	ctx := context.Background()
	alice := f.users["alice"]

	cases := []struct {
		name   string
		viewer Viewer
		want   []int64
	}{
		{"logged out", Viewer{}, []int64{pub}},
		{"other user", Viewer{UserID: f.users["bob"]}, []int64{pub}},
		{"owner", Viewer{UserID: alice}, []int64{anon, pub}},
		{"superuser", Viewer{UserID: "admin", IsSuperuser: true}, []int64{anon, pub}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			page, err := Query(ctx, f.db, Request{Creator: alice, Viewer: tc.viewer})
			require.NoError(t, err)
			assert.Equal(t, tc.want, ids(page.Rows))

			page, err = Query(ctx, f.db, Request{Viewer: tc.viewer})
			require.NoError(t, err)
			assert.Contains(t, ids(page.Rows), anon)
		})
	}
}

func TestWriteXLSX(t *testing.T) {
	rows := []Row{
		{Rank: 1, Entry: entry(1, "alice", models.VisibilityPublic, 33), GroupSize: 2},
		{Rank: 2, Entry: entry(2, "bob", models.VisibilityAnonymous, 31), GroupSize: 1, Anonymous: true},
	}
	rows[0].Entry.SSIMMean = 0.91
	buf := &bytes.Buffer{}
	require.NoError(t, WriteXLSX(buf, rows))

	f, err := excelize.OpenReader(buf)
	require.NoError(t, err)
	defer f.Close()
	header, err := f.GetCellValue(exportSheet, "G1")
	require.NoError(t, err)
	assert.Equal(t, "Mean PSNR ↑", header)
	creator, err := f.GetCellValue(exportSheet, "C3")
	require.NoError(t, err)
	assert.Equal(t, "Anonymous", creator)
	name, err := f.GetCellValue(exportSheet, "B2")
	require.NoError(t, err)
	assert.Equal(t, "entry 1", name)
	blank, err := f.GetCellValue(exportSheet, "K2")
	require.NoError(t, err)
	assert.Empty(t, blank)
}
