package main

import (
	"archive/zip"
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spcbench-backend-go/internal/db"
	"spcbench-backend-go/internal/leaderboard"
	"spcbench-backend-go/internal/manifest"
	"spcbench-backend-go/internal/migrations"
	"spcbench-backend-go/internal/models"
	"spcbench-backend-go/internal/services"
)

var frames = []string{"scene-a/0000.png", "scene-b/0000.png"}

func testDB(t *testing.T) *sqlx.DB {
	t.Helper()
	conn, err := db.Open(db.DriverSQLite, filepath.Join(t.TempDir(), "cli.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() }) //nolint:errcheck
	require.NoError(t, migrations.Apply(conn))
	return conn
}

func writeArchive(t *testing.T, path string, names ...string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	w := zip.NewWriter(f)
	for _, name := range names {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(name))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
}

func TestRootRegistersCommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "evaluate", "submit", "seed", "purge", "migrate", "createsuperuser"} {
		assert.True(t, names[want], want)
	}
}

func TestLoadSubmitList(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "list.yaml")
	require.NoError(t, os.WriteFile(list, []byte(`
- path: results/method-a.zip
  visibility: PUBL
- path: /abs/method-b.zip
  name: Method B
  code_url: https://example.org/b
`), 0o644))

	items, err := loadSubmitList(list)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, filepath.Join(dir, "results", "method-a.zip"), items[0].Path)
	assert.Equal(t, "method-a", items[0].Name)
	assert.Equal(t, "PUBL", items[0].Visibility)
	assert.Equal(t, "/abs/method-b.zip", items[1].Path)
	assert.Equal(t, "Method B", items[1].Name)
	assert.Equal(t, "https://example.org/b", items[1].CodeURL)

	require.NoError(t, os.WriteFile(list, []byte(`[{"name": "no path"}]`), 0o644))
	_, err = loadSubmitList(list)
	assert.Error(t, err)
}

func TestSubmitAllStopsAtFirstRejection(t *testing.T) {
	conn := testDB(t)
	ctx := context.Background()
	user, err := services.CreateUser(ctx, conn, services.TokenService{}, services.NewUser{
		Email: "service@example.org", Password: "pw", IsVerified: true, IsSuperuser: true,
	})
	require.NoError(t, err)

	dir := t.TempDir()
	good := filepath.Join(dir, "good.zip")
	bad := filepath.Join(dir, "bad.zip")
	writeArchive(t, good, frames...)
	writeArchive(t, bad, frames[0])

	submitter := &services.Submitter{
		DB:         conn,
		Reference:  manifest.NewSet(frames...),
		UploadDir:  t.TempDir(),
		MaxBytes:   1 << 20,
		DailyQuota: 1,
	}
	entries, err := submitAll(ctx, submitter, user, []submitItem{
		{Path: good, Name: "good", Visibility: "PUBL"},
		{Path: bad, Name: "bad", Visibility: "PUBL"},
		{Path: good, Name: "never reached", Visibility: "PUBL"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.zip")
	require.Len(t, entries, 1)
	assert.Equal(t, models.StatusWaitProcess, entries[0].ProcessStatus)
	assert.FileExists(t, entries[0].UploadPath(submitter.UploadDir))
	assert.NotEmpty(t, entries[0].Checksum)
}

func TestSeedCreatesRankableEntries(t *testing.T) {
	conn := testDB(t)
	ctx := context.Background()
	created, err := seed(ctx, conn, services.TokenService{}, rand.New(rand.NewSource(1)), 3, 2)
	require.NoError(t, err)
	assert.Equal(t, 6, created)

	rows, _, _, err := leaderboard.Ranked(ctx, conn, leaderboard.Request{Viewer: leaderboard.Viewer{IsSuperuser: true}})
	require.NoError(t, err)
	assert.Len(t, rows, 6)
}

func TestRandomMetricsAreOrdered(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 100; i++ {
		e := models.NewReconstructionEntry()
		randomMetrics(&e, rng)
		assert.LessOrEqual(t, e.PSNR1p, e.PSNR5p)
		assert.LessOrEqual(t, e.PSNR5p, e.PSNRMean)
		assert.LessOrEqual(t, e.SSIM1p, e.SSIM5p)
		assert.LessOrEqual(t, e.SSIMMean, 1.0)
		assert.GreaterOrEqual(t, e.SSIM1p, 0.0)
		assert.GreaterOrEqual(t, e.LPIPS1p, e.LPIPS5p)
		assert.GreaterOrEqual(t, e.LPIPS5p, e.LPIPSMean)
	}
}
