package evaluator

import (
	"archive/zip"
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spcbench-backend-go/internal/db"
	"spcbench-backend-go/internal/leaderboard"
	"spcbench-backend-go/internal/manifest"
	"spcbench-backend-go/internal/migrations"
	"spcbench-backend-go/internal/models"
	"spcbench-backend-go/internal/scoring"
	"spcbench-backend-go/internal/services"
)

var frames = []string{"scene-a/0000.png", "scene-a/0001.png", "scene-b/0000.png"}

func framePNG(w, h int, seed uint8) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x*7) + seed, G: uint8(y*5) + seed, B: seed, A: 255})
		}
	}
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

type env struct {
	db        *sqlx.DB
	refDir    string
	uploadDir string
	mediaDir  string
	submitter *services.Submitter
	user      models.User
	reference map[string][]byte
}

func newEnv(t *testing.T) *env {
	t.Helper()
	conn, err := db.Open(db.DriverSQLite, filepath.Join(t.TempDir(), "eval.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() }) //nolint:errcheck
	require.NoError(t, migrations.Apply(conn))

	e := &env{db: conn, refDir: t.TempDir(), uploadDir: t.TempDir(), mediaDir: t.TempDir(), reference: map[string][]byte{}}
	for i, name := range frames {
		data := framePNG(16, 16, uint8(i*30))
		e.reference[name] = data
		path := filepath.Join(e.refDir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, data, 0o644))
	}
	ref, err := manifest.LoadReference(e.refDir)
	require.NoError(t, err)
	e.submitter = &services.Submitter{DB: conn, Reference: ref, UploadDir: e.uploadDir, MaxBytes: 1 << 20, DailyQuota: 10}
	e.user, err = services.CreateUser(context.Background(), conn, services.TokenService{}, services.NewUser{
		Email: "researcher@example.org", Password: "pw", IsVerified: true,
	})
	require.NoError(t, err)
	return e
}

func (e *env) submit(t *testing.T, name string, override map[string][]byte) models.ReconstructionEntry {
	t.Helper()
	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	for _, frame := range frames {
		data := e.reference[frame]
		if o, ok := override[frame]; ok {
			data = o
		}
		fw, err := w.Create(frame)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	entry, err := e.submitter.Submit(context.Background(), e.user,
		services.SubmissionForm{Name: name, Visibility: "PUBL"},
		services.SubmissionFile{Filename: name + ".zip", ContentType: "application/zip", Size: int64(buf.Len()), Body: buf})
	require.NoError(t, err)
	return entry
}

func (e *env) driver(scorer Scorer) *Driver {
	if scorer == nil {
		scorer = &scoring.Evaluator{ReferenceDir: e.refDir, Workers: 2}
	}
	return &Driver{
		DB:     e.db,
		Scorer: scorer,
		Samples: scoring.SampleWriter{
			Frames:       []string{"scene-a/0000.png"},
			MaxWidth:     8,
			ReferenceDir: e.refDir,
			ReferenceOut: models.ReferenceSampleDir(e.mediaDir),
		},
		UploadDir:    e.uploadDir,
		MediaDir:     e.mediaDir,
		EntryTimeout: time.Minute,
	}
}

func TestRunEndToEnd(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	good := e.submit(t, "perfect", nil)
	bad := e.submit(t, "wrong size", map[string][]byte{"scene-b/0000.png": framePNG(16, 12, 0)})

	report, err := e.driver(nil).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Evaluated: 2, Succeeded: 1, Failed: 1, Cleaned: 1}, report)

	stored, err := services.GetEntry(ctx, e.db, good.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, stored.ProcessStatus)
	assert.InDelta(t, 100.0, stored.PSNRMean, 1e-9)
	assert.InDelta(t, 100.0, stored.PSNR1p, 1e-9)
	assert.InDelta(t, 1.0, stored.SSIMMean, 1e-9)
	assert.Equal(t, models.Unset, stored.LPIPSMean)
	assert.NoFileExists(t, good.UploadPath(e.uploadDir))

	samples, err := services.ListSamples(ctx, e.db, good.ID)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.FileExists(t, samples[0].Path)
	assert.FileExists(t, filepath.Join(models.ReferenceSampleDir(e.mediaDir), "scene-a", "0000.png"))

	failed, err := services.GetEntry(ctx, e.db, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFail, failed.ProcessStatus)
	assert.NotEmpty(t, failed.ProcessError)
	assert.NotContains(t, failed.ProcessError, "shape mismatch")
	assert.Equal(t, models.Unset, failed.PSNRMean)
	assert.NoFileExists(t, bad.UploadPath(e.uploadDir))

	page, err := leaderboard.Query(ctx, e.db, leaderboard.Request{})
	require.NoError(t, err)
	require.Len(t, page.Rows, 1)
	assert.Equal(t, good.ID, page.Rows[0].Entry.ID)

	again, err := e.driver(nil).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{}, again)
}

type scriptedScorer struct {
	byPath map[string]func(ctx context.Context) ([]scoring.FrameScores, error)
}

func (s scriptedScorer) Evaluate(ctx context.Context, archivePath string) ([]scoring.FrameScores, error) {
	return s.byPath[archivePath](ctx)
}

func TestRunIsolatesTimeoutsAndPanics(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	slow := e.submit(t, "slow", nil)
	crashing := e.submit(t, "crashing", nil)
	fine := e.submit(t, "fine", nil)

	scorer := scriptedScorer{byPath: map[string]func(ctx context.Context) ([]scoring.FrameScores, error){
		slow.UploadPath(e.uploadDir): func(ctx context.Context) ([]scoring.FrameScores, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
		crashing.UploadPath(e.uploadDir): func(context.Context) ([]scoring.FrameScores, error) {
			panic("boom")
		},
		fine.UploadPath(e.uploadDir): func(context.Context) ([]scoring.FrameScores, error) {
			return []scoring.FrameScores{{Frame: frames[0], PSNR: 28, SSIM: 0.8, LPIPS: 0.1}}, nil
		},
	}}
	driver := e.driver(scorer)
	driver.Samples = scoring.SampleWriter{}
	driver.EntryTimeout = 50 * time.Millisecond

	report, err := driver.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Evaluated)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 2, report.Failed)

	timedOut, err := services.GetEntry(ctx, e.db, slow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFail, timedOut.ProcessStatus)
	assert.Equal(t, "Evaluation timed out.", timedOut.ProcessError)

	crashed, err := services.GetEntry(ctx, e.db, crashing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFail, crashed.ProcessStatus)

	ok, err := services.GetEntry(ctx, e.db, fine.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, ok.ProcessStatus)
	assert.InDelta(t, 0.1, ok.LPIPSMean, 1e-12)
}

func TestConsistencyCheckAndStaleCleanup(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	old := e.submit(t, "old", nil)
	require.NoError(t, services.MarkSuccess(ctx, e.db, old.ID, map[string]float64{"psnr_mean": 30}, nil))

	missing := e.submit(t, "missing archive", nil)
	require.NoError(t, os.Remove(missing.UploadPath(e.uploadDir)))

	orphan := filepath.Join(e.uploadDir, models.EntryKind, "upload_ghost_999.zip")
	require.NoError(t, os.WriteFile(orphan, []byte("zip"), 0o644))

	report, err := e.driver(nil).Run(ctx)
	require.NoError(t, err)
	assert.True(t, report.Mismatched)
	assert.Equal(t, 1, report.Evaluated)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Stale)
	assert.Equal(t, 1, report.Cleaned)

	assert.NoFileExists(t, old.UploadPath(e.uploadDir))
	assert.FileExists(t, orphan)
	failed, err := services.GetEntry(ctx, e.db, missing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFail, failed.ProcessStatus)
}

func TestRunStopsOnCancellation(t *testing.T) {
	e := newEnv(t)
	entry := e.submit(t, "pending", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.driver(nil).Run(ctx)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "context canceled"))

	stored, err := services.GetEntry(context.Background(), e.db, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaitProcess, stored.ProcessStatus)
	assert.FileExists(t, entry.UploadPath(e.uploadDir))
}

func TestCompareArchives(t *testing.T) {
	dir := "/uploads"
	waiting := models.NewReconstructionEntry()
	waiting.ID, waiting.CreatorID = 7, "u1"
	absent := models.NewReconstructionEntry()
	absent.ID, absent.CreatorID = 8, "u1"
	finished := models.UploadPath(dir, "u1", 3)

	onDisk := []archiveFile{
		{id: 7, path: waiting.UploadPath(dir)},
		{id: 3, path: finished},
		{id: -1, path: filepath.Join(dir, models.EntryKind, "stray.zip")},
	}
	missing, unexpected := compareArchives([]models.ReconstructionEntry{waiting, absent}, onDisk, dir)
	assert.Equal(t, []string{filepath.Base(absent.UploadPath(dir))}, missing)
	assert.Equal(t, []string{"stray.zip", filepath.Base(finished)}, unexpected)

	missing, unexpected = compareArchives([]models.ReconstructionEntry{waiting}, onDisk[:1], dir)
	assert.Empty(t, missing)
	assert.Empty(t, unexpected)
}

func TestParseArchiveID(t *testing.T) {
	assert.Equal(t, int64(42), parseArchiveID("upload_3f2c-aa_b1_42.zip"))
	assert.Equal(t, int64(-1), parseArchiveID("upload_nope.zip"))
	assert.Equal(t, int64(-1), parseArchiveID("random.zip"))
}
