package evaluator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"spcbench-backend-go/internal/models"
	"spcbench-backend-go/internal/scoring"
	"spcbench-backend-go/internal/services"
)

const DefaultEntryTimeout = 30 * time.Minute

// Scorer produces per-frame scores for one archive.
type Scorer interface {
	Evaluate(ctx context.Context, archivePath string) ([]scoring.FrameScores, error)
}

// Driver runs evaluation passes over every entry waiting for processing.
type Driver struct {
	DB           *sqlx.DB
	Scorer       Scorer
	Samples      scoring.SampleWriter
	UploadDir    string
	MediaDir     string
	EntryTimeout time.Duration
}

type Report struct {
	Evaluated int
	Succeeded int
	Failed    int
	Cleaned   int
	Stale     int
	// Mismatched is set when archives on disk and WAIT_PROC rows disagreed.
	Mismatched bool
}

// Run performs one pass. Entry failures are recorded on the entry and never
// abort the pass; only database errors outside an entry and cancellation do.
func (d *Driver) Run(ctx context.Context) (Report, error) {
	var report Report
	log := zap.L().With(zap.String("component", "evaluator"))

	waiting, err := services.ListWaiting(ctx, d.DB)
	if err != nil {
		return report, err
	}
	report.Mismatched = d.checkConsistency(waiting)

	evaluated := map[int64]bool{}
	for i := range waiting {
		if err := ctx.Err(); err != nil {
			return report, eris.Wrap(err, "evaluation pass interrupted")
		}
		entry := &waiting[i]
		report.Evaluated++
		evaluated[entry.ID] = true
		if err := d.processEntry(ctx, entry); err != nil {
			if ctx.Err() != nil {
				// Left in WAIT_PROC for the next pass.
				report.Evaluated--
				return report, eris.Wrap(ctx.Err(), "evaluation pass interrupted")
			}
			report.Failed++
			log.Error("entry evaluation failed",
				zap.Int64("entry_id", entry.ID), zap.String("trace", eris.ToString(err, true)))
			continue
		}
		report.Succeeded++
		log.Info("entry evaluated", zap.Int64("entry_id", entry.ID))
	}

	cleaned, stale, err := d.cleanup(ctx, evaluated)
	report.Cleaned, report.Stale = cleaned, stale
	if err != nil {
		return report, err
	}

	if report.Succeeded > 0 {
		log.Info("Successfully evaluated submissions.", zap.Int("count", report.Succeeded))
	}
	if report.Failed > 0 {
		log.Warn("Evaluation errors found for submissions.", zap.Int("count", report.Failed))
	}
	return report, nil
}

// RunEvery repeats passes until ctx is cancelled.
func (d *Driver) RunEvery(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := d.Run(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			zap.L().Error("evaluation pass failed", zap.String("trace", eris.ToString(err, true)))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// processEntry evaluates a single entry and records the outcome. A non-nil
// return means the entry ended in FAIL (or could not be updated at all).
func (d *Driver) processEntry(ctx context.Context, entry *models.ReconstructionEntry) error {
	archive := entry.UploadPath(d.UploadDir)
	summary, err := d.score(ctx, archive)
	var samples []models.ResultSample
	if err == nil {
		samples, err = d.writeSamples(archive, entry)
	}
	if err == nil {
		err = services.MarkSuccess(ctx, d.DB, entry.ID, summary.Values(), samples)
	}
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}

	if ferr := services.MarkFailed(ctx, d.DB, entry.ID, failureMessage(err)); ferr != nil {
		err = eris.Wrapf(err, "also failed to mark entry failed: %v", ferr)
	}
	removeFile(archive)
	if rerr := os.RemoveAll(entry.SampleDir(d.MediaDir)); rerr != nil {
		zap.L().Warn("failed to remove sample dir", zap.Int64("entry_id", entry.ID), zap.Error(rerr))
	}
	return err
}

type scoreResult struct {
	summary scoring.Summary
	err     error
}

// score runs the scorer under the entry timeout. The scorer runs in its own
// goroutine so a panic or a frame that ignores cancellation cannot stall the pass.
func (d *Driver) score(ctx context.Context, archive string) (scoring.Summary, error) {
	timeout := d.EntryTimeout
	if timeout <= 0 {
		timeout = DefaultEntryTimeout
	}
	ectx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan scoreResult, 1)
	go func() {
		var res scoreResult
		defer func() {
			if r := recover(); r != nil {
				res = scoreResult{err: eris.Errorf("panic during evaluation: %v", r)}
			}
			done <- res
		}()
		frames, err := d.Scorer.Evaluate(ectx, archive)
		if err != nil {
			res.err = err
			return
		}
		res.summary, res.err = scoring.Aggregate(frames)
	}()

	select {
	case res := <-done:
		return res.summary, res.err
	case <-ectx.Done():
		return scoring.Summary{}, eris.Wrapf(ectx.Err(), "evaluation exceeded %s", timeout)
	}
}

func (d *Driver) writeSamples(archive string, entry *models.ReconstructionEntry) ([]models.ResultSample, error) {
	written, err := d.Samples.Write(archive, entry.SampleDir(d.MediaDir))
	if err != nil {
		return nil, err
	}
	samples := make([]models.ResultSample, 0, len(written))
	for _, s := range written {
		samples = append(samples, models.ResultSample{EntryID: entry.ID, Frame: s.Frame, Path: s.Path})
	}
	return samples, nil
}

// failureMessage is what the submitter sees; the full error goes to the log.
func failureMessage(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "Evaluation timed out."
	case errors.Is(err, scoring.ErrNoFrames):
		return "Submission contains no frames."
	default:
		return "Evaluation failed. Please make sure every frame is a valid PNG with the resolution of the reference frame."
	}
}

// checkConsistency compares archives on disk with WAIT_PROC rows and logs any
// difference. It never fails the pass.
func (d *Driver) checkConsistency(waiting []models.ReconstructionEntry) bool {
	onDisk, err := d.archives()
	if err != nil {
		zap.L().Warn("could not list upload dir", zap.Error(err))
		return false
	}
	missing, unexpected := compareArchives(waiting, onDisk, d.UploadDir)
	if len(missing) == 0 && len(unexpected) == 0 {
		return false
	}
	zap.L().Warn("Found mismatch between uploaded archives and database entries waiting for processing!",
		zap.Int("waiting", len(waiting)),
		zap.Int("archives", len(onDisk)),
		zap.Int("missing_archives", len(missing)),
		zap.Int("unmatched_archives", len(unexpected)),
		zap.Strings("missing_examples", head(missing, 5)),
		zap.Strings("unmatched_examples", head(unexpected, 5)))
	return true
}

// compareArchives returns the archive names of WAIT_PROC rows with no file and
// the files with no WAIT_PROC row. Leftovers of finished entries count as
// unmatched until the stale sweep removes them.
func compareArchives(waiting []models.ReconstructionEntry, onDisk []archiveFile, uploadDir string) (missing, unexpected []string) {
	expected := map[string]bool{}
	for i := range waiting {
		expected[waiting[i].UploadPath(uploadDir)] = true
	}
	present := map[string]bool{}
	for _, a := range onDisk {
		present[a.path] = true
	}
	missing = []string{}
	for path := range expected {
		if !present[path] {
			missing = append(missing, filepath.Base(path))
		}
	}
	sort.Strings(missing)
	unexpected = []string{}
	for _, a := range onDisk {
		if !expected[a.path] {
			unexpected = append(unexpected, filepath.Base(a.path))
		}
	}
	sort.Strings(unexpected)
	return missing, unexpected
}

type archiveFile struct {
	id   int64
	path string
}

// archives lists upload_<creator>_<id>.zip files; ids are -1 when the name
// does not parse.
func (d *Driver) archives() ([]archiveFile, error) {
	paths, err := filepath.Glob(filepath.Join(d.UploadDir, models.EntryKind, "*.zip"))
	if err != nil {
		return nil, eris.Wrap(err, "glob upload dir")
	}
	out := make([]archiveFile, 0, len(paths))
	for _, path := range paths {
		out = append(out, archiveFile{id: parseArchiveID(filepath.Base(path)), path: path})
	}
	return out, nil
}

func parseArchiveID(name string) int64 {
	stem := strings.TrimSuffix(strings.TrimPrefix(name, "upload_"), ".zip")
	i := strings.LastIndex(stem, "_")
	if i < 0 {
		return -1
	}
	id, err := strconv.ParseInt(stem[i+1:], 10, 64)
	if err != nil {
		return -1
	}
	return id
}

// cleanup deletes archives of SUCCESS entries. Archives of entries that were
// not evaluated in this pass are stale leftovers and are reported as such.
func (d *Driver) cleanup(ctx context.Context, evaluated map[int64]bool) (int, int, error) {
	onDisk, err := d.archives()
	if err != nil {
		return 0, 0, err
	}
	byID := map[int64]string{}
	ids := []int64{}
	for _, a := range onDisk {
		if a.id < 0 {
			continue
		}
		byID[a.id] = a.path
		ids = append(ids, a.id)
	}
	if len(ids) == 0 {
		return 0, 0, nil
	}
	query, args, err := sqlx.In(`SELECT id FROM reconstruction_entries WHERE process_status = ? AND id IN (?)`,
		string(models.StatusSuccess), ids)
	if err != nil {
		return 0, 0, eris.Wrap(err, "build cleanup query")
	}
	succeeded := []int64{}
	if err := d.DB.SelectContext(ctx, &succeeded, d.DB.Rebind(query), args...); err != nil {
		return 0, 0, eris.Wrap(err, "list finished archives")
	}
	sort.Slice(succeeded, func(i, j int) bool { return succeeded[i] < succeeded[j] })

	cleaned, stale := 0, 0
	for _, id := range succeeded {
		if !evaluated[id] {
			stale++
			zap.L().Info("Deleting upload for previously successful submission.", zap.Int64("entry_id", id))
		}
		if removeFile(byID[id]) {
			cleaned++
		}
	}
	return cleaned, stale, nil
}

func removeFile(path string) bool {
	if err := os.Remove(path); err != nil {
		if !os.IsNotExist(err) {
			zap.L().Warn("failed to remove archive", zap.String("path", path), zap.Error(err))
		}
		return false
	}
	return true
}

func head(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}
