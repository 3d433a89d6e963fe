package services

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"spcbench-backend-go/internal/leaderboard"
	"spcbench-backend-go/internal/models"
)

const entryColumns = `id, uuid, creator_id, name, citation, code_url, pub_date, checksum, is_active, visibility,
  process_status, process_error, psnr_mean, psnr_5p, psnr_1p, ssim_mean, ssim_5p, ssim_1p,
  lpips_mean, lpips_5p, lpips_1p, created_at, updated_at`

var errEntryNotFound = ErrNotFound("Entry not found.")

func GetEntryByUUID(ctx context.Context, db sqlx.ExtContext, entryUUID string) (models.ReconstructionEntry, error) {
	var entry models.ReconstructionEntry
	err := sqlx.GetContext(ctx, db, &entry,
		db.Rebind(`SELECT `+entryColumns+` FROM reconstruction_entries WHERE uuid = ?`), entryUUID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ReconstructionEntry{}, errEntryNotFound
	}
	return entry, eris.Wrap(err, "get entry")
}

func GetEntry(ctx context.Context, db sqlx.ExtContext, id int64) (models.ReconstructionEntry, error) {
	var entry models.ReconstructionEntry
	err := sqlx.GetContext(ctx, db, &entry,
		db.Rebind(`SELECT `+entryColumns+` FROM reconstruction_entries WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ReconstructionEntry{}, errEntryNotFound
	}
	return entry, eris.Wrap(err, "get entry")
}

// GetVisibleEntry loads an entry and hides it behind 404 when the viewer may
// not see it, so existence is never leaked.
func GetVisibleEntry(ctx context.Context, db *sqlx.DB, entryUUID string, viewer leaderboard.Viewer) (models.ReconstructionEntry, error) {
	entry, err := GetEntryByUUID(ctx, db, entryUUID)
	if err != nil {
		return models.ReconstructionEntry{}, err
	}
	if !leaderboard.CanBeSeenBy(&entry, viewer) {
		return models.ReconstructionEntry{}, errEntryNotFound
	}
	return entry, nil
}

// getOwnedEntry returns the active entry only when viewer created it.
func getOwnedEntry(ctx context.Context, db *sqlx.DB, entryUUID string, viewer leaderboard.Viewer) (models.ReconstructionEntry, error) {
	entry, err := GetEntryByUUID(ctx, db, entryUUID)
	if err != nil {
		return models.ReconstructionEntry{}, err
	}
	if !entry.IsActive || !viewer.Owns(&entry) {
		return models.ReconstructionEntry{}, errEntryNotFound
	}
	return entry, nil
}

// ListOwnEntries returns the user's active entries of every status, newest first.
func ListOwnEntries(ctx context.Context, db *sqlx.DB, userID string) ([]models.ReconstructionEntry, error) {
	entries := []models.ReconstructionEntry{}
	err := db.SelectContext(ctx, &entries, db.Rebind(`SELECT `+entryColumns+`
FROM reconstruction_entries
WHERE creator_id = ? AND is_active = ?
ORDER BY created_at DESC, id DESC`), userID, true)
	return entries, eris.Wrap(err, "list own entries")
}

// EntryUpdate carries the owner-editable fields; nil leaves a field unchanged.
type EntryUpdate struct {
	Name       *string `json:"name" validate:"omitempty,min=1,max=100"`
	Visibility *string `json:"visibility" validate:"omitempty,oneof=PUBL PRIV ANON"`
	Citation   *string `json:"citation" validate:"omitempty,max=500"`
	CodeURL    *string `json:"codeUrl" validate:"omitempty,url"`
}

func UpdateEntry(ctx context.Context, db *sqlx.DB, entryUUID string, viewer leaderboard.Viewer, update EntryUpdate) (models.ReconstructionEntry, error) {
	if update.Name != nil {
		trimmed := strings.TrimSpace(*update.Name)
		update.Name = &trimmed
	}
	if err := ValidateStruct(update); err != nil {
		return models.ReconstructionEntry{}, err
	}
	entry, err := getOwnedEntry(ctx, db, entryUUID, viewer)
	if err != nil {
		return models.ReconstructionEntry{}, err
	}
	if update.Name != nil {
		entry.Name = *update.Name
	}
	if update.Visibility != nil {
		entry.Visibility = models.Visibility(*update.Visibility)
	}
	if update.Citation != nil {
		entry.Citation = strings.TrimSpace(*update.Citation)
	}
	if update.CodeURL != nil {
		entry.CodeURL = strings.TrimSpace(*update.CodeURL)
	}
	entry.UpdatedAt = time.Now().UTC()
	_, err = db.ExecContext(ctx, db.Rebind(`
UPDATE reconstruction_entries
SET name = ?, visibility = ?, citation = ?, code_url = ?, updated_at = ?
WHERE id = ?`), entry.Name, string(entry.Visibility), entry.Citation, entry.CodeURL, entry.UpdatedAt, entry.ID)
	if err != nil {
		return models.ReconstructionEntry{}, eris.Wrap(err, "update entry")
	}
	return entry, nil
}

// SoftDeleteEntry hides the entry from every read path. The row stays for
// audit and still counts towards the upload quota.
func SoftDeleteEntry(ctx context.Context, db *sqlx.DB, entryUUID string, viewer leaderboard.Viewer) error {
	entry, err := getOwnedEntry(ctx, db, entryUUID, viewer)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, db.Rebind(`UPDATE reconstruction_entries SET is_active = ?, updated_at = ? WHERE id = ?`),
		false, time.Now().UTC(), entry.ID)
	return eris.Wrap(err, "soft delete entry")
}

// Transition moves an entry from one status to another with a
// compare-and-set on the current status.
func Transition(ctx context.Context, db sqlx.ExtContext, id int64, from, to models.ProcessStatus) error {
	if err := models.CheckTransition(from, to); err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, db.Rebind(`
UPDATE reconstruction_entries SET process_status = ?, updated_at = ?
WHERE id = ? AND process_status = ?`), string(to), time.Now().UTC(), id, string(from))
	if err != nil {
		return eris.Wrap(err, "transition entry")
	}
	return expectOneRow(res, id, from, to)
}

func expectOneRow(res sql.Result, id int64, from, to models.ProcessStatus) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n != 1 {
		return eris.Wrapf(models.ErrInvalidTransition, "entry %d is not %s (wanted %s)", id, from, to)
	}
	return nil
}

// MarkSuccess stores the metrics and samples and flips WAIT_PROC to SUCCESS in
// one transaction.
func MarkSuccess(ctx context.Context, db *sqlx.DB, id int64, metrics map[string]float64, samples []models.ResultSample) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "begin")
	}
	defer tx.Rollback() //nolint:errcheck

	sets := []string{"process_status = ?", "process_error = ?", "updated_at = ?"}
	args := []interface{}{string(models.StatusSuccess), "", time.Now().UTC()}
	for _, field := range models.MetricFields {
		value, ok := metrics[field.Key]
		if !ok {
			continue
		}
		sets = append(sets, field.Key+" = ?")
		args = append(args, value)
	}
	args = append(args, id, string(models.StatusWaitProcess))
	res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE reconstruction_entries SET `+strings.Join(sets, ", ")+`
WHERE id = ? AND process_status = ?`), args...)
	if err != nil {
		return eris.Wrap(err, "store metrics")
	}
	if err := expectOneRow(res, id, models.StatusWaitProcess, models.StatusSuccess); err != nil {
		return err
	}
	if err := insertSamples(ctx, tx, id, samples); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "commit")
}

// MarkFailed flips WAIT_PROC to FAIL with a submitter safe message.
func MarkFailed(ctx context.Context, db *sqlx.DB, id int64, message string) error {
	res, err := db.ExecContext(ctx, db.Rebind(`
UPDATE reconstruction_entries SET process_status = ?, process_error = ?, updated_at = ?
WHERE id = ? AND process_status = ?`),
		string(models.StatusFail), message, time.Now().UTC(), id, string(models.StatusWaitProcess))
	if err != nil {
		return eris.Wrap(err, "mark failed")
	}
	return expectOneRow(res, id, models.StatusWaitProcess, models.StatusFail)
}

// ListWaiting returns entries ready for evaluation ordered by id.
func ListWaiting(ctx context.Context, db *sqlx.DB) ([]models.ReconstructionEntry, error) {
	entries := []models.ReconstructionEntry{}
	err := db.SelectContext(ctx, &entries, db.Rebind(`SELECT `+entryColumns+`
FROM reconstruction_entries WHERE process_status = ? ORDER BY id`), string(models.StatusWaitProcess))
	return entries, eris.Wrap(err, "list waiting entries")
}

func ListByStatus(ctx context.Context, db *sqlx.DB, status models.ProcessStatus) ([]models.ReconstructionEntry, error) {
	entries := []models.ReconstructionEntry{}
	err := db.SelectContext(ctx, &entries, db.Rebind(`SELECT `+entryColumns+`
FROM reconstruction_entries WHERE process_status = ? ORDER BY id`), string(status))
	return entries, eris.Wrap(err, "list entries by status")
}

func CountPending(ctx context.Context, db *sqlx.DB) (int, error) {
	var count int
	err := db.GetContext(ctx, &count, db.Rebind(`SELECT COUNT(*) FROM reconstruction_entries WHERE process_status = ?`),
		string(models.StatusWaitProcess))
	return count, eris.Wrap(err, "count pending entries")
}

// SetVisibility changes visibility of many entries at once (admin action).
func SetVisibility(ctx context.Context, db *sqlx.DB, uuids []string, visibility models.Visibility) (int64, error) {
	if !visibility.Valid() {
		return 0, ErrField("visibility", "Unknown visibility.")
	}
	if len(uuids) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`UPDATE reconstruction_entries SET visibility = ?, updated_at = ? WHERE uuid IN (?)`,
		string(visibility), time.Now().UTC(), uuids)
	if err != nil {
		return 0, eris.Wrap(err, "build visibility update")
	}
	res, err := db.ExecContext(ctx, db.Rebind(query), args...)
	if err != nil {
		return 0, eris.Wrap(err, "set visibility")
	}
	return res.RowsAffected()
}

// OverwriteMetrics sets the given metric values on many entries; metrics
// missing from values keep their stored value (admin action).
func OverwriteMetrics(ctx context.Context, db *sqlx.DB, uuids []string, values map[string]float64) (int64, error) {
	sets := []string{}
	args := []interface{}{}
	for _, field := range models.MetricFields {
		value, ok := values[field.Key]
		if !ok {
			continue
		}
		sets = append(sets, field.Key+" = ?")
		args = append(args, value)
	}
	for key := range values {
		if _, ok := models.MetricByKey(key); !ok {
			return 0, ErrField(key, "Unknown metric.")
		}
	}
	if len(sets) == 0 || len(uuids) == 0 {
		return 0, nil
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC(), uuids)
	query, args, err := sqlx.In(`UPDATE reconstruction_entries SET `+strings.Join(sets, ", ")+` WHERE uuid IN (?)`, args...)
	if err != nil {
		return 0, eris.Wrap(err, "build metrics update")
	}
	res, err := db.ExecContext(ctx, db.Rebind(query), args...)
	if err != nil {
		return 0, eris.Wrap(err, "overwrite metrics")
	}
	return res.RowsAffected()
}

// PurgeInactive hard-deletes soft-deleted entries last touched before cutoff
// together with their archives and sample directories.
func PurgeInactive(ctx context.Context, db *sqlx.DB, cutoff time.Time, uploadDir, mediaDir string) (int, error) {
	entries := []models.ReconstructionEntry{}
	err := db.SelectContext(ctx, &entries, db.Rebind(`SELECT `+entryColumns+`
FROM reconstruction_entries WHERE is_active = ? AND updated_at < ? ORDER BY id`), false, cutoff.UTC())
	if err != nil {
		return 0, eris.Wrap(err, "list purgeable entries")
	}
	purged := 0
	for _, entry := range entries {
		if _, err := db.ExecContext(ctx, db.Rebind(`DELETE FROM result_samples WHERE entry_id = ?`), entry.ID); err != nil {
			return purged, eris.Wrapf(err, "delete samples of entry %d", entry.ID)
		}
		if _, err := db.ExecContext(ctx, db.Rebind(`DELETE FROM reconstruction_entries WHERE id = ?`), entry.ID); err != nil {
			return purged, eris.Wrapf(err, "delete entry %d", entry.ID)
		}
		removeQuietly(entry.UploadPath(uploadDir))
		if err := os.RemoveAll(entry.SampleDir(mediaDir)); err != nil {
			zap.L().Warn("failed to remove sample dir", zap.Int64("entry_id", entry.ID), zap.Error(err))
		}
		purged++
	}
	return purged, nil
}

func removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		zap.L().Warn("failed to remove file", zap.String("path", path), zap.Error(err))
	}
}
