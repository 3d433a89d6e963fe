package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"spcbench-backend-go/internal/manifest"
	"spcbench-backend-go/internal/models"
)

const ZipContentType = "application/zip"

// SubmissionForm is the metadata sent with an uploaded archive.
type SubmissionForm struct {
	Name       string `json:"name" validate:"required,max=100"`
	Visibility string `json:"visibility" validate:"oneof=PUBL PRIV ANON"`
	Citation   string `json:"citation" validate:"max=500"`
	CodeURL    string `json:"code_url" validate:"omitempty,url"`
}

// SubmissionFile describes the uploaded archive stream.
type SubmissionFile struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Submitter runs the upload pipeline: quota, staging, manifest validation and
// the transactional insert that makes the entry visible to the evaluator.
type Submitter struct {
	DB         *sqlx.DB
	Reference  manifest.Set
	UploadDir  string
	MaxBytes   int64
	DailyQuota int
	Now        func() time.Time
}

func (s *Submitter) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// TooLarge is the field error for archives over MaxBytes.
func (s *Submitter) TooLarge() error {
	return ErrField("submission", fmt.Sprintf("Submission file must be smaller than %dMB.", s.MaxBytes/(1024*1024)))
}

// CheckEligible rejects users who may not upload right now, before any of the
// archive is read.
func (s *Submitter) CheckEligible(ctx context.Context, user models.User) error {
	return CheckQuota(ctx, s.DB, user, s.DailyQuota, s.now())
}

func (s *Submitter) checkFile(file SubmissionFile) error {
	if !strings.HasSuffix(strings.ToLower(file.Filename), ".zip") {
		return ErrField("submission", "Submission file must be a zip file.")
	}
	contentType := strings.TrimSpace(strings.SplitN(file.ContentType, ";", 2)[0])
	if contentType != ZipContentType {
		return ErrField("submission", "Incorrect content type found.")
	}
	if s.MaxBytes > 0 && file.Size > s.MaxBytes {
		return s.TooLarge()
	}
	return nil
}

// Submit validates and persists a new entry in WAIT_PROC. On any failure the
// staged archive is removed and no row survives.
func (s *Submitter) Submit(ctx context.Context, user models.User, form SubmissionForm, file SubmissionFile) (models.ReconstructionEntry, error) {
	form.Name = strings.TrimSpace(form.Name)
	form.Citation = strings.TrimSpace(form.Citation)
	form.CodeURL = strings.TrimSpace(form.CodeURL)
	if form.Visibility == "" {
		form.Visibility = string(models.VisibilityPrivate)
	}
	if err := ValidateStruct(form); err != nil {
		return models.ReconstructionEntry{}, err
	}
	if err := s.checkFile(file); err != nil {
		return models.ReconstructionEntry{}, err
	}
	if err := s.CheckEligible(ctx, user); err != nil {
		return models.ReconstructionEntry{}, err
	}

	staged, checksum, err := s.stage(file.Body)
	if err != nil {
		return models.ReconstructionEntry{}, err
	}
	if outcome := manifest.Check(staged, s.Reference); !outcome.OK() {
		removeQuietly(staged)
		zap.L().Info("submission rejected",
			zap.String("user_id", user.ID), zap.String("outcome", outcome.Kind.String()), zap.String("example", outcome.Example))
		return models.ReconstructionEntry{}, ErrField("submission", outcome.Message())
	}

	entry, err := s.persist(ctx, user, form, staged, checksum)
	if err != nil {
		removeQuietly(staged)
		return models.ReconstructionEntry{}, err
	}
	zap.L().Info("submission accepted", zap.Int64("entry_id", entry.ID), zap.String("user_id", user.ID))
	return entry, nil
}

// stage streams the body into a .part file next to the final upload paths
// while hashing it.
func (s *Submitter) stage(body io.Reader) (string, string, error) {
	dir := filepath.Join(s.UploadDir, models.EntryKind)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", eris.Wrap(err, "create upload dir")
	}
	file, err := os.CreateTemp(dir, "staged_*.zip.part")
	if err != nil {
		return "", "", eris.Wrap(err, "create staged file")
	}
	path := file.Name()
	hasher := sha256.New()
	reader := body
	if s.MaxBytes > 0 {
		reader = io.LimitReader(body, s.MaxBytes+1)
	}
	size, err := io.Copy(io.MultiWriter(file, hasher), reader)
	closeErr := file.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", "", eris.Wrap(err, "write staged file")
	}
	if s.MaxBytes > 0 && size > s.MaxBytes {
		_ = os.Remove(path)
		return "", "", s.TooLarge()
	}
	if size == 0 {
		_ = os.Remove(path)
		return "", "", ErrField("submission", "The submitted file is empty.")
	}
	return path, hex.EncodeToString(hasher.Sum(nil)), nil
}

func (s *Submitter) persist(ctx context.Context, user models.User, form SubmissionForm, staged, checksum string) (models.ReconstructionEntry, error) {
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return models.ReconstructionEntry{}, eris.Wrap(err, "begin")
	}
	defer tx.Rollback() //nolint:errcheck

	now := s.now()
	// Soft quota: two concurrent uploads near the limit can both pass.
	if err := CheckQuota(ctx, tx, user, s.DailyQuota, now); err != nil {
		return models.ReconstructionEntry{}, err
	}

	entry := models.NewReconstructionEntry()
	entry.UUID = uuid.NewString()
	entry.CreatorID = user.ID
	entry.Name = form.Name
	entry.Citation = form.Citation
	entry.CodeURL = form.CodeURL
	entry.Visibility = models.Visibility(form.Visibility)
	entry.Checksum = checksum
	entry.PubDate = &now
	entry.CreatedAt = now
	entry.UpdatedAt = now

	entry.ID, err = insertEntry(ctx, tx, entry)
	if err != nil {
		return models.ReconstructionEntry{}, err
	}

	target := entry.UploadPath(s.UploadDir)
	if err := os.Rename(staged, target); err != nil {
		return models.ReconstructionEntry{}, eris.Wrap(err, "move archive into place")
	}
	if err := Transition(ctx, tx, entry.ID, models.StatusWaitUpload, models.StatusWaitProcess); err != nil {
		removeQuietly(target)
		return models.ReconstructionEntry{}, err
	}
	if err := tx.Commit(); err != nil {
		removeQuietly(target)
		return models.ReconstructionEntry{}, eris.Wrap(err, "commit")
	}
	entry.ProcessStatus = models.StatusWaitProcess
	return entry, nil
}

// entryArgs flattens an entry into named query arguments.
func entryArgs(e models.ReconstructionEntry) map[string]interface{} {
	args := map[string]interface{}{
		"uuid":           e.UUID,
		"creator_id":     e.CreatorID,
		"name":           e.Name,
		"citation":       e.Citation,
		"code_url":       e.CodeURL,
		"pub_date":       e.PubDate,
		"checksum":       e.Checksum,
		"is_active":      e.IsActive,
		"visibility":     string(e.Visibility),
		"process_status": string(e.ProcessStatus),
		"process_error":  e.ProcessError,
		"created_at":     e.CreatedAt,
		"updated_at":     e.UpdatedAt,
	}
	for _, field := range models.MetricFields {
		args[field.Key] = e.Metric(field.Key)
	}
	return args
}

const insertEntrySQL = `
INSERT INTO reconstruction_entries (
  uuid, creator_id, name, citation, code_url, pub_date, checksum, is_active, visibility, process_status,
  process_error, psnr_mean, psnr_5p, psnr_1p, ssim_mean, ssim_5p, ssim_1p, lpips_mean, lpips_5p, lpips_1p,
  created_at, updated_at
) VALUES (
  :uuid, :creator_id, :name, :citation, :code_url, :pub_date, :checksum, :is_active, :visibility, :process_status,
  :process_error, :psnr_mean, :psnr_5p, :psnr_1p, :ssim_mean, :ssim_5p, :ssim_1p, :lpips_mean, :lpips_5p, :lpips_1p,
  :created_at, :updated_at
) RETURNING id`

func insertEntry(ctx context.Context, db sqlx.ExtContext, entry models.ReconstructionEntry) (int64, error) {
	query, args, err := sqlx.Named(insertEntrySQL, entryArgs(entry))
	if err != nil {
		return 0, eris.Wrap(err, "bind entry")
	}
	var id int64
	if err := sqlx.GetContext(ctx, db, &id, db.Rebind(query), args...); err != nil {
		return 0, eris.Wrap(err, "insert entry")
	}
	return id, nil
}

// InsertEntry stores an entry as-is and returns its id. Seeding uses it;
// uploads go through Submit.
func InsertEntry(ctx context.Context, db *sqlx.DB, entry models.ReconstructionEntry) (int64, error) {
	return insertEntry(ctx, db, entry)
}
