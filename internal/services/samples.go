package services

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rotisserie/eris"

	"spcbench-backend-go/internal/models"
)

func insertSamples(ctx context.Context, tx *sqlx.Tx, entryID int64, samples []models.ResultSample) error {
	now := time.Now().UTC()
	for _, sample := range samples {
		_, err := tx.ExecContext(ctx, tx.Rebind(`
INSERT INTO result_samples (entry_id, frame, path, created_at) VALUES (?, ?, ?, ?)`),
			entryID, sample.Frame, sample.Path, now)
		if err != nil {
			return eris.Wrapf(err, "insert sample %s", sample.Frame)
		}
	}
	return nil
}

func ListSamples(ctx context.Context, db *sqlx.DB, entryID int64) ([]models.ResultSample, error) {
	samples := []models.ResultSample{}
	err := db.SelectContext(ctx, &samples, db.Rebind(`
SELECT id, entry_id, frame, path, created_at FROM result_samples WHERE entry_id = ? ORDER BY frame`), entryID)
	return samples, eris.Wrap(err, "list samples")
}
