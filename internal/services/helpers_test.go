package services

import (
	"archive/zip"
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"spcbench-backend-go/internal/db"
	"spcbench-backend-go/internal/manifest"
	"spcbench-backend-go/internal/migrations"
	"spcbench-backend-go/internal/models"
)

var testTokens = TokenService{
	Secret:        []byte("test-secret"),
	Issuer:        "spcbench-test",
	AccessTTL:     time.Hour,
	RefreshTTL:    24 * time.Hour,
	ActivationTTL: time.Hour,
}

var testFrames = []string{"scene-a/0000.png", "scene-a/0001.png", "scene-b/0000.png"}

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	conn, err := db.Open(db.DriverSQLite, filepath.Join(t.TempDir(), "services.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() }) //nolint:errcheck
	require.NoError(t, migrations.Apply(conn))
	return conn
}

func newTestUser(t *testing.T, conn *sqlx.DB, email string, verified, superuser bool) models.User {
	t.Helper()
	user, err := CreateUser(context.Background(), conn, testTokens, NewUser{
		Email:       email,
		Password:    "correct horse",
		University:  "Test University",
		IsVerified:  verified,
		IsSuperuser: superuser,
	})
	require.NoError(t, err)
	return user
}

func zipBytes(t *testing.T, names ...string) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	for _, name := range names {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(name))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func newTestSubmitter(t *testing.T, conn *sqlx.DB) *Submitter {
	t.Helper()
	return &Submitter{
		DB:         conn,
		Reference:  manifest.NewSet(testFrames...),
		UploadDir:  t.TempDir(),
		MaxBytes:   1 << 20,
		DailyQuota: 2,
	}
}

func zipFile(data []byte) SubmissionFile {
	return SubmissionFile{
		Filename:    "results.zip",
		ContentType: ZipContentType,
		Size:        int64(len(data)),
		Body:        bytes.NewReader(data),
	}
}
