package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spcbench-backend-go/internal/models"
)

func uploadDirContents(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(dir, models.EntryKind))
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	names := []string{}
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func countEntries(t *testing.T, s *Submitter) int {
	t.Helper()
	var n int
	require.NoError(t, s.DB.Get(&n, `SELECT COUNT(*) FROM reconstruction_entries`))
	return n
}

func TestSubmitAcceptsValidArchive(t *testing.T) {
	conn := newTestDB(t)
	s := newTestSubmitter(t, conn)
	user := newTestUser(t, conn, "ok@example.org", true, false)
	data := zipBytes(t, testFrames...)

	entry, err := s.Submit(context.Background(), user, SubmissionForm{
		Name:       "  My method ",
		Visibility: "PUBL",
		CodeURL:    "https://example.org/code",
	}, zipFile(data))
	require.NoError(t, err)

	assert.Equal(t, models.StatusWaitProcess, entry.ProcessStatus)
	assert.Equal(t, "My method", entry.Name)
	sum := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), entry.Checksum)
	assert.FileExists(t, entry.UploadPath(s.UploadDir))
	assert.Equal(t, []string{filepath.Base(entry.UploadPath(s.UploadDir))}, uploadDirContents(t, s.UploadDir))

	stored, err := GetEntryByUUID(context.Background(), conn, entry.UUID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaitProcess, stored.ProcessStatus)
	assert.Equal(t, models.VisibilityPublic, stored.Visibility)
	assert.Equal(t, models.Unset, stored.PSNRMean)
	assert.NotNil(t, stored.PubDate)
}

func TestSubmitRejectsAndLeavesNothingBehind(t *testing.T) {
	conn := newTestDB(t)
	user := newTestUser(t, conn, "reject@example.org", true, false)
	form := SubmissionForm{Name: "bad", Visibility: "PRIV"}

	cases := []struct {
		name    string
		file    func(t *testing.T) SubmissionFile
		message string
	}{
		{"missing frame", func(t *testing.T) SubmissionFile {
			return zipFile(zipBytes(t, testFrames[:2]...))
		}, "missing"},
		{"extra frame", func(t *testing.T) SubmissionFile {
			return zipFile(zipBytes(t, append(testFrames, "scene-c/0000.png")...))
		}, "Unexpected additional files"},
		{"wrong layout", func(t *testing.T) SubmissionFile {
			return zipFile(zipBytes(t, "out/scene-a/0000.png", "out/scene-a/0001.png", "out/scene-b/0000.png"))
		}, "directory structure"},
		{"malformed", func(t *testing.T) SubmissionFile {
			return zipFile([]byte("PK not really"))
		}, "Malformed ZIP file."},
		{"wrong extension", func(t *testing.T) SubmissionFile {
			f := zipFile(zipBytes(t, testFrames...))
			f.Filename = "results.tar"
			return f
		}, "must be a zip file"},
		{"wrong content type", func(t *testing.T) SubmissionFile {
			f := zipFile(zipBytes(t, testFrames...))
			f.ContentType = "application/octet-stream"
			return f
		}, "Incorrect content type"},
		{"declared too large", func(t *testing.T) SubmissionFile {
			f := zipFile(zipBytes(t, testFrames...))
			f.Size = 2 << 20
			return f
		}, "smaller than 1MB"},
		{"actually too large", func(t *testing.T) SubmissionFile {
			f := zipFile(make([]byte, (1<<20)+10))
			f.Size = 100
			return f
		}, "smaller than 1MB"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestSubmitter(t, conn)
			_, err := s.Submit(context.Background(), user, form, tc.file(t))
			svcErr, ok := AsServiceError(err)
			require.True(t, ok, "%v", err)
			assert.Equal(t, http.StatusBadRequest, svcErr.Status)
			assert.Contains(t, svcErr.Fields["submission"], tc.message)
			assert.Empty(t, uploadDirContents(t, s.UploadDir))
			assert.Equal(t, 0, countEntries(t, s))
		})
	}
}

func TestSubmitValidatesForm(t *testing.T) {
	conn := newTestDB(t)
	s := newTestSubmitter(t, conn)
	user := newTestUser(t, conn, "form@example.org", true, false)

	_, err := s.Submit(context.Background(), user, SubmissionForm{Name: " ", Visibility: "SECRET", CodeURL: "not a url"},
		zipFile(zipBytes(t, testFrames...)))
	svcErr, ok := AsServiceError(err)
	require.True(t, ok)
	assert.Contains(t, svcErr.Fields, "name")
	assert.Contains(t, svcErr.Fields, "visibility")
	assert.Contains(t, svcErr.Fields, "code_url")
}

func TestSubmitEnforcesQuota(t *testing.T) {
	conn := newTestDB(t)
	s := newTestSubmitter(t, conn)
	user := newTestUser(t, conn, "busy@example.org", true, false)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := s.Submit(ctx, user, SubmissionForm{Name: "run"}, zipFile(zipBytes(t, testFrames...)))
		require.NoError(t, err)
	}
	_, err := s.Submit(ctx, user, SubmissionForm{Name: "run"}, zipFile(zipBytes(t, testFrames...)))
	svcErr, ok := AsServiceError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, svcErr.Status)
	assert.Len(t, uploadDirContents(t, s.UploadDir), 2)

	unverified := newTestUser(t, conn, "unverified@example.org", false, false)
	_, err = s.Submit(ctx, unverified, SubmissionForm{Name: "run"}, zipFile(zipBytes(t, testFrames...)))
	svcErr, _ = AsServiceError(err)
	assert.Equal(t, http.StatusForbidden, svcErr.Status)
}
