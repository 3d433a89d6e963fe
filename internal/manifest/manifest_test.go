package manifest

import (
	"archive/zip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeZip(t *testing.T, names ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "submission.zip")
	file, err := os.Create(path)
	require.NoError(t, err)
	w := zip.NewWriter(file)
	for _, name := range names {
		fw, err := w.Create(name)
		require.NoError(t, err)
		if strings.HasSuffix(name, "/") {
			continue
		}
		_, err = fw.Write([]byte("png"))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, file.Close())
	return path
}

var reference = NewSet("scene-a/0000.png", "scene-a/0001.png", "scene-b/0000.png")

func TestValidateOk(t *testing.T) {
	path := writeZip(t, "scene-a/0000.png", "scene-a/0001.png", "scene-b/0000.png", "README.txt", "scene-a/")
	outcome := Check(path, reference)
	assert.True(t, outcome.OK())
	assert.Empty(t, outcome.Message())
}

func TestValidateMissing(t *testing.T) {
	path := writeZip(t, "scene-a/0000.png", "scene-b/0000.png")
	outcome := Check(path, reference)
	assert.Equal(t, Missing, outcome.Kind)
	assert.Equal(t, "scene-a/0001.png", outcome.Example)
	assert.Equal(t, 1, outcome.Count)
	assert.Contains(t, outcome.Message(), "Some test files appear to be missing!")
}

func TestValidateExtra(t *testing.T) {
	path := writeZip(t, "scene-a/0000.png", "scene-a/0001.png", "scene-b/0000.png", "scene-b/0001.png", "scene-c/0000.png")
	outcome := Check(path, reference)
	assert.Equal(t, Extra, outcome.Kind)
	assert.Equal(t, "scene-b/0001.png", outcome.Example)
	assert.Equal(t, 2, outcome.Count)
	assert.Contains(t, outcome.Message(), "Unexpected additional files found")
}

func TestValidateStructureMismatch(t *testing.T) {
	path := writeZip(t, "results/scene-a/0000.png", "results/scene-a/0001.png", "results/scene-b/0000.png")
	outcome := Check(path, reference)
	assert.Equal(t, StructureMismatch, outcome.Kind)
	assert.Equal(t, "results/scene-a/0000.png", outcome.Example)
	assert.Contains(t, outcome.Message(), "<SCENE-NAME>/<FRAME-IDX>.png")
}

func TestValidateMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.zip")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a zip"), 0o644))

	_, err := ReadArchive(path)
	assert.ErrorIs(t, err, ErrMalformed)

	outcome := Check(path, reference)
	assert.Equal(t, Malformed, outcome.Kind)
	assert.Equal(t, "Malformed ZIP file.", outcome.Message())
}

func TestLoadReference(t *testing.T) {
	dir := t.TempDir()
	for _, rel := range []string{"scene-a/0000.png", "scene-b/0001.png", "notes.txt"} {
		full := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte("x"), 0o644))
	}
	set, err := LoadReference(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"scene-a/0000.png", "scene-b/0001.png"}, set.Sorted())

	_, err = LoadReference(t.TempDir())
	assert.Error(t, err)
}
