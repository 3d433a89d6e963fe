package models

import (
	"fmt"
	"path/filepath"
)

// EntryKind is the path segment used for reconstruction uploads and samples.
const EntryKind = "reconstruction"

func UploadPath(uploadDir, creatorID string, id int64) string {
	return filepath.Join(uploadDir, EntryKind, fmt.Sprintf("upload_%s_%d.zip", creatorID, id))
}

func (e *ReconstructionEntry) UploadPath(uploadDir string) string {
	return UploadPath(uploadDir, e.CreatorID, e.ID)
}

// SampleDir is keyed by entry uuid alone so the public media path of an
// anonymous entry carries nothing about its creator.
func SampleDir(mediaDir, entryUUID string) string {
	return filepath.Join(mediaDir, "samples", EntryKind, entryUUID)
}

func (e *ReconstructionEntry) SampleDir(mediaDir string) string {
	return SampleDir(mediaDir, e.UUID)
}

// ReferenceSampleDir holds thumbnails of reference frames shared by all entries.
func ReferenceSampleDir(mediaDir string) string {
	return filepath.Join(mediaDir, "samples", "reference")
}
