package scoring

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"spcbench-backend-go/internal/models"
)

// FrameScores holds the per-frame metrics of one predicted frame.
type FrameScores struct {
	Frame string
	PSNR  float64
	SSIM  float64
	LPIPS float64
}

// Evaluator scores submission archives against the reference directory.
type Evaluator struct {
	ReferenceDir string
	Perceptual   Perceptual
	Workers      int
}

// Evaluate scores every .png frame of the archive against the reference frame
// with the same relative path. Any frame error aborts the whole archive.
func (e *Evaluator) Evaluate(ctx context.Context, archivePath string) ([]FrameScores, error) {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, eris.Wrapf(err, "open archive %s", filepath.Base(archivePath))
	}
	defer reader.Close()

	files := pngEntries(&reader.Reader)
	results := make([]FrameScores, len(files))

	workers := e.Workers
	if workers <= 0 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			scores, err := e.scoreFrame(gctx, file)
			if err != nil {
				return eris.Wrapf(err, "frame %s", file.Name)
			}
			results[i] = scores
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Evaluator) scoreFrame(ctx context.Context, file *zip.File) (FrameScores, error) {
	predBytes, err := readZipFile(file)
	if err != nil {
		return FrameScores{}, err
	}
	refBytes, err := os.ReadFile(e.referencePath(frameName(file)))
	if err != nil {
		return FrameScores{}, eris.Wrap(err, "read reference frame")
	}
	pred, _, err := DecodePNGBytes(predBytes)
	if err != nil {
		return FrameScores{}, eris.Wrap(err, "prediction")
	}
	ref, _, err := DecodePNGBytes(refBytes)
	if err != nil {
		return FrameScores{}, eris.Wrap(err, "reference")
	}
	psnr, err := PSNR(pred, ref)
	if err != nil {
		return FrameScores{}, err
	}
	ssim, err := SSIM(pred, ref)
	if err != nil {
		return FrameScores{}, err
	}
	lpips := models.Unset
	if e.Perceptual != nil {
		lpips, err = e.Perceptual.Distance(ctx, predBytes, refBytes)
		if err != nil {
			return FrameScores{}, err
		}
	}
	return FrameScores{Frame: frameName(file), PSNR: psnr, SSIM: ssim, LPIPS: lpips}, nil
}

func (e *Evaluator) referencePath(frame string) string {
	return filepath.Join(e.ReferenceDir, filepath.FromSlash(frame))
}

func pngEntries(reader *zip.Reader) []*zip.File {
	files := []*zip.File{}
	for _, file := range reader.File {
		if file.FileInfo().IsDir() || !strings.HasSuffix(strings.ToLower(file.Name), ".png") {
			continue
		}
		files = append(files, file)
	}
	sort.Slice(files, func(i, j int) bool { return frameName(files[i]) < frameName(files[j]) })
	return files
}

func frameName(file *zip.File) string {
	return strings.TrimPrefix(file.Name, "./")
}

func readZipFile(file *zip.File) ([]byte, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, eris.Wrap(err, "open archive member")
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, eris.Wrap(err, "read archive member")
	}
	return data, nil
}
