package scoring

import (
	"archive/zip"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"golang.org/x/image/draw"
)

// Sample is a thumbnail written for one configured frame.
type Sample struct {
	Frame string
	Path  string
}

// SampleWriter renders downscaled previews of selected frames.
type SampleWriter struct {
	Frames       []string
	MaxWidth     int
	ReferenceDir string
	// ReferenceOut receives reference thumbnails, shared by all entries.
	ReferenceOut string
}

// Write renders every configured frame present in the archive into dir and
// makes sure the matching reference thumbnail exists.
func (w SampleWriter) Write(archivePath, dir string) ([]Sample, error) {
	if len(w.Frames) == 0 {
		return nil, nil
	}
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, eris.Wrap(err, "samples: open archive")
	}
	defer reader.Close()
	byName := map[string]*zip.File{}
	for _, file := range reader.File {
		byName[frameName(file)] = file
	}

	samples := []Sample{}
	for _, frame := range w.Frames {
		file, ok := byName[frame]
		if !ok {
			continue
		}
		data, err := readZipFile(file)
		if err != nil {
			return nil, err
		}
		_, src, err := DecodePNGBytes(data)
		if err != nil {
			return nil, eris.Wrapf(err, "samples: %s", frame)
		}
		out := filepath.Join(dir, filepath.FromSlash(frame))
		if err := WriteThumbnail(src, out, w.MaxWidth); err != nil {
			return nil, err
		}
		if err := w.referenceThumbnail(frame); err != nil {
			return nil, err
		}
		samples = append(samples, Sample{Frame: frame, Path: out})
	}
	return samples, nil
}

func (w SampleWriter) referenceThumbnail(frame string) error {
	if w.ReferenceOut == "" {
		return nil
	}
	out := filepath.Join(w.ReferenceOut, filepath.FromSlash(frame))
	if _, err := os.Stat(out); err == nil {
		return nil
	}
	file, err := os.Open(filepath.Join(w.ReferenceDir, filepath.FromSlash(frame)))
	if err != nil {
		return eris.Wrapf(err, "samples: open reference %s", frame)
	}
	defer file.Close()
	src, err := png.Decode(file)
	if err != nil {
		return eris.Wrapf(err, "samples: decode reference %s", frame)
	}
	return WriteThumbnail(src, out, w.MaxWidth)
}

// WriteThumbnail scales src down to maxWidth (never up) with Catmull-Rom
// resampling and writes it as PNG, staging through a temporary file.
func WriteThumbnail(src image.Image, path string, maxWidth int) error {
	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if maxWidth > 0 && width > maxWidth {
		height = max(1, height*maxWidth/width)
		width = maxWidth
	}
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "samples: create dir")
	}
	tmp := path + ".part"
	file, err := os.Create(tmp)
	if err != nil {
		return eris.Wrap(err, "samples: create file")
	}
	if err := png.Encode(file, dst); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return eris.Wrap(err, "samples: encode png")
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return eris.Wrap(err, "samples: close file")
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return eris.Wrap(err, "samples: rename")
	}
	return nil
}
