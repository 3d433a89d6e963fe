package scoring

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"

	"github.com/rotisserie/eris"
)

// Image is a three channel float image with values in [0,1], stored planar.
type Image struct {
	Width, Height int
	Channels      [3][]float64
}

// DecodePNG reads a PNG and normalises it: alpha is dropped, grayscale is
// replicated across channels and every bit depth maps onto [0,1].
func DecodePNG(r io.Reader) (*Image, image.Image, error) {
	src, err := png.Decode(r)
	if err != nil {
		return nil, nil, eris.Wrap(err, "decode png")
	}
	return FromImage(src), src, nil
}

func DecodePNGBytes(data []byte) (*Image, image.Image, error) {
	return DecodePNG(bytes.NewReader(data))
}

func FromImage(src image.Image) *Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	img := &Image{Width: w, Height: h}
	for c := range img.Channels {
		img.Channels[c] = make([]float64, w*h)
	}
	if nrgba, ok := src.(*image.NRGBA); ok {
		for y := 0; y < h; y++ {
			row := nrgba.Pix[y*nrgba.Stride:]
			for x := 0; x < w; x++ {
				i := y*w + x
				img.Channels[0][i] = float64(row[4*x]) / 255
				img.Channels[1][i] = float64(row[4*x+1]) / 255
				img.Channels[2][i] = float64(row[4*x+2]) / 255
			}
		}
		return img
	}
	// NRGBA64 keeps the unpremultiplied colour at 16 bits; 8-bit sources are
	// widened by 257 so dividing by 65535 matches dividing by 255.
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA64Model.Convert(src.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA64)
			i := y*w + x
			img.Channels[0][i] = float64(c.R) / 65535
			img.Channels[1][i] = float64(c.G) / 65535
			img.Channels[2][i] = float64(c.B) / 65535
		}
	}
	return img
}

func sameShape(a, b *Image) error {
	if a.Width != b.Width || a.Height != b.Height {
		return eris.Errorf("shape mismatch: %dx%d vs %dx%d", a.Width, a.Height, b.Width, b.Height)
	}
	return nil
}
