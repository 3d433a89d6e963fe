package scoring

import (
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"
)

const (
	ssimWindow = 11
	ssimSigma  = 1.5
	ssimK1     = 0.01
	ssimK2     = 0.03
)

var (
	errEmptyImage = eris.New("empty image")
	ssimKernel    = gaussianKernel(ssimWindow, ssimSigma)
)

func gaussianKernel(size int, sigma float64) []float64 {
	kernel := make([]float64, size)
	half := float64(size-1) / 2
	for i := range kernel {
		d := float64(i) - half
		kernel[i] = math.Exp(-(d * d) / (2 * sigma * sigma))
	}
	floats.Scale(1/floats.Sum(kernel), kernel)
	return kernel
}

// SSIM computes the structural similarity index with an 11x11 Gaussian window
// (sigma 1.5) over the valid region, averaged over channels.
func SSIM(pred, ref *Image) (float64, error) {
	if err := sameShape(pred, ref); err != nil {
		return 0, err
	}
	if pred.Width < ssimWindow || pred.Height < ssimWindow {
		return 0, eris.Errorf("image %dx%d smaller than ssim window %d", pred.Width, pred.Height, ssimWindow)
	}
	c1 := ssimK1 * ssimK1
	c2 := ssimK2 * ssimK2
	w, h := pred.Width, pred.Height
	n := w * h

	xx := make([]float64, n)
	yy := make([]float64, n)
	xy := make([]float64, n)
	var total float64
	count := 0
	for c := range pred.Channels {
		x, y := pred.Channels[c], ref.Channels[c]
		floats.MulTo(xx, x, x)
		floats.MulTo(yy, y, y)
		floats.MulTo(xy, x, y)

		muX, ow, oh := gaussianFilter(x, w, h)
		muY, _, _ := gaussianFilter(y, w, h)
		sXX, _, _ := gaussianFilter(xx, w, h)
		sYY, _, _ := gaussianFilter(yy, w, h)
		sXY, _, _ := gaussianFilter(xy, w, h)

		for i := 0; i < ow*oh; i++ {
			mx, my := muX[i], muY[i]
			varX := sXX[i] - mx*mx
			varY := sYY[i] - my*my
			cov := sXY[i] - mx*my
			num := (2*mx*my + c1) * (2*cov + c2)
			den := (mx*mx + my*my + c1) * (varX + varY + c2)
			total += num / den
		}
		count += ow * oh
	}
	return total / float64(count), nil
}

// gaussianFilter convolves a w x h plane with the separable SSIM kernel and
// keeps only positions where the window fits entirely.
func gaussianFilter(plane []float64, w, h int) ([]float64, int, int) {
	k := len(ssimKernel)
	ow, oh := w-k+1, h-k+1

	rows := make([]float64, ow*h)
	for y := 0; y < h; y++ {
		line := plane[y*w : (y+1)*w]
		for x := 0; x < ow; x++ {
			rows[y*ow+x] = floats.Dot(ssimKernel, line[x:x+k])
		}
	}
	out := make([]float64, ow*oh)
	for y := 0; y < oh; y++ {
		for x := 0; x < ow; x++ {
			var acc float64
			for i, kv := range ssimKernel {
				acc += kv * rows[(y+i)*ow+x]
			}
			out[y*ow+x] = acc
		}
	}
	return out, ow, oh
}
