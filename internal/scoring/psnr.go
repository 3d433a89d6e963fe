package scoring

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// minMSE bounds PSNR for identical frames at 100 dB so scores stay finite.
const minMSE = 1e-10

// PSNR computes the peak signal to noise ratio with a data range of 1 and the
// mean squared error taken over all pixels of all channels.
func PSNR(pred, ref *Image) (float64, error) {
	if err := sameShape(pred, ref); err != nil {
		return 0, err
	}
	var sum float64
	n := 0
	diff := make([]float64, pred.Width*pred.Height)
	for c := range pred.Channels {
		floats.SubTo(diff, pred.Channels[c], ref.Channels[c])
		sum += floats.Dot(diff, diff)
		n += len(diff)
	}
	if n == 0 {
		return 0, errEmptyImage
	}
	mse := math.Max(sum/float64(n), minMSE)
	return -10 * math.Log10(mse), nil
}
