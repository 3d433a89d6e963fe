package scoring

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"github.com/rotisserie/eris"

	"spcbench-backend-go/internal/models"
)

var ErrNoFrames = eris.New("no frames to aggregate")

// Stat summarises one metric over all frames of an entry.
type Stat struct {
	Mean float64
	P5   float64
	P1   float64
}

var unsetStat = Stat{Mean: models.Unset, P5: models.Unset, P1: models.Unset}

type Summary struct {
	PSNR  Stat
	SSIM  Stat
	LPIPS Stat
}

// Values maps the summary onto the stored metric keys.
func (s Summary) Values() map[string]float64 {
	return map[string]float64{
		"psnr_mean":  s.PSNR.Mean,
		"psnr_5p":    s.PSNR.P5,
		"psnr_1p":    s.PSNR.P1,
		"ssim_mean":  s.SSIM.Mean,
		"ssim_5p":    s.SSIM.P5,
		"ssim_1p":    s.SSIM.P1,
		"lpips_mean": s.LPIPS.Mean,
		"lpips_5p":   s.LPIPS.P5,
		"lpips_1p":   s.LPIPS.P1,
	}
}

func (s Summary) Apply(e *models.ReconstructionEntry) {
	for key, value := range s.Values() {
		e.SetMetric(key, value)
	}
}

// Aggregate reduces per-frame scores to mean, 5th and 1st percentile per
// metric. Percentiles are taken on the raw distribution of each column.
func Aggregate(frames []FrameScores) (Summary, error) {
	if len(frames) == 0 {
		return Summary{}, ErrNoFrames
	}
	psnr := make([]float64, len(frames))
	ssim := make([]float64, len(frames))
	lpips := make([]float64, 0, len(frames))
	for i, f := range frames {
		psnr[i] = f.PSNR
		ssim[i] = f.SSIM
		if !models.IsUnset(f.LPIPS) {
			lpips = append(lpips, f.LPIPS)
		}
	}
	if len(lpips) != 0 && len(lpips) != len(frames) {
		return Summary{}, eris.Errorf("lpips computed for %d of %d frames", len(lpips), len(frames))
	}

	var summary Summary
	var err error
	if summary.PSNR, err = column(psnr, 0, 0, false); err != nil {
		return Summary{}, eris.Wrap(err, "psnr")
	}
	if summary.SSIM, err = column(ssim, -1, 1, true); err != nil {
		return Summary{}, eris.Wrap(err, "ssim")
	}
	summary.LPIPS = unsetStat
	if len(lpips) > 0 {
		if summary.LPIPS, err = column(lpips, 0, 0, false); err != nil {
			return Summary{}, eris.Wrap(err, "lpips")
		}
	}
	return summary, nil
}

// column computes the statistics of one metric and checks its values lie in
// [lo, hi]; when bounded is false only the lower bound applies.
func column(values []float64, lo, hi float64, bounded bool) (Stat, error) {
	data := stats.Float64Data(values)
	minimum, err := data.Min()
	if err != nil {
		return Stat{}, err
	}
	maximum, err := data.Max()
	if err != nil {
		return Stat{}, err
	}
	if minimum < lo || (bounded && maximum > hi) {
		return Stat{}, eris.Errorf("values out of range: min %g max %g", minimum, maximum)
	}
	mean, err := data.Mean()
	if err != nil {
		return Stat{}, err
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return Stat{
		Mean: mean,
		P5:   percentile(sorted, 0.05),
		P1:   percentile(sorted, 0.01),
	}, nil
}

// percentile interpolates linearly between the closest ranks at p*(n-1),
// the definition numpy uses by default.
func percentile(sorted []float64, p float64) float64 {
	h := p * float64(len(sorted)-1)
	lo := int(math.Floor(h))
	hi := int(math.Ceil(h))
	return sorted[lo] + (h-float64(lo))*(sorted[hi]-sorted[lo])
}
