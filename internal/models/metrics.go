package models

import "math"

// Unset marks a metric that has not been computed.
const Unset = -1.0

type MetricField struct {
	Key            string `json:"key"`
	Label          string `json:"label"`
	HigherIsBetter bool   `json:"higherIsBetter"`
}

// MetricFields lists the stored metrics in declaration order.
var MetricFields = []MetricField{
	{Key: "psnr_mean", Label: "Mean PSNR ↑", HigherIsBetter: true},
	{Key: "psnr_5p", Label: "5% Low PSNR ↑", HigherIsBetter: true},
	{Key: "psnr_1p", Label: "1% Low PSNR ↑", HigherIsBetter: true},
	{Key: "ssim_mean", Label: "Mean SSIM ↑", HigherIsBetter: true},
	{Key: "ssim_5p", Label: "5% Low SSIM ↑", HigherIsBetter: true},
	{Key: "ssim_1p", Label: "1% Low SSIM ↑", HigherIsBetter: true},
	{Key: "lpips_mean", Label: "Mean LPIPS ↓", HigherIsBetter: false},
	{Key: "lpips_5p", Label: "5% Low LPIPS ↓", HigherIsBetter: false},
	{Key: "lpips_1p", Label: "1% Low LPIPS ↓", HigherIsBetter: false},
}

const DefaultMetric = "psnr_mean"

func MetricByKey(key string) (MetricField, bool) {
	for _, field := range MetricFields {
		if field.Key == key {
			return field, true
		}
	}
	return MetricField{}, false
}

func IsUnset(value float64) bool {
	return value == Unset || math.IsNaN(value)
}

// Metric returns the value stored under key, or Unset for unknown keys.
func (e *ReconstructionEntry) Metric(key string) float64 {
	if p := e.metricPtr(key); p != nil {
		return *p
	}
	return Unset
}

func (e *ReconstructionEntry) SetMetric(key string, value float64) bool {
	p := e.metricPtr(key)
	if p == nil {
		return false
	}
	*p = value
	return true
}

// Metrics returns the values in MetricFields order.
func (e *ReconstructionEntry) Metrics() []float64 {
	out := make([]float64, len(MetricFields))
	for i, field := range MetricFields {
		out[i] = e.Metric(field.Key)
	}
	return out
}

func (e *ReconstructionEntry) metricPtr(key string) *float64 {
	switch key {
	case "psnr_mean":
		return &e.PSNRMean
	case "psnr_5p":
		return &e.PSNR5p
	case "psnr_1p":
		return &e.PSNR1p
	case "ssim_mean":
		return &e.SSIMMean
	case "ssim_5p":
		return &e.SSIM5p
	case "ssim_1p":
		return &e.SSIM1p
	case "lpips_mean":
		return &e.LPIPSMean
	case "lpips_5p":
		return &e.LPIPS5p
	case "lpips_1p":
		return &e.LPIPS1p
	}
	return nil
}

// Better compares a and b for a metric and returns "a", "b" or "" when they
// tie or either side is unset.
func (f MetricField) Better(a, b float64) string {
	if IsUnset(a) || IsUnset(b) || a == b {
		return ""
	}
	if (a > b) == f.HigherIsBetter {
		return "a"
	}
	return "b"
}
