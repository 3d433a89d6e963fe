package models

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanUpload(t *testing.T) {
	verified := User{IsActive: true, IsVerified: true}
	assert.True(t, verified.CanUpload(4, 5))
	assert.False(t, verified.CanUpload(5, 5))

	unverified := User{IsActive: true}
	assert.False(t, unverified.CanUpload(0, 5))

	inactive := User{IsVerified: true}
	assert.False(t, inactive.CanUpload(0, 5))

	admin := User{IsSuperuser: true}
	assert.True(t, admin.CanUpload(100, 5))
}

func TestCheckTransition(t *testing.T) {
	require.NoError(t, CheckTransition(StatusWaitUpload, StatusWaitProcess))
	require.NoError(t, CheckTransition(StatusWaitProcess, StatusSuccess))
	require.NoError(t, CheckTransition(StatusWaitProcess, StatusFail))

	for _, bad := range [][2]ProcessStatus{
		{StatusWaitUpload, StatusSuccess},
		{StatusSuccess, StatusFail},
		{StatusFail, StatusWaitProcess},
		{StatusSuccess, StatusWaitProcess},
	} {
		err := CheckTransition(bad[0], bad[1])
		assert.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", bad[0], bad[1])
	}
	assert.True(t, StatusFail.Terminal())
	assert.False(t, StatusWaitProcess.Terminal())
}

func TestNewEntryHasUnsetMetrics(t *testing.T) {
	e := NewReconstructionEntry()
	assert.Equal(t, StatusWaitUpload, e.ProcessStatus)
	assert.Equal(t, VisibilityPrivate, e.Visibility)
	for _, v := range e.Metrics() {
		assert.Equal(t, Unset, v)
	}
	assert.True(t, e.SetMetric("ssim_1p", 0.5))
	assert.Equal(t, 0.5, e.SSIM1p)
	assert.False(t, e.SetMetric("bogus", 1))
	assert.Equal(t, Unset, e.Metric("bogus"))
}

func TestMetricFieldBetter(t *testing.T) {
	psnr, ok := MetricByKey("psnr_mean")
	require.True(t, ok)
	lpips, ok := MetricByKey("lpips_mean")
	require.True(t, ok)

	assert.Equal(t, "a", psnr.Better(30, 20))
	assert.Equal(t, "b", lpips.Better(0.3, 0.2))
	assert.Equal(t, "", psnr.Better(30, 30))
	assert.Equal(t, "", psnr.Better(Unset, 20))
}

func TestPaths(t *testing.T) {
	e := ReconstructionEntry{ID: 7, CreatorID: "u1", UUID: "abc"}
	assert.Equal(t, filepath.Join("up", "reconstruction", "upload_u1_7.zip"), e.UploadPath("up"))
	assert.Equal(t, filepath.Join("media", "samples", "reconstruction", "abc"), e.SampleDir("media"))
}
