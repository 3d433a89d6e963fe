package models

import "time"

type User struct {
	ID           string     `db:"id"`
	Email        string     `db:"email"`
	PasswordHash string     `db:"password_hash"`
	University   string     `db:"university"`
	Website      string     `db:"website"`
	Description  string     `db:"description"`
	IsActive     bool       `db:"is_active"`
	IsVerified   bool       `db:"is_verified"`
	IsSuperuser  bool       `db:"is_superuser"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
	LastLoginAt  *time.Time `db:"last_login_at"`
}

// CanUpload reports whether the user may submit another entry given the number
// of entries (active or not) they created in the trailing 24 hours.
func (u User) CanUpload(recentCount, quota int) bool {
	if u.IsSuperuser {
		return true
	}
	return u.IsVerified && u.IsActive && recentCount < quota
}

// ReconstructionEntry is one submitted set of reconstructed frames together
// with its evaluation state and aggregate metrics.
type ReconstructionEntry struct {
	ID            int64         `db:"id"`
	UUID          string        `db:"uuid"`
	CreatorID     string        `db:"creator_id"`
	Name          string        `db:"name"`
	Citation      string        `db:"citation"`
	CodeURL       string        `db:"code_url"`
	PubDate       *time.Time    `db:"pub_date"`
	Checksum      string        `db:"checksum"`
	IsActive      bool          `db:"is_active"`
	Visibility    Visibility    `db:"visibility"`
	ProcessStatus ProcessStatus `db:"process_status"`
	ProcessError  string        `db:"process_error"`
	PSNRMean      float64       `db:"psnr_mean"`
	PSNR5p        float64       `db:"psnr_5p"`
	PSNR1p        float64       `db:"psnr_1p"`
	SSIMMean      float64       `db:"ssim_mean"`
	SSIM5p        float64       `db:"ssim_5p"`
	SSIM1p        float64       `db:"ssim_1p"`
	LPIPSMean     float64       `db:"lpips_mean"`
	LPIPS5p       float64       `db:"lpips_5p"`
	LPIPS1p       float64       `db:"lpips_1p"`
	CreatedAt     time.Time     `db:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at"`
}

// NewReconstructionEntry returns an entry with every metric unset.
func NewReconstructionEntry() ReconstructionEntry {
	e := ReconstructionEntry{
		IsActive:      true,
		Visibility:    VisibilityPrivate,
		ProcessStatus: StatusWaitUpload,
	}
	for _, field := range MetricFields {
		e.SetMetric(field.Key, Unset)
	}
	return e
}

type ResultSample struct {
	ID        int64     `db:"id"`
	EntryID   int64     `db:"entry_id"`
	Frame     string    `db:"frame"`
	Path      string    `db:"path"`
	CreatedAt time.Time `db:"created_at"`
}

type ServerMetricSample struct {
	ID                string    `db:"id"`
	CapturedAt        time.Time `db:"captured_at"`
	HeapUsedBytes     int64     `db:"heap_used_bytes"`
	HeapMaxBytes      int64     `db:"heap_max_bytes"`
	SystemMemoryTotal int64     `db:"system_memory_total_bytes"`
	SystemMemoryUsed  int64     `db:"system_memory_used_bytes"`
	DiskTotalBytes    int64     `db:"disk_total_bytes"`
	DiskUsedBytes     int64     `db:"disk_used_bytes"`
	ProcessCpuLoad    float64   `db:"process_cpu_load"`
	SystemCpuLoad     float64   `db:"system_cpu_load"`
	PendingEntries    int       `db:"pending_entries"`
}
