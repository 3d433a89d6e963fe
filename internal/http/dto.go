package httpapi

import (
	"path"
	"strings"
	"time"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"spcbench-backend-go/internal/leaderboard"
	"spcbench-backend-go/internal/models"
)

type UserDTO struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	University  string     `json:"university"`
	Website     string     `json:"website"`
	Description string     `json:"description"`
	IsActive    bool       `json:"isActive"`
	IsVerified  bool       `json:"isVerified"`
	IsSuperuser bool       `json:"isSuperuser"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

func newUserDTO(u models.User) UserDTO {
	return UserDTO{
		ID:          u.ID,
		Email:       u.Email,
		University:  u.University,
		Website:     u.Website,
		Description: u.Description,
		IsActive:    u.IsActive,
		IsVerified:  u.IsVerified,
		IsSuperuser: u.IsSuperuser,
		CreatedAt:   u.CreatedAt,
		LastLoginAt: u.LastLoginAt,
	}
}

// CreatorDTO is omitted entirely for anonymous entries.
type CreatorDTO struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	University string `json:"university"`
}

type SampleDTO struct {
	Frame        string `json:"frame"`
	URL          string `json:"url"`
	ReferenceURL string `json:"referenceUrl"`
}

type EntryDTO struct {
	UUID            string              `json:"uuid"`
	Name            string              `json:"name"`
	Citation        string              `json:"citation"`
	CitationHTML    string              `json:"citationHtml"`
	CodeURL         string              `json:"codeUrl"`
	Visibility      string              `json:"visibility"`
	VisibilityLabel string              `json:"visibilityLabel"`
	Status          string              `json:"status"`
	Error           string              `json:"error,omitempty"`
	Creator         *CreatorDTO         `json:"creator"`
	Metrics         map[string]*float64 `json:"metrics"`
	Samples         []SampleDTO         `json:"samples,omitempty"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
}

func newEntryDTO(e *models.ReconstructionEntry, creator *CreatorDTO) EntryDTO {
	dto := EntryDTO{
		UUID:            e.UUID,
		Name:            e.Name,
		Citation:        e.Citation,
		CitationHTML:    renderCitation(e.Citation),
		CodeURL:         e.CodeURL,
		Visibility:      string(e.Visibility),
		VisibilityLabel: e.Visibility.Label(),
		Status:          string(e.ProcessStatus),
		Creator:         creator,
		Metrics:         metricValues(e),
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
	if e.ProcessStatus == models.StatusFail {
		dto.Error = e.ProcessError
	}
	return dto
}

// metricValues renders unset metrics as null.
func metricValues(e *models.ReconstructionEntry) map[string]*float64 {
	out := make(map[string]*float64, len(models.MetricFields))
	for _, field := range models.MetricFields {
		value := e.Metric(field.Key)
		if models.IsUnset(value) {
			out[field.Key] = nil
			continue
		}
		out[field.Key] = &value
	}
	return out
}

// sampleDTOs links samples by entry uuid only; the creator id stays server side
// so anonymous entries cannot be traced through their media URLs.
func sampleDTOs(e *models.ReconstructionEntry, samples []models.ResultSample) []SampleDTO {
	out := make([]SampleDTO, 0, len(samples))
	for _, s := range samples {
		out = append(out, SampleDTO{
			Frame:        s.Frame,
			URL:          "/" + path.Join("media", "samples", models.EntryKind, e.UUID, s.Frame),
			ReferenceURL: "/" + path.Join("media", "reference", s.Frame),
		})
	}
	return out
}

type RowDTO struct {
	Rank      int      `json:"rank"`
	GroupSize int      `json:"groupSize"`
	Entry     EntryDTO `json:"entry"`
}

func newRowDTO(row leaderboard.Row) RowDTO {
	var creator *CreatorDTO
	if !row.Anonymous {
		creator = &CreatorDTO{
			ID:         row.Entry.CreatorID,
			Email:      row.Entry.CreatorEmail,
			University: row.Entry.CreatorUniversity,
		}
	}
	return RowDTO{
		Rank:      row.Rank,
		GroupSize: row.GroupSize,
		Entry:     newEntryDTO(&row.Entry.ReconstructionEntry, creator),
	}
}

// renderCitation turns the markdown citation into HTML; raw HTML in the
// source is dropped.
func renderCitation(src string) string {
	if strings.TrimSpace(src) == "" {
		return ""
	}
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	renderer := html.NewRenderer(html.RendererOptions{
		Flags: html.CommonFlags | html.HrefTargetBlank | html.SkipHTML,
	})
	return strings.TrimSpace(string(markdown.ToHTML([]byte(src), p, renderer)))
}
