package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"spcbench-backend-go/internal/leaderboard"
	"spcbench-backend-go/internal/models"
	"spcbench-backend-go/internal/services"
)

const multipartMemory = 32 << 20

// CreateEntry accepts the multipart submission form and hands the archive
// stream to the submitter. Eligibility is settled before the body is read.
func (s *Server) CreateEntry(w http.ResponseWriter, r *http.Request) {
	user, err := services.GetUser(r.Context(), s.DB, CurrentUserID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := s.Submitter.CheckEligible(r.Context(), user); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if s.Submitter.MaxBytes > 0 {
		// Room for the form fields next to the archive itself.
		r.Body = http.MaxBytesReader(w, r.Body, s.Submitter.MaxBytes+(1<<20))
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			writeServiceError(w, r, s.Submitter.TooLarge())
			return
		}
		writeServiceError(w, r, services.ErrField("submission", "This field is required."))
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	file, header, err := r.FormFile("submission")
	if err != nil {
		writeServiceError(w, r, services.ErrField("submission", "This field is required."))
		return
	}
	defer file.Close()

	form := services.SubmissionForm{
		Name:       r.FormValue("name"),
		Visibility: r.FormValue("visibility"),
		Citation:   r.FormValue("citation"),
		CodeURL:    r.FormValue("code_url"),
	}
	entry, err := s.Submitter.Submit(r.Context(), user, form, services.SubmissionFile{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	creator := &CreatorDTO{ID: user.ID, Email: user.Email, University: user.University}
	WriteJSON(w, http.StatusCreated, map[string]EntryDTO{"entry": newEntryDTO(&entry, creator)})
}

func (s *Server) GetEntry(w http.ResponseWriter, r *http.Request) {
	viewer := CurrentViewer(r)
	entry, err := services.GetVisibleEntry(r.Context(), s.DB, chi.URLParam(r, "uuid"), viewer)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	dto, err := s.entryDetail(r, &entry, viewer)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if dto.Samples, err = s.entrySamples(r, &entry); err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]EntryDTO{"entry": dto})
}

func (s *Server) entrySamples(r *http.Request, entry *models.ReconstructionEntry) ([]SampleDTO, error) {
	samples, err := services.ListSamples(r.Context(), s.DB, entry.ID)
	if err != nil {
		return nil, err
	}
	return sampleDTOs(entry, samples), nil
}

// entryDetail resolves the creator unless the viewer must not learn it.
func (s *Server) entryDetail(r *http.Request, entry *models.ReconstructionEntry, viewer leaderboard.Viewer) (EntryDTO, error) {
	if leaderboard.HidesCreator(entry, viewer) {
		return newEntryDTO(entry, nil), nil
	}
	creator, err := services.GetUser(r.Context(), s.DB, entry.CreatorID)
	if err != nil {
		return EntryDTO{}, err
	}
	return newEntryDTO(entry, &CreatorDTO{ID: creator.ID, Email: creator.Email, University: creator.University}), nil
}

func (s *Server) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	var req services.EntryUpdate
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	viewer := CurrentViewer(r)
	entry, err := services.UpdateEntry(r.Context(), s.DB, chi.URLParam(r, "uuid"), viewer, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	dto, err := s.entryDetail(r, &entry, viewer)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]EntryDTO{"entry": dto})
}

func (s *Server) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	if err := services.SoftDeleteEntry(r.Context(), s.DB, chi.URLParam(r, "uuid"), CurrentViewer(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type CompareResponse struct {
	A        EntryDTO             `json:"a"`
	B        EntryDTO             `json:"b"`
	Fields   []models.MetricField `json:"fields"`
	Emphasis map[string]string    `json:"emphasis"`
}

// Compare puts two visible entries side by side and marks the better value
// of every metric.
func (s *Server) Compare(w http.ResponseWriter, r *http.Request) {
	viewer := CurrentViewer(r)
	query := r.URL.Query()
	if query.Get("a") == "" || query.Get("b") == "" {
		WriteError(w, http.StatusBadRequest, "Two entries are required.")
		return
	}
	a, err := services.GetVisibleEntry(r.Context(), s.DB, query.Get("a"), viewer)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	b, err := services.GetVisibleEntry(r.Context(), s.DB, query.Get("b"), viewer)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	resp := CompareResponse{Fields: models.MetricFields, Emphasis: map[string]string{}}
	if resp.A, err = s.entryDetail(r, &a, viewer); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if resp.B, err = s.entryDetail(r, &b, viewer); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if resp.A.Samples, err = s.entrySamples(r, &a); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if resp.B.Samples, err = s.entrySamples(r, &b); err != nil {
		writeServiceError(w, r, err)
		return
	}
	for _, field := range models.MetricFields {
		resp.Emphasis[field.Key] = field.Better(a.Metric(field.Key), b.Metric(field.Key))
	}
	WriteJSON(w, http.StatusOK, resp)
}
