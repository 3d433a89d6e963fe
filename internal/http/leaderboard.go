package httpapi

import (
	"bytes"
	"net/http"
	"strconv"

	"spcbench-backend-go/internal/leaderboard"
	"spcbench-backend-go/internal/models"
)

type LeaderboardResponse struct {
	Items    []RowDTO `json:"items"`
	Page     int      `json:"page"`
	Pages    int      `json:"pages"`
	Total    int      `json:"total"`
	PageSize int      `json:"pageSize"`
	SortBy   string   `json:"sortby"`
	Collapse bool     `json:"collapse"`
	Creator  string   `json:"creator,omitempty"`
}

func leaderboardRequest(r *http.Request) leaderboard.Request {
	query := r.URL.Query()
	collapse, _ := strconv.ParseBool(query.Get("collapse"))
	return leaderboard.Request{
		SortKey:  query.Get("sortby"),
		Collapse: collapse,
		Creator:  query.Get("creator"),
		Viewer:   CurrentViewer(r),
		Page:     parseInt(query.Get("page"), 1),
	}
}

func (s *Server) Leaderboard(w http.ResponseWriter, r *http.Request) {
	page, err := leaderboard.Query(r.Context(), s.DB, leaderboardRequest(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	items := make([]RowDTO, 0, len(page.Rows))
	for _, row := range page.Rows {
		items = append(items, newRowDTO(row))
	}
	WriteJSON(w, http.StatusOK, LeaderboardResponse{
		Items:    items,
		Page:     page.Page,
		Pages:    page.Pages,
		Total:    page.Total,
		PageSize: leaderboard.PageSize,
		SortBy:   page.SortKey.String(),
		Collapse: page.Collapse,
		Creator:  page.Creator,
	})
}

func (s *Server) LeaderboardMetrics(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"items":   models.MetricFields,
		"default": models.DefaultMetric,
	})
}

// LeaderboardExport renders every page of the current view as xlsx.
func (s *Server) LeaderboardExport(w http.ResponseWriter, r *http.Request) {
	rows, _, _, err := leaderboard.Ranked(r.Context(), s.DB, leaderboardRequest(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := leaderboard.WriteXLSX(&buf, rows); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="leaderboard.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
