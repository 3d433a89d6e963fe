package httpapi

import (
	"net/http"

	"github.com/gorilla/websocket"

	"spcbench-backend-go/internal/services"
)

type MetricsHistoryResponse struct {
	Items []services.MetricSample `json:"items"`
}

func (s *Server) MetricsHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 120)
	if limit > 500 {
		limit = 500
	}
	items, err := services.LatestMetrics(r.Context(), s.DB, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, MetricsHistoryResponse{Items: items})
}

// MetricsSocket streams server samples to superusers. Browsers cannot set
// headers on websocket requests, so the token comes as a query parameter.
func (s *Server) MetricsSocket(w http.ResponseWriter, r *http.Request) {
	claims, ok := parseAccess(s.Tokens, r.URL.Query().Get("token"))
	if !ok {
		WriteError(w, http.StatusUnauthorized, "Authentication failed")
		return
	}
	if !claims.IsSuperuser {
		WriteError(w, http.StatusForbidden, "Not allowed")
		return
	}
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.MetricsHub.Add(conn)
	defer func() {
		s.MetricsHub.Remove(conn)
		_ = conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
