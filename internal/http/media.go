package httpapi

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"spcbench-backend-go/internal/models"
	"spcbench-backend-go/internal/services"
)

// sampleFile resolves {kind}/{uuid}/<frame> to a file under the entry's sample
// dir. Anything the viewer may not see resolves to false.
func (s *Server) sampleFile(r *http.Request) (string, bool) {
	if chi.URLParam(r, "kind") != models.EntryKind {
		return "", false
	}
	entry, err := services.GetVisibleEntry(r.Context(), s.DB, chi.URLParam(r, "uuid"), CurrentViewer(r))
	if err != nil {
		if _, ok := services.AsServiceError(err); !ok {
			zap.L().Error("sample lookup failed", zap.String("trace", eris.ToString(err, true)))
		}
		return "", false
	}
	rel := path.Clean("/" + chi.URLParam(r, "*"))
	if rel == "/" {
		return "", false
	}
	return filepath.Join(entry.SampleDir(s.Config.Storage.MediaDir), filepath.FromSlash(rel)), true
}

func (s *Server) SampleMedia(w http.ResponseWriter, r *http.Request) {
	file, ok := s.sampleFile(r)
	if !ok {
		WriteError(w, http.StatusNotFound, "Not found")
		return
	}
	info, err := os.Stat(file)
	if err != nil || !info.Mode().IsRegular() {
		WriteError(w, http.StatusNotFound, "Not found")
		return
	}
	http.ServeFile(w, r, file)
}

// AuthCheck answers a reverse proxy's subrequest: 200 lets it serve the
// sample itself (the URL mirrors the layout under the media dir), 404 hides it.
func (s *Server) AuthCheck(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.sampleFile(r); !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// ReferenceMedia serves reference thumbnails without directory listings.
func (s *Server) ReferenceMedia() http.Handler {
	files := http.StripPrefix("/media/reference", http.FileServer(http.Dir(models.ReferenceSampleDir(s.Config.Storage.MediaDir))))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			WriteError(w, http.StatusNotFound, "Not found")
			return
		}
		files.ServeHTTP(w, r)
	})
}
