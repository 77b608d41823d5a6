package internal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"slideshow/internal/storage"
)

var errRateLimited = errors.New("too many uploads")

type postsResponse struct {
	Posts []storage.Item `json:"posts"`
}

type indexPage struct {
	Message    string
	Error      string
	MaxComment int
}

type galleryPage struct {
	Slots   UpdatePayload
	Feature string
	Comment string
	Empty   bool
}

type clearPage struct {
	Message string
	Failed  bool
}

func (s *Server) HandleIndex(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	s.render(w, http.StatusOK, "index.html", indexPage{
		Message:    query.Get("msg"),
		Error:      query.Get("error"),
		MaxComment: MaxCommentLength,
	})
}

// HandleCreatePost ingests a multipart upload and always answers with a
// redirect back to the upload page carrying the outcome.
func (s *Server) HandleCreatePost(w http.ResponseWriter, r *http.Request) {
	if !s.uploadLimiter.Allow(s.clientIP(r)) {
		s.redirectOutcome(w, r, &IngestError{Kind: KindRateLimited, Err: errRateLimited})
		return
	}

	upload, err := s.readUpload(w, r)
	if err != nil {
		s.redirectOutcome(w, r, err)
		return
	}
	_, err = s.ingestor.Ingest(r.Context(), upload)
	s.redirectOutcome(w, r, err)
}

func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (Upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			return Upload{}, &IngestError{
				Kind: KindInvalid,
				Err:  fmt.Errorf("photo is larger than %s", sizeLabel(s.maxUploadBytes)),
			}
		}
		return Upload{}, &IngestError{Kind: KindInvalid, Err: ErrNoImage}
	}
	upload := Upload{Comment: strings.TrimSpace(r.FormValue("comment"))}

	file, _, err := r.FormFile("image")
	if err != nil {
		return upload, &IngestError{Kind: KindInvalid, Err: ErrNoImage}
	}
	defer file.Close()
	upload.Image, err = io.ReadAll(file)
	if err != nil {
		return upload, &IngestError{Kind: KindStore, Err: fmt.Errorf("read upload: %w", err)}
	}
	return upload, nil
}

func sizeLabel(n int64) string {
	if n >= 1<<20 {
		return fmt.Sprintf("%d MB", n>>20)
	}
	return fmt.Sprintf("%d KB", n>>10)
}

func (s *Server) redirectOutcome(w http.ResponseWriter, r *http.Request, err error) {
	outcome := OutcomeFor(err)
	target := "/?msg=" + url.QueryEscape(outcome.Message)
	if outcome.OK {
		s.metrics.IncUpload()
	} else {
		s.metrics.IncUploadFailure(outcome.Kind)
		s.logger.Warn("upload rejected", "kind", outcome.Kind.String(), "remote", s.clientIP(r), "error", err)
		target = "/?error=" + url.QueryEscape(outcome.Message)
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (s *Server) HandleListPosts(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.All(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if items == nil {
		items = []storage.Item{}
	}
	writeJSON(w, http.StatusOK, postsResponse{Posts: items})
}

func (s *Server) HandleImage(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil || !validImageName(name) {
		http.Error(w, "invalid image name", http.StatusBadRequest)
		return
	}
	file, err := os.Open(filepath.Join(s.ingestor.ImageDir(), name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.NotFound(w, r)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if stat.IsDir() {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	http.ServeContent(w, r, name, stat.ModTime(), file)
}

// validImageName accepts a single visible path element. Temp files start
// with a dot and are never served.
func validImageName(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	if strings.ContainsAny(name, `/\`+"\x00") {
		return false
	}
	return filepath.Base(name) == name
}

// HandleGallery renders a display page seeded with a one-shot sample. The
// first four items fill the corners, the next one the center.
func (s *Server) HandleGallery(w http.ResponseWriter, r *http.Request) {
	items, err := s.sampler.Sample(r.Context(), s.galleryCount)
	if err != nil {
		s.logger.Error("gallery sample failed", "error", err)
		http.Error(w, "could not load photos", http.StatusInternalServerError)
		return
	}
	page := galleryPage{
		Slots: RefreshFrame(items, s.imageURL),
		Empty: len(items) == 0,
	}
	if len(items) > SlotCount {
		page.Feature = s.imageURL(items[SlotCount].Name)
	}
	switch {
	case len(items) > 2:
		page.Comment = items[2].Comment
	case len(items) > 0:
		page.Comment = items[0].Comment
	}
	s.render(w, http.StatusOK, "gallery.html", page)
}

// HandleDatabaseClear removes every record up to the current maximum id.
// An insert racing between the two steps survives the clear.
func (s *Server) HandleDatabaseClear(w http.ResponseWriter, r *http.Request) {
	maxID, ok, err := s.store.MaxID(r.Context())
	if err != nil {
		s.render(w, http.StatusInternalServerError, "clear.html", clearPage{
			Message: fmt.Sprintf("Reading the DB failed: %v", err),
			Failed:  true,
		})
		return
	}
	if !ok {
		s.render(w, http.StatusOK, "clear.html", clearPage{Message: "DB was already empty, did nothing."})
		return
	}
	deleted, err := s.store.DeleteUpTo(r.Context(), maxID)
	if err != nil {
		s.render(w, http.StatusInternalServerError, "clear.html", clearPage{
			Message: fmt.Sprintf("Deleted %d rows before failing: %v", deleted, err),
			Failed:  true,
		})
		return
	}
	s.logger.Info("database cleared", "deleted", deleted)
	s.render(w, http.StatusOK, "clear.html", clearPage{
		Message: fmt.Sprintf("Deleted %d rows. DB is now empty.", deleted),
	})
}

func (s *Server) HandleDatabaseShow(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.All(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	buf.WriteString("<h1> Database dump: </h1>")
	for _, item := range items {
		fmt.Fprintf(&buf, "%d: %s<br>", item.ID, html.EscapeString(item.Name))
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, data); err != nil {
		s.logger.Error("render page", "page", name, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}
