package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vibingu/vibingu/pkg/imagestore"
	"github.com/vibingu/vibingu/pkg/ingest"
	"github.com/vibingu/vibingu/pkg/store"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

var servableExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
}

// parseFeedRequest reads the multipart form shared by /feed and /feed/stream.
func (s *Server) parseFeedRequest(r *http.Request) (*ingest.Request, error) {
	if err := r.ParseMultipartForm(ingest.MaxImageBytes + 1<<20); err != nil {
		return nil, err
	}
	req := &ingest.Request{
		Text:         r.FormValue("text"),
		CategoryHint: r.FormValue("category_hint"),
	}
	if v := r.FormValue("client_time"); v != "" {
		if t, err := s.parseClientTime(v); err == nil {
			req.ClientTime = t
		} else {
			slog.Warn("unparseable client_time ignored", "value", v)
		}
	}
	if file, header, err := r.FormFile("image"); err == nil {
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, ingest.MaxImageBytes+1))
		if err != nil {
			return nil, err
		}
		req.Image = data
		req.ImageName = header.Filename
	}
	return req, nil
}

// parseClientTime accepts RFC3339 or a naive local timestamp, which is
// interpreted as Beijing time.
func (s *Server) parseClientTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02T15:04:05", v, s.loc)
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseFeedRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := s.ingest.Ingest(r.Context(), req)
	if err != nil {
		writeIngestError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFeedStream(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseFeedRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := s.ingest.IngestStream(r.Context(), req)
	if err != nil {
		writeIngestError(w, err)
		return
	}
	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for event := range events {
		if err := sse.send(event); err != nil {
			// Client gone; the pipeline drains via context cancellation.
			return
		}
	}
}

func writeIngestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ingest.ErrEmptyInput), errors.Is(err, ingest.ErrBadPhase):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ingest.ErrPayloadTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "record not found")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultHistoryLimit)
	if limit < 1 || limit > maxHistoryLimit {
		limit = defaultHistoryLimit
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	records, total, err := s.store.History(r.Context(), store.HistoryFilter{
		Page:     offset/limit + 1,
		PageSize: limit,
		Category: strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("category"))),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []*store.LifeRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetRecord(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Phases []string `json:"phases"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	result, err := s.ingest.Regenerate(r.Context(), chi.URLParam(r, "id"), body.Phases)
	if err != nil {
		writeIngestError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	err := s.ingest.Delete(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IsPublic bool `json:"is_public"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s.applyToggle(w, r, func() error {
		return s.store.SetVisibility(r.Context(), chi.URLParam(r, "id"), body.IsPublic)
	})
}

func (s *Server) handleBookmark(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IsBookmarked bool `json:"is_bookmarked"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s.applyToggle(w, r, func() error {
		return s.store.SetBookmarked(r.Context(), chi.URLParam(r, "id"), body.IsBookmarked)
	})
}

func (s *Server) applyToggle(w http.ResponseWriter, r *http.Request, apply func() error) {
	err := apply()
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	relPath := chi.URLParam(r, "*")
	if !servableExtensions[strings.ToLower(filepath.Ext(relPath))] {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	full, err := s.images.Resolve(relPath)
	if err != nil {
		if errors.Is(err, imagestore.ErrUnsafePath) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	http.ServeFile(w, r, full)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
