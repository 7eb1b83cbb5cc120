package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/archivext/internal/keyword"
	"github.com/hyperjump/archivext/internal/models"
	"github.com/hyperjump/archivext/internal/recordid"
	"github.com/hyperjump/archivext/internal/session"
	"github.com/hyperjump/archivext/internal/storage"
	"github.com/hyperjump/archivext/internal/store"
	"github.com/hyperjump/archivext/internal/updater"
)

const maxBodyBytes = 16 << 20

// recordJSON is a record as served by the API: its session entry plus its fingerprint.
type recordJSON struct {
	ID string `json:"id"`
	models.SessionEntry
}

func toJSON(pos int, r *models.Record) recordJSON {
	respo := r.Responsible
	if respo == nil {
		respo = []string{}
	}
	return recordJSON{
		ID: recordid.ID(r),
		SessionEntry: models.SessionEntry{
			Num:         pos,
			Date:        r.Date,
			Author:      r.Author,
			Code:        r.Code,
			Flag:        r.Flag,
			Description: r.Description,
			Status:      r.Status,
			Responsible: respo,
		},
	}
}

type viewResponse struct {
	Set     string       `json:"set"`
	Query   string       `json:"query"`
	Label   string       `json:"label"`
	Matches int          `json:"matches"`
	Total   int          `json:"total"`
	Counted bool         `json:"counted"`
	Records []recordJSON `json:"records"`
}

func newViewResponse(set session.Set, v store.View) viewResponse {
	out := viewResponse{
		Set:     set.String(),
		Query:   v.Query,
		Label:   v.Label(),
		Matches: v.Matches,
		Total:   v.Total,
		Counted: v.Counted,
		Records: make([]recordJSON, len(v.Records)),
	}
	for i, r := range v.Records {
		out.Records[i] = toJSON(v.Positions[i], r)
	}
	return out
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	set, ok := session.ParseSet(q.Get("set"))
	if !ok {
		s.respondError(w, http.StatusBadRequest, "unknown set")
		return
	}
	if name := q.Get("sort"); name != "" {
		col, ok := s.session.ParseColumn(name)
		if !ok {
			s.respondError(w, http.StatusBadRequest, "unknown sort column")
			return
		}
		desc, _ := strconv.ParseBool(q.Get("desc"))
		if _, err := s.session.Sort(set, col, desc); err != nil {
			s.respondErr(w, err)
			return
		}
	}

	var (
		v   store.View
		err error
	)
	if q.Has("q") {
		v, err = s.session.FilterNow(set, q.Get("q"))
	} else {
		v, err = s.session.View(set)
	}
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.logger.Debug("list records", zap.Stringer("set", set), zap.String("query", v.Query), zap.Int("matches", v.Matches))
	s.respondJSON(w, http.StatusOK, newViewResponse(set, v))
}

func (s *Server) handleAddRecords(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "text/plain" {
		res := s.session.AddReports(string(body))
		s.persist(r.Context())
		s.respondJSON(w, http.StatusCreated, map[string]int{
			"added":      len(res.Records),
			"skipped":    res.Skipped,
			"duplicates": res.Duplicates,
			"total":      s.session.Len(session.Working),
		})
		return
	}

	var records []*models.Record
	if err := json.Unmarshal(body, &records); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	for i, rec := range records {
		if rec == nil {
			s.respondError(w, http.StatusBadRequest, "null record")
			return
		}
		if _, err := models.ParseDate(rec.Date); err != nil {
			s.respondErr(w, models.NewValidationError("record", "item %d: %v", i+1, err))
			return
		}
		if rec.Status == "" {
			rec.Status = models.DefaultStatus
		}
		rec.Normalize()
	}
	s.session.Append(records...)
	s.persist(r.Context())
	s.respondJSON(w, http.StatusCreated, map[string]int{
		"added": len(records),
		"total": s.session.Len(session.Working),
	})
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, set, err := s.session.Find(chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"set":    set.String(),
		"record": toJSON(0, rec),
	})
}

type editRequest struct {
	Editor string  `json:"editor"`
	Status *string `json:"status"`
}

func (s *Server) handleEditRecord(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Status == nil {
		s.respondError(w, http.StatusBadRequest, "status is required")
		return
	}
	id := chi.URLParam(r, "id")
	s.logger.Debug("edit record request", zap.String("id", id), zap.String("editor", req.Editor))
	rec, err := s.session.Edit(id, req.Editor, *req.Status)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.persist(r.Context())
	s.respondJSON(w, http.StatusOK, toJSON(0, rec))
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete record request", zap.String("id", id))
	if s.session.Delete(id) == 0 {
		s.respondError(w, http.StatusNotFound, "record not found")
		return
	}
	s.persist(r.Context())
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleArchiveRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, set, err := s.session.Find(id); err != nil || set != session.Working {
		s.respondError(w, http.StatusNotFound, "record not in session")
		return
	}
	s.archive(w, r, []string{id})
}

type archiveRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) handleArchiveSession(w http.ResponseWriter, r *http.Request) {
	var req archiveRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	s.archive(w, r, req.IDs)
}

func (s *Server) archive(w http.ResponseWriter, r *http.Request, ids []string) {
	n, err := s.session.Archive(r.Context(), ids...)
	if n > 0 {
		s.persist(r.Context())
	}
	resp := map[string]interface{}{"archived": n}
	if err != nil {
		s.logger.Warn("archiving stopped", zap.Int("archived", n), zap.Error(err))
		resp["error"] = err.Error()
		s.respondJSON(w, statusFor(err), resp)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFuzzy(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	var opts *keyword.SearchOptions
	if f := q.Get("fuzziness"); f != "" {
		n, err := strconv.Atoi(f)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid fuzziness")
			return
		}
		opts = &keyword.SearchOptions{Fuzziness: n, Field: q.Get("field")}
	}
	hits, err := s.session.Fuzzy(r.Context(), q.Get("q"), limit, opts)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	type hitJSON struct {
		Set    string     `json:"set"`
		Score  float64    `json:"score"`
		Record recordJSON `json:"record"`
	}
	out := make([]hitJSON, len(hits))
	for i, h := range hits {
		out[i] = hitJSON{Set: h.Set.String(), Score: h.Score, Record: toJSON(0, h.Record)}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"query": q.Get("q"), "hits": out})
}

func (s *Server) handleExportSession(w http.ResponseWriter, r *http.Request) {
	data, err := s.session.Export()
	if err != nil {
		s.respondErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="session.sig"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleImportSession(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	n, err := s.session.Import(data)
	if err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			s.respondErr(w, err)
			return
		}
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.persist(r.Context())
	s.respondJSON(w, http.StatusOK, map[string]int{"imported": n})
}

func (s *Server) handleArchiveHash(w http.ResponseWriter, r *http.Request) {
	hash, err := s.session.Hash()
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{
		"algorithm": s.session.HashAlgorithm(),
		"hash":      hash,
	})
}

func (s *Server) handleReloadArchives(w http.ResponseWriter, r *http.Request) {
	stats, err := s.session.Load(r.Context())
	if err != nil {
		s.logger.Error("reload failed", zap.Error(err))
		s.respondErr(w, err)
		return
	}
	problems := make([]string, len(stats.Problems))
	for i, p := range stats.Problems {
		problems[i] = p.Error()
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"files_read":     stats.FilesRead,
		"files_skipped":  stats.FilesSkipped,
		"lines_read":     stats.LinesRead,
		"lines_rejected": stats.LinesRejected,
		"records":        s.session.Len(session.Archived),
		"problems":       problems,
	})
}

func (s *Server) handleUpdateArchives(w http.ResponseWriter, r *http.Request) {
	if s.updater == nil {
		s.respondError(w, http.StatusNotImplemented, "update not configured")
		return
	}
	res := s.updater.Sync(r.Context())
	if res.Status == updater.Updated {
		if _, err := s.session.Load(r.Context()); err != nil {
			s.logger.Error("reload after update failed", zap.Error(err))
		}
	}
	resp := map[string]interface{}{
		"status":      res.Status.String(),
		"downloaded":  res.Downloaded,
		"total":       res.Total,
		"local_hash":  res.LocalHash,
		"remote_hash": res.RemoteHash,
	}
	if res.Err != nil {
		resp["error"] = res.Err.Error()
		s.respondJSON(w, http.StatusBadGateway, resp)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	arch := s.session.Archives()
	files, _ := arch.Files()
	resp := map[string]interface{}{
		"session_records": s.session.Len(session.Working),
		"archive_records": s.session.Len(session.Archived),
		"archive_files":   len(files),
		"archive_stats":   arch.Stats(),
	}
	if s.storage != nil {
		stored, err := s.storage.CountRecords(ctx)
		if err != nil {
			s.logger.Error("status: count records failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		archived, err := s.storage.CountArchived(ctx)
		if err != nil {
			s.logger.Error("status: count archived failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp["stored_records"] = stored
		resp["archived_logged"] = archived
	}
	if s.updater != nil {
		resp["update_running"] = s.updater.Running()
	}

	configInfo := map[string]interface{}{
		"archives_directory": arch.Dir,
		"archives_pattern":   arch.Pattern,
		"hash_algorithm":     s.session.HashAlgorithm(),
		"tags":               s.session.Parser().Labels(),
	}
	if s.config != nil {
		configInfo["database_path"] = s.config.Storage.DatabasePath
		configInfo["debounce_ms"] = s.config.Search.Debounce().Milliseconds()
		configInfo["watch_enabled"] = s.config.Watch.Enabled
		configInfo["update_url"] = s.config.Update.BaseURL
		if diskBytes, err := storage.DiskUsageBytes(storage.DatabaseFiles(s.config.Storage.DatabasePath)...); err == nil {
			resp["disk_usage_bytes"] = diskBytes
		}
	}
	resp["config"] = configInfo
	s.respondJSON(w, http.StatusOK, resp)
}

// persist saves the working session when storage is configured.
func (s *Server) persist(ctx context.Context) {
	if s.storage == nil {
		return
	}
	if err := s.session.Persist(ctx); err != nil && !errors.Is(err, session.ErrNoStorage) {
		s.logger.Warn("failed to persist session", zap.Error(err))
	}
}

func statusFor(err error) int {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrUnprocessed):
		return http.StatusConflict
	case errors.Is(err, session.ErrNoIndex), errors.Is(err, session.ErrNoStorage):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondErr(w http.ResponseWriter, err error) {
	s.respondError(w, statusFor(err), err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
