package chi

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kailas-cloud/ragbot/internal/domain"
	"github.com/kailas-cloud/ragbot/internal/usecase/ingest"
)

// multipartOverhead is the slack allowed above the file limit for multipart framing.
const multipartOverhead = 1 << 20

type kbFilesResponse struct {
	Files []domain.KBFile `json:"files"`
}

// ListKBFiles handles GET /kb/files.
func (s *Server) ListKBFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.kb.List(r.Context())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if files == nil {
		files = []domain.KBFile{}
	}
	writeJSON(w, http.StatusOK, kbFilesResponse{Files: files})
}

// UploadKBFile handles POST /kb/files with a multipart "file" field.
func (s *Server) UploadKBFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+multipartOverhead)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.handleDomainError(w, r, fmt.Errorf("%w: upload exceeds %d bytes", domain.ErrInvalidInput, s.maxUpload))
			return
		}
		s.handleDomainError(w, r, fmt.Errorf("%w: multipart field \"file\" is required", domain.ErrInvalidInput))
		return
	}
	defer file.Close()

	u := userFrom(r.Context())
	saved, err := s.kb.Save(r.Context(), header.Filename, file, userIDPtr(u))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	s.accounts.Audit(r.Context(), u, domain.AuditKBUpload, saved.Name, fmt.Sprintf("bytes=%d", saved.SizeBytes))
	writeJSON(w, http.StatusCreated, saved)
}

// DeleteKBFile handles DELETE /kb/files/{name}, subject to the delete policy.
func (s *Server) DeleteKBFile(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil {
		s.handleDomainError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidPath, err))
		return
	}

	ctx := r.Context()
	u := userFrom(ctx)
	f, err := s.kb.Get(ctx, name)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	policy, err := s.accounts.KBDeletePolicy(ctx)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if !domain.CanDeleteKBFile(policy, u, f) {
		s.handleDomainError(w, r, fmt.Errorf("%w: delete policy is %s", domain.ErrForbidden, policy))
		return
	}

	if err := s.kb.Delete(ctx, name); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	s.accounts.Audit(ctx, u, domain.AuditKBDelete, name, "")
	w.WriteHeader(http.StatusNoContent)
}

type reindexRequest struct {
	Rebuild *bool `json:"rebuild"`
}

type reindexResponse struct {
	Collection string  `json:"collection"`
	Files      int     `json:"files"`
	Chunks     int     `json:"chunks"`
	Rebuilt    bool    `json:"rebuilt"`
	DurationS  float64 `json:"duration_seconds"`
}

// Reindex handles POST /kb/reindex, subject to the reindex policy. Rebuild defaults to true.
func (s *Server) Reindex(w http.ResponseWriter, r *http.Request) {
	var req reindexRequest
	if err := decodeJSON(r, &req); err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	ctx := r.Context()
	u := userFrom(ctx)
	policy, err := s.accounts.KBReindexPolicy(ctx)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if !domain.CanReindex(policy, u) {
		s.handleDomainError(w, r, fmt.Errorf("%w: reindex policy is %s", domain.ErrForbidden, policy))
		return
	}

	rebuild := req.Rebuild == nil || *req.Rebuild
	report, err := s.indexer.Run(ctx, ingest.Options{Rebuild: rebuild})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	s.accounts.Audit(ctx, u, domain.AuditKBReindex, report.Collection,
		fmt.Sprintf("files=%d chunks=%d rebuild=%t", report.Files, report.Chunks, rebuild))
	writeJSON(w, http.StatusOK, reindexResponse{
		Collection: report.Collection,
		Files:      report.Files,
		Chunks:     report.Chunks,
		Rebuilt:    report.Rebuilt,
		DurationS:  report.Duration.Round(time.Millisecond).Seconds(),
	})
}

func userIDPtr(u domain.User) *int64 {
	if u.ID == 0 {
		return nil
	}
	id := u.ID
	return &id
}
