package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/taxcodex/t1fill/internal/extract"
	"github.com/taxcodex/t1fill/internal/filler"
	"github.com/taxcodex/t1fill/internal/mapping"
	"github.com/taxcodex/t1fill/internal/pipeline"
	"github.com/taxcodex/t1fill/internal/resolver"
	"github.com/taxcodex/t1fill/internal/slip"
	"github.com/taxcodex/t1fill/internal/template"
)

// readUpload pulls the uploaded form document out of a multipart request.
// A non-nil error has already been written to the response.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	// Limit total request size.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024) // extra 1MB for form overhead

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), "", http.StatusBadRequest)
		return nil, false
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required: "+err.Error(), "", http.StatusBadRequest)
		return nil, false
	}
	defer file.Close()

	if ext := strings.ToLower(filepath.Ext(header.Filename)); ext != ".pdf" {
		jsonError(w, fmt.Sprintf("unsupported file type: %s", ext), "", http.StatusBadRequest)
		return nil, false
	}

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		jsonError(w, "failed to read file", "", http.StatusInternalServerError)
		return nil, false
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		jsonError(w, fmt.Sprintf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes), "", http.StatusRequestEntityTooLarge)
		return nil, false
	}
	return data, true
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	slips, err := s.orch.ExtractSlips(r.Context(), doc)
	if err != nil {
		writeStageError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"slips": slips,
		"count": len(slips),
	})
}

func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Slips []slip.Slip `json:"slips"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), "", http.StatusBadRequest)
		return
	}

	res, err := s.orch.MapAndResolve(r.Context(), req.Slips)
	if err != nil {
		writeStageError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"identity":        res.Identity,
		"byLine":          res.ByLine,
		"byField":         res.ByField,
		"templateVersion": res.TemplateVersion,
	})
}

func (s *Server) handleFill(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ByField map[string]any `json:"byField"`
	}
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), "", http.StatusBadRequest)
		return
	}

	fields := make(resolver.FieldValues, len(req.ByField))
	for id, v := range req.ByField {
		switch t := v.(type) {
		case string:
			fields[id] = t
		case json.Number:
			fields[id] = t.String()
		default:
			jsonError(w, fmt.Sprintf("field %s: value must be a string or number", id), "", http.StatusBadRequest)
			return
		}
	}

	result, err := s.orch.FillFields(r.Context(), fields)
	if err != nil {
		writeStageError(w, err)
		return
	}
	s.writeFillResult(w, result)
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	result, run, err := s.orch.Process(r.Context(), doc)
	if run != nil {
		w.Header().Set("X-Run-ID", run.ID)
	}
	if err != nil {
		writeStageError(w, err)
		return
	}
	s.writeFillResult(w, result)
}

func (s *Server) handleTemplateFields(w http.ResponseWriter, r *http.Request) {
	snap, err := s.orch.CurrentTemplate(r.Context())
	if err != nil {
		writeStageError(w, err)
		return
	}

	fields := make([]string, 0, len(snap.Fields))
	for name := range snap.Fields {
		fields = append(fields, name)
	}
	sort.Strings(fields)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"version": snap.Version,
		"catalog": snap.Catalog,
		"fields":  fields,
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	run := s.orch.GetRun(runID)
	if run == nil {
		jsonError(w, "run not found", "", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(run.Snapshot())
}

// writeFillResult sends a filled return to the caller: a URL when the
// output was stored, otherwise the document itself.
func (s *Server) writeFillResult(w http.ResponseWriter, result *filler.Result) {
	if result.URL != "" {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"url": result.URL})
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="t1-filled.pdf"`)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(result.PDF)))
	w.Write(result.PDF)
}

// writeStageError maps a pipeline error onto an HTTP status and the
// {error, stage} body.
func writeStageError(w http.ResponseWriter, err error) {
	stage := ""
	var se *pipeline.StageError
	if errors.As(err, &se) {
		stage = string(se.Stage)
	}
	jsonError(w, err.Error(), stage, httpStatus(err))
}

// httpStatus classifies a pipeline error. Bad uploads are the caller's
// fault, inconsistent slip data is unprocessable, a missing template is a
// dependency outage, and anything in the fill stage is ours.
func httpStatus(err error) int {
	var (
		docErr      *extract.DocumentError
		unknownCode *mapping.UnknownCodeError
		idConflict  *mapping.IdentityConflictError
		unresolved  *resolver.UnresolvedFieldError
		unavailable *template.UnavailableError
	)
	switch {
	case errors.As(err, &docErr):
		return http.StatusBadRequest
	case errors.As(err, &unknownCode),
		errors.As(err, &idConflict),
		errors.As(err, &unresolved),
		errors.Is(err, pipeline.ErrNoSlips),
		errors.Is(err, pipeline.ErrEmptyMapping),
		errors.Is(err, pipeline.ErrEmptyResolution),
		errors.Is(err, pipeline.ErrEmptyFillRequest):
		return http.StatusUnprocessableEntity
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func jsonError(w http.ResponseWriter, msg, stage string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	body := map[string]string{"error": msg}
	if stage != "" {
		body["stage"] = stage
	}
	json.NewEncoder(w).Encode(body)
}
