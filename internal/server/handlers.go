package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/spherical/drawing-extractor/internal/domain"
	"github.com/spherical/drawing-extractor/internal/export"
	"github.com/spherical/drawing-extractor/internal/ingest"
	"github.com/spherical/drawing-extractor/internal/observability"
	"github.com/spherical/drawing-extractor/internal/pipeline"
	"github.com/spherical/drawing-extractor/internal/record"
)

// Handler serves the session API.
type Handler struct {
	logger   *observability.Logger
	session  *pipeline.Session
	maxBytes int64
}

// UploadResponse is returned by POST /uploads.
type UploadResponse struct {
	Units        []record.Row         `json:"units"`
	IngestErrors []IngestErrorDTO     `json:"ingest_errors,omitempty"`
	Summary      *domain.BatchSummary `json:"summary,omitempty"`
	Async        bool                 `json:"async,omitempty"`
}

// IngestErrorDTO reports a file that produced no units.
type IngestErrorDTO struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

// UnitDTO is the detail view of one unit.
type UnitDTO struct {
	record.Row
	Attempts     int               `json:"attempts"`
	Fields       []export.FieldRow `json:"fields,omitempty"`
	ManualFields []string          `json:"manual_fields,omitempty"`
}

// CorrectionRequestDTO accepts either a single correction or a list.
type CorrectionRequestDTO struct {
	Field       string              `json:"field,omitempty"`
	Value       string              `json:"value,omitempty"`
	Reviewer    string              `json:"reviewer,omitempty"`
	Corrections []domain.Correction `json:"corrections,omitempty"`
}

func (c CorrectionRequestDTO) list() []domain.Correction {
	if len(c.Corrections) > 0 {
		return c.Corrections
	}
	if c.Field == "" {
		return nil
	}
	return []domain.Correction{{Field: c.Field, Value: c.Value, Reviewer: c.Reviewer}}
}

// Upload handles POST /api/v1/uploads. Files are read from the multipart
// field "files". With ?async=true processing continues after the response.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart upload", err.Error())
		return
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "no files uploaded", "use multipart field \"files\"")
		return
	}

	var (
		uploads []ingest.Upload
		resp    UploadResponse
	)
	for _, fh := range headers {
		data, err := readPart(fh)
		if err != nil {
			resp.IngestErrors = append(resp.IngestErrors, IngestErrorDTO{File: fh.Filename, Error: err.Error()})
			continue
		}
		kind, err := ingest.DetectKind(fh.Filename, data)
		if err != nil {
			resp.IngestErrors = append(resp.IngestErrors, IngestErrorDTO{File: fh.Filename, Error: err.Error()})
			continue
		}
		uploads = append(uploads, ingest.Upload{Name: fh.Filename, Kind: kind, Data: data})
	}

	units, ingestErrs := h.session.Ingest(r.Context(), uploads)
	for _, e := range ingestErrs {
		resp.IngestErrors = append(resp.IngestErrors, IngestErrorDTO{File: e.File, Error: e.Err.Error()})
	}

	h.logger.Info().
		Int("files", len(headers)).
		Int("units", len(units)).
		Int("rejected", len(resp.IngestErrors)).
		Msg("Upload ingested")

	if len(units) == 0 {
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		// Register now so the units are visible before the worker starts.
		for i := range units {
			resp.Units = append(resp.Units, record.RowFor(h.session.Table().Register(&units[i])))
		}
		go h.session.Process(context.WithoutCancel(r.Context()), units, nil)
		resp.Async = true
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	summary := h.session.Process(r.Context(), units, nil)
	resp.Summary = &summary
	for _, u := range units {
		if rec, ok := h.session.Table().Get(u.ID); ok {
			resp.Units = append(resp.Units, record.RowFor(rec))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// ListUnits handles GET /api/v1/units.
func (h *Handler) ListUnits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"units": h.session.Table().Rows()})
}

// GetUnit handles GET /api/v1/units/{id}.
func (h *Handler) GetUnit(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.unit(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, unitDTO(rec))
}

// Correct handles POST /api/v1/units/{id}/corrections.
func (h *Handler) Correct(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.unit(w, r)
	if !ok {
		return
	}

	var req CorrectionRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	cs := req.list()
	if len(cs) == 0 {
		writeError(w, http.StatusBadRequest, "no corrections supplied", "")
		return
	}

	updated, err := h.session.Correct(rec.UnitID, cs)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, unitDTO(updated))
}

// Retry handles POST /api/v1/units/{id}/retry.
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.unit(w, r)
	if !ok {
		return
	}
	if rec.Status != domain.StatusFailed {
		writeError(w, http.StatusConflict, "only failed units can be retried", string(rec.Status))
		return
	}

	h.session.Retry(r.Context(), []int{rec.UnitID}, nil)
	updated, _ := h.session.Table().Get(rec.UnitID)
	writeJSON(w, http.StatusOK, unitDTO(updated))
}

// ExportUnit handles GET /api/v1/units/{id}/export?format=csv|xlsx.
func (h *Handler) ExportUnit(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.unit(w, r)
	if !ok {
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid format", err.Error())
		return
	}

	var buf bytes.Buffer
	if err := export.Unit(&buf, rec, format); err != nil {
		writeDomainError(w, err)
		return
	}
	name := fmt.Sprintf("unit-%d-%s.%s", rec.UnitID, strings.ToLower(string(rec.ComponentType)), format)
	writeFile(w, format, name, buf.Bytes())
}

// ExportTable handles GET /api/v1/export?format=csv|xlsx.
func (h *Handler) ExportTable(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid format", err.Error())
		return
	}
	var buf bytes.Buffer
	if err := export.Table(&buf, h.session.Table().Rows(), format); err != nil {
		writeDomainError(w, err)
		return
	}
	writeFile(w, format, "processing-history."+string(format), buf.Bytes())
}

// Summary handles GET /api/v1/summary.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Summary())
}

func (h *Handler) unit(w http.ResponseWriter, r *http.Request) (domain.ProcessingRecord, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid unit id", err.Error())
		return domain.ProcessingRecord{}, false
	}
	rec, ok := h.session.Table().Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unit not found", "")
		return domain.ProcessingRecord{}, false
	}
	return rec, true
}

func unitDTO(rec domain.ProcessingRecord) UnitDTO {
	return UnitDTO{
		Row:          record.RowFor(rec),
		Attempts:     rec.Attempts,
		Fields:       export.FieldRows(rec, nil),
		ManualFields: rec.ManualFieldNames(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, detail string) {
	resp := map[string]string{"error": message}
	if detail != "" {
		resp["detail"] = detail
	}
	writeJSON(w, status, resp)
}

func writeDomainError(w http.ResponseWriter, err error) {
	var de *domain.DomainError
	status := http.StatusInternalServerError
	if errors.As(err, &de) {
		switch {
		case domain.IsType(err, domain.ErrorTypeValidation):
			status = http.StatusBadRequest
		case domain.IsType(err, domain.ErrorTypeState):
			status = http.StatusConflict
		}
	}
	writeError(w, status, "request failed", err.Error())
}

func writeFile(w http.ResponseWriter, format export.Format, name string, data []byte) {
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
