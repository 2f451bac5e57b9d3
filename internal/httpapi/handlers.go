package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MimeLyc/findoc-analyzer/internal/analysis"
	"github.com/MimeLyc/findoc-analyzer/internal/apperr"
	"github.com/MimeLyc/findoc-analyzer/internal/export"
	"github.com/MimeLyc/findoc-analyzer/internal/intake"
	"github.com/MimeLyc/findoc-analyzer/internal/jobs"
	"github.com/MimeLyc/findoc-analyzer/pkg/icron"
	"github.com/MimeLyc/findoc-analyzer/pkg/log"
	"github.com/go-chi/chi/v5"
)

const (
	DefaultQuery = "Analyze this financial document for investment insights"

	msgStarted    = "Analysis started. Use the analysis_id to check the status."
	msgInProgress = "Analysis is still in progress."
	msgNotFound   = "Analysis not found"

	// StatusProcessing is reported for queued and running jobs.
	StatusProcessing = "processing"

	// multipartOverhead is allowed on top of the file limit for the form itself.
	multipartOverhead = 1 << 20
)

type healthResponse struct {
	Status             string     `json:"status"`
	Message            string     `json:"message"`
	Version            string     `json:"version"`
	NextRetentionSweep *time.Time `json:"next_retention_sweep,omitempty"`
}

type analysisResponse struct {
	Status     string          `json:"status"`
	AnalysisID string          `json:"analysis_id"`
	Analysis   analysis.Report `json:"analysis,omitempty"`
	Error      string          `json:"error,omitempty"`
	Message    string          `json:"message,omitempty"`
}

type errorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "success",
		Message: "Financial Document Analyzer API is running",
		Version: Version,
	}
	if s.retentionCron != "" {
		if info, err := icron.GetTriggerInfo(s.retentionCron, s.now()); err == nil {
			next := info.Next.UTC()
			resp.NextRetentionSweep = &next
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	maxBytes := s.intake.MaxBytes()
	if r.ContentLength > maxBytes+multipartOverhead {
		writeError(w, http.StatusBadRequest, intake.MsgTooLarge)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusBadRequest, intake.MsgTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid multipart form: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer file.Close()

	// One byte past the limit is enough for intake to reject the upload.
	content, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "An error occurred: "+err.Error())
		return
	}

	query := DefaultQuery
	if values, ok := r.MultipartForm.Value["query"]; ok && len(values) > 0 {
		query = values[0]
	}

	id, err := s.intake.Submit(r.Context(), content, header.Header.Get("Content-Type"), query)
	if err != nil {
		if apperr.IsValidation(err) {
			writeError(w, http.StatusBadRequest, apperr.MessageOf(err))
			return
		}
		log.Error("Submit failed [%s]: %v", GetCorrelationID(r.Context()), err)
		writeError(w, http.StatusInternalServerError, "An error occurred: "+apperr.MessageOf(err))
		return
	}

	writeJSON(w, http.StatusOK, analysisResponse{
		Status:     StatusProcessing,
		AnalysisID: id,
		Message:    msgStarted,
	})
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}

	resp := analysisResponse{AnalysisID: job.ID}
	switch job.Status {
	case jobs.StateCompleted:
		resp.Status = string(jobs.StateCompleted)
		resp.Analysis = job.Result
	case jobs.StateFailed:
		resp.Status = string(jobs.StateFailed)
		resp.Error = job.Error
	default:
		resp.Status = StatusProcessing
		resp.Message = msgInProgress
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}

	raw, err := export.WorkbookXLSX(job)
	if errors.Is(err, export.ErrNotCompleted) {
		writeError(w, http.StatusConflict, fmt.Sprintf("Analysis is %s, export needs a completed analysis", job.Status))
		return
	}
	if err != nil {
		log.Error("Export of %s failed: %v", job.ID, err)
		writeError(w, http.StatusInternalServerError, "An error occurred: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="analysis-%s.xlsx"`, job.ID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

// loadJob reads the job named in the path and writes 404/500 itself on failure.
func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (*jobs.Job, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	job, err := s.jobs.Get(r.Context(), id)
	if errors.Is(err, jobs.ErrNotFound) {
		writeError(w, http.StatusNotFound, msgNotFound)
		return nil, false
	}
	if err != nil {
		log.Error("Failed to load analysis %s [%s]: %v", id, GetCorrelationID(r.Context()), err)
		writeError(w, http.StatusInternalServerError, "An error occurred: failed to load analysis")
		return nil, false
	}
	return job, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Status: "error",
		Error:  msg,
	})
}
