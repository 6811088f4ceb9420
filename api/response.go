package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	probe "github.com/TimeWtr/probe_scheduler"
	"github.com/TimeWtr/probe_scheduler/domain"
)

// Response 所有接口统一的返回结构
type Response struct {
	Status    string    `json:"status"`
	RequestID string    `json:"requestId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Error     *APIError `json:"error,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondOK(w http.ResponseWriter, r *http.Request, data any) {
	respondJSON(w, r, http.StatusOK, data, nil)
}

func respondCreated(w http.ResponseWriter, r *http.Request, data any) {
	respondJSON(w, r, http.StatusCreated, data, nil)
}

func respondError(w http.ResponseWriter, r *http.Request, status int, code string, err error) {
	respondJSON(w, r, status, nil, &APIError{Code: code, Message: err.Error()})
}

// respondErr 按错误类型选择状态码
func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, probe.ErrDuplicateJobKey):
		respondError(w, r, http.StatusConflict, "duplicate_job", err)
	case errors.Is(err, probe.ErrJobNotFound):
		respondError(w, r, http.StatusNotFound, "not_found", err)
	case errors.Is(err, probe.ErrInvalidJob),
		errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrUnsupportedRequest):
		respondError(w, r, http.StatusBadRequest, "invalid_request", err)
	case errors.Is(err, probe.ErrLockAcquisition):
		respondError(w, r, http.StatusServiceUnavailable, "busy", err)
	default:
		respondError(w, r, http.StatusInternalServerError, "internal", err)
	}
}

func respondJSON(w http.ResponseWriter, r *http.Request, status int, data any, apiErr *APIError) {
	resp := Response{
		Status:    "ok",
		RequestID: RequestIDFromContext(r.Context()),
		Timestamp: time.Now().UTC(),
		Data:      data,
		Error:     apiErr,
	}
	if apiErr != nil {
		resp.Status = "error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
