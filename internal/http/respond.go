package httpapp

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cesargomez89/inkqueue/internal/domain"
	"github.com/cesargomez89/inkqueue/internal/http/dto"
)

func (h *Handler) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.Logger.Error("Failed to write response", "error", err)
	}
}

// respondError maps engine errors onto status codes. Anything unrecognised is
// logged and reported as a 500 without its detail.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.respondJSON(w, http.StatusNotFound, dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrConflict):
		h.respondJSON(w, http.StatusConflict, dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrInvalidInput):
		h.respondJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
	default:
		h.Logger.Error("Request failed", "error", err)
		h.respondJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "internal server error"})
	}
}

func (h *Handler) respondInvalid(w http.ResponseWriter, errs []dto.ValidationError) {
	h.respondJSON(w, http.StatusBadRequest, dto.ErrorResponse{
		Error:  dto.ToResponse(errs),
		Fields: dto.ToMap(errs),
	})
}

// decode reads a JSON body into v, answering 400 itself on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		h.respondJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}
