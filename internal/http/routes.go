package httpapp

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cesargomez89/inkqueue/internal/domain"
	"github.com/cesargomez89/inkqueue/internal/http/dto"
)

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"subscribers": h.Hub.Subscribers(),
	})
}

func (h *Handler) ListMaintenanceJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.Actions.Jobs(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, jobs)
}

func (h *Handler) RunMaintenanceJob(w http.ResponseWriter, r *http.Request) {
	var req dto.RunJobRequest
	if !h.decode(w, r, &req) {
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		h.respondInvalid(w, errs)
		return
	}

	rec, err := h.Actions.Apply(r.Context(), domain.KindMaintenanceJob, req.JobID, domain.ActionStart)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusAccepted, rec)
}

func (h *Handler) ListDownloads(w http.ResponseWriter, r *http.Request) {
	recs, err := h.Actions.List(r.Context(), domain.KindDownloadItem, domain.Filter{})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, recs)
}

func (h *Handler) EnqueueDownloads(w http.ResponseWriter, r *http.Request) {
	var req dto.EnqueueRequest
	if !h.decode(w, r, &req) {
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		h.respondInvalid(w, errs)
		return
	}
	if _, ok := h.Providers.Get(req.ProviderID); !ok {
		h.respondInvalid(w, []dto.ValidationError{{Field: "provider_id", Message: "unknown provider"}})
		return
	}

	items, err := h.Actions.Enqueue(r.Context(), req.SeriesTitle, req.ProviderID, req.ChapterRefs())
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusAccepted, dto.EnqueueResponse{
		Message: fmt.Sprintf("%d chapters have been added to the download queue.", len(items)),
		Items:   items,
	})
}

func (h *Handler) DownloadAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req dto.ActionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if errs := req.Validate(false); len(errs) > 0 {
		h.respondInvalid(w, errs)
		return
	}

	action := domain.Action(req.Action)
	rec, err := h.Actions.Apply(r.Context(), domain.KindDownloadItem, id, action)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if action == domain.ActionDelete {
		h.respondJSON(w, http.StatusOK, dto.DeletedResponse{ID: id, Deleted: true})
		return
	}
	h.respondJSON(w, http.StatusOK, rec)
}

func (h *Handler) BulkDownloadAction(w http.ResponseWriter, r *http.Request) {
	var req dto.ActionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if errs := req.Validate(true); len(errs) > 0 {
		h.respondInvalid(w, errs)
		return
	}

	res, err := h.Actions.ApplyBulk(r.Context(), domain.Action(req.Action))
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, dto.BulkActionResponse{
		Status:   "success",
		Action:   string(res.Action),
		Affected: res.Affected,
	})
}

// ListJobs returns records across kinds. ?active=true limits the list to
// records that are not finished, ?kind= to one kind, ?limit= caps its length.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filter domain.Filter
	if raw := q.Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			h.respondInvalid(w, []dto.ValidationError{{Field: "active", Message: "must be true or false"}})
			return
		}
		filter.Active = active
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			h.respondInvalid(w, []dto.ValidationError{{Field: "limit", Message: "must be a non-negative number"}})
			return
		}
		filter.Limit = limit
	}

	var (
		recs []*domain.JobRecord
		err  error
	)
	if raw := q.Get("kind"); raw != "" {
		kind := domain.Kind(raw)
		if !kind.Valid() {
			h.respondInvalid(w, []dto.ValidationError{{Field: "kind", Message: "must be download_item or maintenance_job"}})
			return
		}
		recs, err = h.Actions.List(r.Context(), kind, filter)
	} else {
		recs, err = h.Actions.ListAll(r.Context(), filter)
	}
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, recs)
}

func (h *Handler) ListProviders(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.Providers.All())
}
