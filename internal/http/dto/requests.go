package dto

import (
	"fmt"

	"github.com/cesargomez89/inkqueue/internal/app"
	"github.com/cesargomez89/inkqueue/internal/domain"
)

type ChapterRequest struct {
	Identifier string `json:"identifier"`
	Title      string `json:"title"`
}

type EnqueueRequest struct {
	SeriesTitle string           `json:"series_title"`
	ProviderID  string           `json:"provider_id"`
	Chapters    []ChapterRequest `json:"chapters"`
}

func (r *EnqueueRequest) Validate() []ValidationError {
	var errs []ValidationError
	errs = append(errs, required("series_title", r.SeriesTitle)...)
	errs = append(errs, required("provider_id", r.ProviderID)...)
	if len(r.Chapters) == 0 {
		errs = append(errs, ValidationError{Field: "chapters", Message: "at least one chapter is required"})
	}
	for i, c := range r.Chapters {
		errs = append(errs, required(fmt.Sprintf("chapters[%d].identifier", i), c.Identifier)...)
	}
	return errs
}

func (r *EnqueueRequest) ChapterRefs() []app.ChapterRef {
	refs := make([]app.ChapterRef, 0, len(r.Chapters))
	for _, c := range r.Chapters {
		refs = append(refs, app.ChapterRef{Identifier: c.Identifier, Title: c.Title})
	}
	return refs
}

type ActionRequest struct {
	Action string `json:"action"`
}

// Validate checks the action against the scope it is sent to: bulk actions
// for the whole queue, the rest for a single record.
func (r *ActionRequest) Validate(bulk bool) []ValidationError {
	if errs := required("action", r.Action); errs != nil {
		return errs
	}

	a := domain.Action(r.Action)
	if bulk {
		if !a.Bulk() {
			return []ValidationError{{Field: "action", Message: "must be one of: pause_all, resume_all, empty_queue, retry_failed, delete_completed"}}
		}
		return nil
	}
	switch a {
	case domain.ActionPause, domain.ActionResume, domain.ActionRetry, domain.ActionDelete, domain.ActionStart:
		return nil
	}
	return []ValidationError{{Field: "action", Message: "must be one of: start, pause, resume, retry, delete"}}
}

type RunJobRequest struct {
	JobID string `json:"job_id"`
}

func (r *RunJobRequest) Validate() []ValidationError {
	return required("job_id", r.JobID)
}
