// Package providers knows where chapter pages come from.
package providers

import (
	"context"
	"errors"
)

var ErrChapterNotFound = errors.New("chapter not found")

type Info struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Page is one image of a chapter, in reading order starting at 1.
type Page struct {
	URL   string `json:"url"`
	Index int    `json:"index"`
}

type Provider interface {
	Info() Info
	Pages(ctx context.Context, chapterID string) ([]Page, error)
	// FetchPage returns the image bytes and a file extension such as ".jpg".
	FetchPage(ctx context.Context, page Page) ([]byte, string, error)
}
