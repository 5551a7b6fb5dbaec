package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/cesargomez89/inkqueue/internal/constants"
	"github.com/cesargomez89/inkqueue/internal/httpclient"
)

// HTTPProvider reads chapter page lists from a JSON API:
//
//	GET {base}/chapters/{id}/pages -> {"pages": ["https://...", ...]}
type HTTPProvider struct {
	info    Info
	BaseURL string
	Client  *httpclient.Client
}

func NewHTTPProvider(id, name, baseURL string, minRequestInterval time.Duration) *HTTPProvider {
	return &HTTPProvider{
		info:    Info{ID: id, Name: name},
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  httpclient.NewClient(nil, minRequestInterval),
	}
}

func (p *HTTPProvider) Info() Info {
	return p.info
}

func (p *HTTPProvider) Pages(ctx context.Context, chapterID string) ([]Page, error) {
	u := fmt.Sprintf("%s/chapters/%s/pages", p.BaseURL, url.PathEscape(chapterID))
	var resp struct {
		Pages []string `json:"pages"`
	}
	if err := p.getJSON(ctx, u, &resp); err != nil {
		return nil, err
	}

	pages := make([]Page, 0, len(resp.Pages))
	for i, pageURL := range resp.Pages {
		pages = append(pages, Page{Index: i + 1, URL: pageURL})
	}
	return pages, nil
}

func (p *HTTPProvider) FetchPage(ctx context.Context, page Page) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, page.URL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request for page %d: %w", page.Index, err)
	}

	resp, err := p.Client.Do(ctx, req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download page %d: %w", page.Index, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("failed to download page %d: server returned status %d", page.Index, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read page %d data: %w", page.Index, err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("page %d returned empty data", page.Index)
	}

	return data, PageExtension(page.URL, resp.Header.Get("Content-Type")), nil
}

func (p *HTTPProvider) getJSON(ctx context.Context, u string, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}

	resp, err := p.Client.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrChapterNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("API request failed: %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

// PageExtension picks a file extension from the URL path, falling back to the
// content type and finally to .jpg.
func PageExtension(pageURL, contentType string) string {
	if u, err := url.Parse(pageURL); err == nil {
		if ext := strings.ToLower(path.Ext(u.Path)); isImageExt(ext) {
			return ext
		}
	}

	switch {
	case strings.Contains(contentType, "image/png"):
		return constants.ExtPNG
	case strings.Contains(contentType, "image/gif"):
		return constants.ExtGIF
	case strings.Contains(contentType, "image/webp"):
		return constants.ExtWEBP
	default:
		return constants.ExtJPG
	}
}

func isImageExt(ext string) bool {
	switch ext {
	case constants.ExtJPG, ".jpeg", constants.ExtPNG, constants.ExtGIF, constants.ExtWEBP:
		return true
	}
	return false
}
