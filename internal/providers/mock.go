package providers

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"

	"github.com/cesargomez89/inkqueue/internal/constants"
)

// MockProvider serves generated pages without touching the network.
type MockProvider struct {
	PageCount int
	// FailPage makes FetchPage fail for that page index; zero disables.
	FailPage int
}

func NewMockProvider(pageCount int) *MockProvider {
	if pageCount <= 0 {
		pageCount = 20
	}
	return &MockProvider{PageCount: pageCount}
}

func (p *MockProvider) Info() Info {
	return Info{ID: "mockadex", Name: "Mockadex"}
}

func (p *MockProvider) Pages(ctx context.Context, chapterID string) ([]Page, error) {
	if strings.TrimSpace(chapterID) == "" {
		return nil, ErrChapterNotFound
	}
	pages := make([]Page, 0, p.PageCount)
	for i := 1; i <= p.PageCount; i++ {
		pages = append(pages, Page{Index: i, URL: fmt.Sprintf("mock://%s/page/%d", chapterID, i)})
	}
	return pages, nil
}

func (p *MockProvider) FetchPage(ctx context.Context, page Page) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	if p.FailPage != 0 && page.Index == p.FailPage {
		return nil, "", fmt.Errorf("failed to download page %d: server returned status 503", page.Index)
	}

	img := image.NewGray(image.Rect(0, 0, 8, 12))
	for i := range img.Pix {
		img.Pix[i] = uint8(page.Index * 10)
	}
	img.SetGray(0, 0, color.Gray{Y: 255})

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), constants.ExtPNG, nil
}
