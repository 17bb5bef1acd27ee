// ABOUTME: Context enrichment for a conversation turn
// ABOUTME: Folds linked-page previews into supplement lines and re-encodes note attachments inline

// Package enrich gathers extra context for a turn. Every URL and every file
// is handled on its own; one failure never stops the rest.
package enrich

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/2389/coven-aichat/internal/linkpreview"
	"github.com/2389/coven-aichat/internal/misskey"
	"github.com/2389/coven-aichat/internal/provider"
)

var urlPattern = regexp.MustCompile(`https?://[a-zA-Z0-9!?/+_~=:;.,*&@#$%'-]+`)

// Previewer resolves a URL to a page preview
type Previewer interface {
	Resolve(ctx context.Context, url string) (*linkpreview.Preview, error)
}

// FileFetcher downloads an attachment
type FileFetcher interface {
	Download(ctx context.Context, url string) ([]byte, string, error)
}

// Enricher resolves URLs and attachments for a turn
type Enricher struct {
	previews Previewer
	files    FileFetcher
	logger   *slog.Logger
}

// New creates an Enricher
func New(previews Previewer, files FileFetcher, logger *slog.Logger) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{
		previews: previews,
		files:    files,
		logger:   logger.With("component", "enrich"),
	}
}

// FindURLs returns every URL in text, in order of appearance
func FindURLs(text string) []string {
	return urlPattern.FindAllString(text, -1)
}

// DescribeURLs returns one supplement line per URL found in text.
// Previews without a title contribute nothing.
func (e *Enricher) DescribeURLs(ctx context.Context, text string) []string {
	var lines []string
	for _, u := range FindURLs(text) {
		p, err := e.previews.Resolve(ctx, u)
		if err != nil {
			e.logger.Info("url preview failed", "url", u, "error", err)
			lines = append(lines, fmt.Sprintf("The supplementary URL was invalid: URL=%s", u))
			continue
		}
		if p == nil || p.Title == "" {
			e.logger.Debug("url preview has no title", "url", u)
			continue
		}

		pageURL := p.URL
		if pageURL == "" {
			pageURL = u
		}
		if p.Sensitive {
			lines = append(lines, fmt.Sprintf(
				"Supplementary URL: URL=%s, site name (%s). It may be sensitive, so use only the URL and site name as a reference, if at all.",
				pageURL, p.SiteName))
			continue
		}
		lines = append(lines, fmt.Sprintf(
			"Supplementary URL: URL=%s, site name (%s), title (%s), description (%s). Combine the URL in the question with these details when answering.",
			pageURL, p.SiteName, p.Title, p.Description))
	}
	return lines
}

// Attachments downloads each file and encodes it as inline content.
// Files without a type or URL, and files that fail to download, are skipped.
func (e *Enricher) Attachments(ctx context.Context, files []misskey.DriveFile) []provider.Attachment {
	var out []provider.Attachment
	for _, f := range files {
		mimeType := NormalizeMimeType(f.Type)
		fileURL := f.URL
		if f.ThumbnailURL != nil && *f.ThumbnailURL != "" {
			fileURL = *f.ThumbnailURL
		}
		if mimeType == "" || fileURL == "" {
			continue
		}

		data, _, err := e.files.Download(ctx, fileURL)
		if err != nil {
			e.logger.Warn("attachment download failed", "file_id", f.ID, "url", fileURL, "error", err)
			continue
		}
		out = append(out, provider.Attachment{
			MimeType: mimeType,
			Data:     base64.StdEncoding.EncodeToString(data),
		})
	}
	return out
}

// NormalizeMimeType maps types the models reject to text/plain
func NormalizeMimeType(t string) string {
	switch t {
	case "application/octet-stream", "application/xml":
		return "text/plain"
	}
	return t
}
