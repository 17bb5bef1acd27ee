package enrich

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-aichat/internal/linkpreview"
	"github.com/2389/coven-aichat/internal/misskey"
)

type fakePreviewer map[string]*linkpreview.Preview

func (f fakePreviewer) Resolve(_ context.Context, url string) (*linkpreview.Preview, error) {
	p, ok := f[url]
	if !ok {
		return nil, errors.New("unreachable")
	}
	return p, nil
}

type fakeFetcher struct {
	files     map[string][]byte
	requested []string
}

func (f *fakeFetcher) Download(_ context.Context, url string) ([]byte, string, error) {
	f.requested = append(f.requested, url)
	data, ok := f.files[url]
	if !ok {
		return nil, "", errors.New("404")
	}
	return data, "", nil
}

func strPtr(s string) *string { return &s }

func TestFindURLs(t *testing.T) {
	got := FindURLs("see https://a.example/x?y=1 and http://b.example/ ok、日本語")
	assert.Equal(t, []string{"https://a.example/x?y=1", "http://b.example/"}, got)
	assert.Empty(t, FindURLs("no links here"))
}

func TestDescribeURLs_IsolatesFailures(t *testing.T) {
	e := New(fakePreviewer{
		"https://good.example": {URL: "https://good.example", Title: "Good", SiteName: "GoodSite", Description: "desc"},
		"https://nsfw.example": {URL: "https://nsfw.example", Title: "Spicy", SiteName: "NSFW", Description: "secret", Sensitive: true},
		"https://notitle.example": {URL: "https://notitle.example"},
	}, nil, nil)

	lines := e.DescribeURLs(context.Background(),
		"https://bad.example https://good.example https://nsfw.example https://notitle.example")

	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "invalid")
	assert.Contains(t, lines[0], "https://bad.example")

	assert.Contains(t, lines[1], "GoodSite")
	assert.Contains(t, lines[1], "Good")
	assert.Contains(t, lines[1], "desc")

	assert.Contains(t, lines[2], "NSFW")
	assert.NotContains(t, lines[2], "Spicy")
	assert.NotContains(t, lines[2], "secret")
}

func TestAttachments(t *testing.T) {
	fetcher := &fakeFetcher{files: map[string][]byte{
		"https://files/thumb.webp": []byte("thumb"),
		"https://files/data.bin":   []byte("text"),
	}}
	e := New(nil, fetcher, nil)

	got := e.Attachments(context.Background(), []misskey.DriveFile{
		{ID: "1", Type: "image/png", URL: "https://files/full.png", ThumbnailURL: strPtr("https://files/thumb.webp")},
		{ID: "2", Type: "application/octet-stream", URL: "https://files/data.bin"},
		{ID: "3", Type: "image/gif", URL: "https://files/missing.gif"},
		{ID: "4", Type: "", URL: "https://files/untyped"},
	})

	require.Len(t, got, 2)
	assert.Equal(t, "image/png", got[0].MimeType)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("thumb")), got[0].Data)
	assert.Equal(t, "text/plain", got[1].MimeType)

	assert.NotContains(t, strings.Join(fetcher.requested, " "), "full.png", "thumbnail is preferred")
	assert.NotContains(t, strings.Join(fetcher.requested, " "), "untyped")
}

func TestNormalizeMimeType(t *testing.T) {
	assert.Equal(t, "text/plain", NormalizeMimeType("application/xml"))
	assert.Equal(t, "text/plain", NormalizeMimeType("application/octet-stream"))
	assert.Equal(t, "image/jpeg", NormalizeMimeType("image/jpeg"))
}

func TestDescribeURLs_InternalAddressIsInvalid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<title>INTERNAL ADMIN secret-token-123</title>`))
	}))
	t.Cleanup(srv.Close)

	e := New(linkpreview.New(nil, nil), nil, nil)
	lines := e.DescribeURLs(context.Background(), "look "+srv.URL+"/admin")

	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "invalid")
	assert.NotContains(t, lines[0], "secret-token-123")
}
