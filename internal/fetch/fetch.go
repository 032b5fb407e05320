// Package fetch downloads archive bytes from remote URLs. It refuses to
// hand HTML error pages to the ingestion pipeline and knows how to unwrap
// Google Drive share links, including the interstitial "can't scan for
// viruses" confirmation page served for large files.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/modelrow/modelrow/pkg/sniff"
)

// SizeUnknown is returned by ProbeSize when the server reports nothing
// usable.
const SizeUnknown = -1

// maxArchiveBytes caps a single download. Anything bigger than this is not
// a character archive.
const maxArchiveBytes = 512 << 20

// Client fetches remote archives.
type Client struct {
	httpClient *http.Client
	log        *zap.Logger
}

// New returns a Client using hc, or a default client with a sane timeout
// when hc is nil.
func New(hc *http.Client, log *zap.Logger) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 2 * time.Minute}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{httpClient: hc, log: log}
}

// ProbeSize asks for the declared byte size of a resource: HEAD first,
// falling back to a GET when the server omits Content-Length. Best effort;
// degrades to SizeUnknown instead of failing the surrounding load.
func (c *Client) ProbeSize(ctx context.Context, rawURL string) int64 {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return SizeUnknown
	}
	resp, err := c.httpClient.Do(req)
	if err == nil {
		resp.Body.Close()
		if resp.StatusCode < 300 && resp.ContentLength >= 0 {
			return resp.ContentLength
		}
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return SizeUnknown
	}
	resp, err = c.httpClient.Do(req)
	if err != nil {
		return SizeUnknown
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return SizeUnknown
	}
	if resp.ContentLength >= 0 {
		return resp.ContentLength
	}
	n, err := io.Copy(io.Discard, io.LimitReader(resp.Body, maxArchiveBytes))
	if err != nil {
		return SizeUnknown
	}
	return n
}

// FetchArchive downloads rawURL and returns archive bytes. Share links are
// rewritten to the provider's direct-download endpoint, and an HTML
// confirmation interstitial is followed exactly once. A response that still
// isn't a ZIP after that is an error, never silently accepted.
func (c *Client) FetchArchive(ctx context.Context, rawURL string) ([]byte, error) {
	target := rawURL
	if id, ok := DriveFileID(rawURL); ok {
		target = driveDirectURL(id)
		c.log.Debug("rewrote share link",
			zap.String("url", rawURL),
			zap.String("file_id", id))
	}

	body, contentType, err := c.get(ctx, target)
	if err != nil {
		return nil, err
	}

	if sniff.LooksLikeZip(body) {
		return body, nil
	}

	if sniff.LooksLikeHTML(body) || isHTMLContentType(contentType) {
		confirmURL, ok := parseDriveConfirmForm(body)
		if !ok {
			return nil, fmt.Errorf("fetching %s: server returned an HTML page instead of archive bytes", rawURL)
		}
		c.log.Debug("following download confirmation page", zap.String("url", confirmURL))

		body, _, err = c.get(ctx, confirmURL)
		if err != nil {
			return nil, err
		}
		if sniff.LooksLikeZip(body) {
			return body, nil
		}
		return nil, fmt.Errorf("fetching %s: confirmation follow-up still not archive bytes", rawURL)
	}

	return nil, fmt.Errorf("fetching %s: response is not a ZIP archive (sniffed %s)",
		rawURL, sniff.DetectMime(body))
}

func (c *Client) get(ctx context.Context, rawURL string) (body []byte, contentType string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("fetching %s: status %s", rawURL, resp.Status)
	}

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxArchiveBytes))
	if err != nil {
		return nil, "", fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func isHTMLContentType(ct string) bool {
	return ct != "" && (ct == "text/html" || len(ct) > 9 && ct[:9] == "text/html")
}

func driveDirectURL(id string) string {
	return "https://drive.usercontent.google.com/download?id=" + url.QueryEscape(id) + "&export=download"
}
