package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SpecFetcher resolves a specUri string to its AppSpecDocument. The only
// production implementation is httpSpecFetcher; Load takes the fetcher as a
// parameter, so a map-backed fake can stand in for it.
type SpecFetcher interface {
	Fetch(ctx context.Context, specURI string) (*AppSpecDocument, error)
}

type httpSpecFetcher struct {
	client *http.Client
}

// NewHTTPSpecFetcher builds the production SpecFetcher: plain HTTPS GET,
// with a GitHub blob URL rewritten to its raw.githubusercontent.com
// equivalent first, since app authors commonly paste a browser URL.
func NewHTTPSpecFetcher() SpecFetcher {
	return &httpSpecFetcher{client: &http.Client{Timeout: 15 * time.Second}}
}

func (f *httpSpecFetcher) Fetch(ctx context.Context, specURI string) (*AppSpecDocument, error) {
	resolved, err := resolveSpecURI(specURI)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolved, nil)
	if err != nil {
		return nil, fmt.Errorf("build spec request for %s: %w", specURI, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch spec %s: %w", specURI, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch spec %s: status %d", specURI, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read spec %s: %w", specURI, err)
	}

	var doc AppSpecDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse spec %s: %w", specURI, err)
	}
	return &doc, nil
}

// resolveSpecURI rewrites a GitHub "blob" browser URL into the equivalent
// raw.githubusercontent.com URL, and otherwise passes the URI through
// unchanged. Only http/https schemes are accepted.
func resolveSpecURI(specURI string) (string, error) {
	u, err := url.Parse(specURI)
	if err != nil {
		return "", fmt.Errorf("invalid spec uri %q: %w", specURI, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported spec uri scheme %q (want http/https)", u.Scheme)
	}

	if u.Host == "github.com" {
		parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 5)
		// /<owner>/<repo>/blob/<ref>/<path...>
		if len(parts) == 5 && parts[2] == "blob" {
			raw := fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s/%s", parts[0], parts[1], parts[3], parts[4])
			return raw, nil
		}
	}

	return specURI, nil
}
