// Package resolve turns the URL a user pastes (direct package link,
// itms-services install link or a web page listing packages) into a direct
// package download URL.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly"
	"howett.net/plist"
)

var (
	ErrNoPackage      = errors.New("no package link found")
	ErrUnsupportedURL = errors.New("unsupported URL")
)

const userAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15"

// Source is a resolved package location. Name and BundleID are filled when the
// source advertised them (install manifests do).
type Source struct {
	URL      string
	Name     string
	BundleID string
}

// Resolver resolves user supplied URLs to package URLs.
type Resolver struct {
	client  *http.Client
	timeout time.Duration
}

func New() *Resolver {
	return &Resolver{
		client:  &http.Client{Timeout: 30 * time.Second},
		timeout: 30 * time.Second,
	}
}

// Resolve returns the package location for rawURL.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (*Source, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedURL, err)
	}

	switch u.Scheme {
	case "itms-services":
		manifest := u.Query().Get("url")
		if manifest == "" {
			return nil, fmt.Errorf("%w: install link has no manifest url", ErrUnsupportedURL)
		}
		return r.fromManifest(ctx, manifest)
	case "http", "https":
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedURL, rawURL)
	}

	if isPackagePath(u.Path) {
		return &Source{URL: u.String(), Name: strings.TrimSuffix(path.Base(u.Path), path.Ext(u.Path))}, nil
	}
	if strings.HasSuffix(strings.ToLower(u.Path), ".plist") {
		return r.fromManifest(ctx, u.String())
	}
	return r.fromPage(ctx, u.String())
}

// fromPage crawls an HTML page for the first package or install link.
func (r *Resolver) fromPage(ctx context.Context, pageURL string) (*Source, error) {
	c := colly.NewCollector(colly.AllowURLRevisit())
	c.SetRequestTimeout(r.timeout)

	c.OnRequest(func(req *colly.Request) {
		if ctx.Err() != nil {
			req.Abort()
			return
		}
		req.Headers.Set("User-Agent", userAgent)
	})

	var (
		found    string
		visitErr error
	)
	c.OnError(func(resp *colly.Response, err error) {
		visitErr = fmt.Errorf("failed to fetch %s (status %d): %w", pageURL, resp.StatusCode, err)
	})

	c.OnHTML("html", func(e *colly.HTMLElement) {
		e.DOM.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			href, _ := s.Attr("href")
			if href == "" {
				return true
			}
			if strings.HasPrefix(href, "itms-services:") {
				found = href
				return false
			}
			abs := e.Request.AbsoluteURL(href)
			if parsed, err := url.Parse(abs); err == nil && isPackagePath(parsed.Path) {
				found = abs
				return false
			}
			return true
		})
	})

	if err := c.Visit(pageURL); err != nil && visitErr == nil {
		visitErr = fmt.Errorf("failed to fetch %s: %w", pageURL, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if found == "" {
		if visitErr != nil {
			return nil, visitErr
		}
		return nil, fmt.Errorf("%w: %s", ErrNoPackage, pageURL)
	}

	slog.Debug("Resolved package link from page", "page", pageURL, "link", found)
	return r.Resolve(ctx, found)
}

type installManifest struct {
	Items []struct {
		Assets []struct {
			Kind string `plist:"kind"`
			URL  string `plist:"url"`
		} `plist:"assets"`
		Metadata struct {
			BundleID string `plist:"bundle-identifier"`
			Title    string `plist:"title"`
		} `plist:"metadata"`
	} `plist:"items"`
}

// fromManifest reads an over-the-air install manifest.
func (r *Resolver) fromManifest(ctx context.Context, manifestURL string) (*Source, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("manifest request failed with status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m installManifest
	if _, err := plist.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: invalid manifest: %v", ErrNoPackage, err)
	}

	for _, item := range m.Items {
		for _, asset := range item.Assets {
			if asset.Kind == "software-package" && asset.URL != "" {
				return &Source{
					URL:      asset.URL,
					Name:     item.Metadata.Title,
					BundleID: item.Metadata.BundleID,
				}, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: manifest lists no software-package asset", ErrNoPackage)
}

func isPackagePath(p string) bool {
	return strings.HasSuffix(strings.ToLower(p), ".ipa")
}
