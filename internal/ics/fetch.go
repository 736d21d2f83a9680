package ics

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	appLog "studybell/internal/log"
)

// maxBodyBytes caps a downloaded feed; timetables are small.
const maxBodyBytes = 4 << 20

// ErrFeedURL is wrapped when a feed URL is not an absolute http(s) URL.
var ErrFeedURL = errors.New("not an http(s) feed URL")

var errNotModified = errors.New("ics: feed not modified since the saved copy")

// FetchResult is a feed body ready for Parse.
type FetchResult struct {
	URL       string
	Body      []byte
	FromCache bool // the saved copy was used instead of a fresh download
}

// savedFeed is the last good download of one feed URL, kept as a single
// JSON file so the validators and the body are replaced together.
type savedFeed struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	SavedAt      time.Time `json:"saved_at"`
	Body         []byte    `json:"body"`
}

// Fetcher downloads iCalendar feeds for import. Every good download is
// saved under cacheDir; the saved copy answers conditional requests and
// stands in when the feed cannot be reached.
type Fetcher struct {
	client   *http.Client
	fs       afero.Fs
	cacheDir string
}

// NewFetcher creates a Fetcher saving feeds under cacheDir on fs.
func NewFetcher(fs afero.Fs, cacheDir string) *Fetcher {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if cacheDir == "" {
		cacheDir = "./var/ics-cache"
	}
	return &Fetcher{
		client:   &http.Client{Timeout: 15 * time.Second},
		fs:       fs,
		cacheDir: cacheDir,
	}
}

// Fetch returns the iCalendar body at rawURL, which must be http or https.
// A body that is not a calendar is rejected and never saved.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (FetchResult, error) {
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return FetchResult{}, fmt.Errorf("ics: %s: %w", redactURL(rawURL), ErrFeedURL)
	}

	saved, haveSaved := f.load(rawURL)
	fresh, err := f.download(ctx, rawURL, saved)
	switch {
	case err == nil:
		if err := f.save(fresh); err != nil {
			appLog.Warn("could not keep a copy of the feed", "url", redactURL(rawURL), "error", err.Error())
		}
		appLog.Info("feed downloaded", "url", redactURL(rawURL), "bytes", len(fresh.Body))
		return FetchResult{URL: rawURL, Body: fresh.Body}, nil
	case haveSaved && errors.Is(err, errNotModified):
		appLog.Debug("feed unchanged, using saved copy", "url", redactURL(rawURL))
	case haveSaved:
		appLog.Warn("feed unavailable, importing saved copy",
			"url", redactURL(rawURL), "error", err.Error(), "saved_at", saved.SavedAt)
	default:
		return FetchResult{}, err
	}
	return FetchResult{URL: rawURL, Body: saved.Body, FromCache: true}, nil
}

func (f *Fetcher) download(ctx context.Context, rawURL string, saved savedFeed) (savedFeed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return savedFeed{}, err
	}
	req.Header.Set("Accept", "text/calendar")
	if saved.ETag != "" {
		req.Header.Set("If-None-Match", saved.ETag)
	}
	if saved.LastModified != "" {
		req.Header.Set("If-Modified-Since", saved.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return savedFeed{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return savedFeed{}, errNotModified
	}
	if resp.StatusCode != http.StatusOK {
		return savedFeed{}, fmt.Errorf("ics: feed answered %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return savedFeed{}, err
	}
	if len(body) > maxBodyBytes {
		return savedFeed{}, fmt.Errorf("ics: feed is larger than %d bytes", maxBodyBytes)
	}
	if !bytes.Contains(body, []byte("BEGIN:VCALENDAR")) {
		return savedFeed{}, errors.New("ics: response is not an iCalendar document")
	}
	return savedFeed{
		URL:          rawURL,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		Body:         body,
	}, nil
}

func (f *Fetcher) savedPath(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8])+".json")
}

func (f *Fetcher) load(rawURL string) (savedFeed, bool) {
	data, err := afero.ReadFile(f.fs, f.savedPath(rawURL))
	if err != nil {
		return savedFeed{}, false
	}
	var saved savedFeed
	if err := json.Unmarshal(data, &saved); err != nil || saved.URL != rawURL || len(saved.Body) == 0 {
		return savedFeed{}, false
	}
	return saved, true
}

func (f *Fetcher) save(feed savedFeed) error {
	if err := f.fs.MkdirAll(f.cacheDir, 0o700); err != nil {
		return err
	}
	feed.SavedAt = time.Now().UTC()
	data, err := json.Marshal(&feed)
	if err != nil {
		return err
	}
	return afero.WriteFile(f.fs, f.savedPath(feed.URL), data, 0o600)
}

// redactURL keeps only scheme and host; feed URLs often embed tokens.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
