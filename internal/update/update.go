// Package update checks GitHub releases for a newer feeder build.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// GitHubRepo is the repository to check for updates.
	GitHubRepo = "fentz26/petfeeder"
	// GitHubAPIURL is the GitHub API root.
	GitHubAPIURL = "https://api.github.com"
	// CheckInterval is the minimum time between update checks.
	CheckInterval = 24 * time.Hour
)

// Version is set at build time via -ldflags.
var Version = "dev"

// GitHubRelease represents a GitHub release response.
type GitHubRelease struct {
	TagName     string `json:"tag_name"`
	Name        string `json:"name"`
	HTMLURL     string `json:"html_url"`
	PublishedAt string `json:"published_at"`
}

// Result is the outcome of a check.
type Result struct {
	Current   string `json:"current"`
	Latest    string `json:"latest"`
	URL       string `json:"url"`
	HasUpdate bool   `json:"has_update"`
	// Cached is set when the answer came from the local cache.
	Cached bool `json:"-"`
}

type cacheFile struct {
	LastCheck     int64  `json:"last_check"`
	LatestVersion string `json:"latest_version"`
	URL           string `json:"url"`
}

// Checker handles update checking and caching.
type Checker struct {
	cacheDir   string
	apiURL     string
	repo       string
	httpClient *http.Client
	now        func() time.Time
}

// NewChecker creates a checker caching its answer under cacheDir.
func NewChecker(cacheDir string) *Checker {
	return &Checker{
		cacheDir:   cacheDir,
		apiURL:     GitHubAPIURL,
		repo:       GitHubRepo,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		now:        time.Now,
	}
}

// WithAPIURL points the checker at another API root.
func (c *Checker) WithAPIURL(u string) *Checker {
	c.apiURL = strings.TrimRight(u, "/")
	return c
}

// Check returns the newest release. A cached answer younger than
// CheckInterval is reused unless force is set.
func (c *Checker) Check(ctx context.Context, force bool) (*Result, error) {
	current := strings.TrimPrefix(Version, "v")
	if !force {
		if cache, err := c.loadCache(); err == nil && c.now().Sub(time.Unix(cache.LastCheck, 0)) < CheckInterval {
			return &Result{
				Current:   current,
				Latest:    cache.LatestVersion,
				URL:       cache.URL,
				HasUpdate: Newer(cache.LatestVersion, current),
				Cached:    true,
			}, nil
		}
	}

	url := fmt.Sprintf("%s/repos/%s/releases/latest", c.apiURL, c.repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to check for updates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub API returned status %d", resp.StatusCode)
	}

	var release GitHubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("failed to parse release info: %w", err)
	}

	latest := strings.TrimPrefix(release.TagName, "v")
	_ = c.saveCache(cacheFile{LastCheck: c.now().Unix(), LatestVersion: latest, URL: release.HTMLURL})

	return &Result{
		Current:   current,
		Latest:    latest,
		URL:       release.HTMLURL,
		HasUpdate: Newer(latest, current),
	}, nil
}

// Newer reports whether latest is a higher dotted version than current.
// Development builds never report an update.
func Newer(latest, current string) bool {
	if latest == "" || current == "dev" {
		return false
	}
	l, c := versionParts(latest), versionParts(current)
	for i := 0; i < max(len(l), len(c)); i++ {
		var a, b int
		if i < len(l) {
			a = l[i]
		}
		if i < len(c) {
			b = c[i]
		}
		if a != b {
			return a > b
		}
	}
	return false
}

func versionParts(v string) []int {
	v = strings.TrimPrefix(v, "v")
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}
	var parts []int
	for _, p := range strings.Split(v, ".") {
		n, err := strconv.Atoi(p)
		if err != nil {
			break
		}
		parts = append(parts, n)
	}
	return parts
}

func (c *Checker) cachePath() string {
	return filepath.Join(c.cacheDir, "update-check.json")
}

func (c *Checker) loadCache() (*cacheFile, error) {
	data, err := os.ReadFile(c.cachePath())
	if err != nil {
		return nil, err
	}
	var cache cacheFile
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, err
	}
	return &cache, nil
}

func (c *Checker) saveCache(cache cacheFile) error {
	if err := os.MkdirAll(c.cacheDir, 0700); err != nil {
		return err
	}
	data, err := json.Marshal(cache)
	if err != nil {
		return err
	}
	return os.WriteFile(c.cachePath(), data, 0600)
}
