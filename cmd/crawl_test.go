package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/app"
	"github.com/JakeFAU/listing-harvester/internal/config"
	"github.com/JakeFAU/listing-harvester/internal/crawler"
	"github.com/JakeFAU/listing-harvester/internal/hash/sha256"
	"github.com/JakeFAU/listing-harvester/internal/id/uuid"
)

// portal is a fake listing site: pages maps a page number to row ids, and an
// id starting with "private-" links under /private/.
type portal struct {
	robots string
	pages  map[int][]string

	mu   sync.Mutex
	hits []string
}

func (p *portal) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.hits = append(p.hits, r.URL.RequestURI())
	p.mu.Unlock()

	switch {
	case r.URL.Path == "/robots.txt":
		_, _ = io.WriteString(w, p.robots)
	case r.URL.Path == "/home/DrugSearch":
		var page int
		_, _ = fmt.Sscanf(r.URL.Query().Get("page"), "%d", &page)
		var rows strings.Builder
		for _, id := range p.pages[page] {
			href := "/drug/" + id
			if strings.HasPrefix(id, "private-") {
				href = "/private/" + id
			}
			fmt.Fprintf(&rows, `<tr><td>%s</td><td>n</td><td>f</td><td>m</td><td><a href="%s">v</a></td></tr>`, id, href)
		}
		fmt.Fprintf(w, `<html><body><div class="table-responsive"><table class="table s-row"><tbody>%s</tbody></table></div></body></html>`, rows.String())
	case strings.HasPrefix(r.URL.Path, "/drug/"), strings.HasPrefix(r.URL.Path, "/private/"):
		fmt.Fprintf(w, "<html><body>detail %s</body></html>", filepath.Base(r.URL.Path))
	default:
		http.NotFound(w, r)
	}
}

func (p *portal) requests(prefix string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, h := range p.hits {
		if strings.HasPrefix(h, prefix) {
			n++
		}
	}
	return n
}

func quietApp(t *testing.T) {
	t.Helper()
	original := newApp
	newApp = func(ctx context.Context, cfg config.Config) (App, error) {
		return app.NewApp(ctx, cfg, app.Options{IDs: uuid.New(), Logger: zap.NewNop()})
	}
	t.Cleanup(func() { newApp = original })
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root, cleanup := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	cleanup()
	return out.String(), err
}

func crawlArgs(baseURL, outDir string, extra ...string) []string {
	args := []string{
		"crawl",
		"--base-url", baseURL,
		"--output-dir", outDir,
		"--delay-min", "0s",
		"--delay-max", "0s",
		"--max-attempts", "1",
	}
	return append(args, extra...)
}

func TestCrawlCommandEndToEnd(t *testing.T) {
	quietApp(t)
	site := &portal{
		robots: "User-agent: *\nDisallow: /private\n",
		pages: map[int][]string{
			1: {"A1", "A2"},
			2: {"B1", "private-B2"},
		},
	}
	server := httptest.NewServer(site)
	defer server.Close()
	outDir := filepath.Join(t.TempDir(), "out")

	out, err := execute(t, crawlArgs(server.URL, outDir)...)
	require.NoError(t, err)

	var report crawler.RunReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 2, report.EndPage)
	assert.Equal(t, 2, report.PagesCommitted)
	assert.Equal(t, 3, report.ItemsFetched)
	assert.Equal(t, 1, report.ItemsDenied)
	assert.NotEmpty(t, report.RunID)
	assert.Zero(t, site.requests("/private/"), "disallowed detail page must never be requested")

	// #nosec G304 -- test reads from the controlled temp directory.
	data, err := os.ReadFile(filepath.Join(outDir, "page_001.json"))
	require.NoError(t, err)
	var page1 map[string]string
	require.NoError(t, json.Unmarshal(data, &page1))
	assert.Equal(t, map[string]string{
		"A1": "<html><body>detail A1</body></html>",
		"A2": "<html><body>detail A2</body></html>",
	}, page1)

	detailsBefore := site.requests("/drug/")
	out, err = execute(t, crawlArgs(server.URL, outDir)...)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 2, report.PagesSkipped)
	assert.Zero(t, report.PagesCommitted)
	assert.Equal(t, detailsBefore, site.requests("/drug/"), "rerun must not refetch committed pages")
}

func TestCrawlCommandExplicitRangeStopsAtEmptyPage(t *testing.T) {
	quietApp(t)
	site := &portal{
		pages: map[int][]string{1: {"A1", "A2"}, 3: {"C1"}},
	}
	server := httptest.NewServer(site)
	defer server.Close()
	outDir := filepath.Join(t.TempDir(), "out")

	out, err := execute(t, crawlArgs(server.URL, outDir, "--start-page", "1", "--end-page", "3")...)
	require.NoError(t, err)

	var report crawler.RunReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, crawler.StopEndOfListing, report.Stopped)
	assert.Equal(t, 1, report.PagesCommitted)
	assert.FileExists(t, filepath.Join(outDir, "page_001.json"))
	assert.NoFileExists(t, filepath.Join(outDir, "page_002.json"))
	assert.NoFileExists(t, filepath.Join(outDir, "page_003.json"))
	assert.Zero(t, site.requests("/home/DrugSearch?page=3"))
}

func TestCrawlCommandListingDisallowed(t *testing.T) {
	quietApp(t)
	site := &portal{
		robots: "User-agent: *\nDisallow: /home\n",
		pages:  map[int][]string{1: {"A1"}},
	}
	server := httptest.NewServer(site)
	defer server.Close()

	_, err := execute(t, crawlArgs(server.URL, filepath.Join(t.TempDir(), "out"))...)
	require.ErrorIs(t, err, crawler.ErrListingDisallowed)
	assert.Zero(t, site.requests("/home/"))
}

func TestCrawlCommandIgnoreRobots(t *testing.T) {
	quietApp(t)
	site := &portal{
		robots: "User-agent: *\nDisallow: /\n",
		pages:  map[int][]string{1: {"A1"}},
	}
	server := httptest.NewServer(site)
	defer server.Close()
	outDir := filepath.Join(t.TempDir(), "out")

	_, err := execute(t, crawlArgs(server.URL, outDir, "--ignore-robots", "--end-page", "1")...)
	require.NoError(t, err)
	assert.Zero(t, site.requests("/robots.txt"))
	assert.FileExists(t, filepath.Join(outDir, "page_001.json"))
}

func TestCrawlCommandRejectsBadConfig(t *testing.T) {
	quietApp(t)
	_, err := execute(t, "crawl", "--output-dir", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crawler.base_url")

	_, err = execute(t, "crawl", "--base-url", "https://portal.example", "--output-dir", t.TempDir(),
		"--start-page", "5", "--end-page", "2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crawler.end_page")
}

func TestInspectCommand(t *testing.T) {
	quietApp(t)
	site := &portal{pages: map[int][]string{1: {"B2", "A1"}}}
	server := httptest.NewServer(site)
	defer server.Close()
	outDir := filepath.Join(t.TempDir(), "out")

	_, err := execute(t, crawlArgs(server.URL, outDir, "--end-page", "1")...)
	require.NoError(t, err)

	// inspect reads local checkpoints only and needs no portal settings.
	out, err := execute(t, "inspect", "--output-dir", outDir, "--page", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "page_001.json: 2 item(s)")
	assert.Less(t, strings.Index(out, "A1\t"), strings.Index(out, "B2\t"))
	assert.Contains(t, out, sha256.Tagged("<html><body>detail A1</body></html>"))

	_, err = execute(t, "inspect", "--output-dir", outDir, "--page", "7")
	require.Error(t, err)

	_, err = execute(t, "inspect", "--output-dir", outDir, "--page", "0")
	require.Error(t, err)
}
