package download

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func newServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	archive := zipBytes(t, map[string]string{
		"HFI2021.gdb/a0000001.gdbtable": "table",
		"HFI2021.gdb/gdb":               "marker",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		switch r.URL.Path {
		case "/files/HFI2021.gdb.zip":
			w.Header().Set("Content-Type", "application/zip")
			w.Write(archive)
		case "/files/readme.txt":
			w.Write([]byte("hello"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchAll(t *testing.T) {
	var hits int32
	srv := newServer(t, &hits)
	dir := t.TempDir()

	var mu sync.Mutex
	last := map[string]int64{}
	d := New(Options{
		Dir:         dir,
		Concurrency: 2,
		HTTPClient:  srv.Client(),
		Progress: func(name string, done, total int64) {
			mu.Lock()
			last[name] = done
			mu.Unlock()
		},
	})

	results, err := d.FetchAll(context.Background(), []Dataset{
		{Name: "hfi2021", URL: srv.URL + "/files/HFI2021.gdb.zip"},
		{Name: "readme", URL: srv.URL + "/files/readme.txt"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Len(t, results[0].Extracted, 2)
	data, err := os.ReadFile(filepath.Join(dir, "HFI2021.gdb", "gdb"))
	require.NoError(t, err)
	assert.Equal(t, "marker", string(data))

	assert.Empty(t, results[1].Extracted)
	assert.Equal(t, int64(5), results[1].Bytes)
	assert.Equal(t, int64(5), last["readme"])

	_, err = os.Stat(filepath.Join(dir, "readme.txt.part"))
	assert.True(t, os.IsNotExist(err))

	again, err := d.Fetch(context.Background(), Dataset{Name: "readme", URL: srv.URL + "/files/readme.txt"})
	require.NoError(t, err)
	assert.True(t, again.Skipped)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestFetch_HTTPError(t *testing.T) {
	var hits int32
	srv := newServer(t, &hits)
	d := New(Options{Dir: t.TempDir(), HTTPClient: srv.Client()})

	_, err := d.FetchAll(context.Background(), []Dataset{{Name: "gone", URL: srv.URL + "/files/missing.zip"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "gone")
}

func TestArchiveName(t *testing.T) {
	name, err := archiveName(Dataset{Name: "nfdb", URL: "https://cwfis.cfs.nrcan.gc.ca/downloads/nfdb/fire_poly/current_version/NFDB_poly.zip"})
	require.NoError(t, err)
	assert.Equal(t, "NFDB_poly.zip", name)

	name, err = archiveName(Dataset{Name: "lulc", URL: "https://example.com/"})
	require.NoError(t, err)
	assert.Equal(t, "lulc.zip", name)

	_, err = archiveName(Dataset{Name: "x", URL: "ftp://example.com/a.zip"})
	assert.Error(t, err)
}

func TestUnzip_RejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.zip")
	require.NoError(t, os.WriteFile(archive, zipBytes(t, map[string]string{"../escape.txt": "x"}), 0644))

	dest := filepath.Join(dir, "out")
	_, err := Unzip(archive, dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "illegal path")
	_, err = os.Stat(filepath.Join(dir, "escape.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestProgressModel(t *testing.T) {
	m := NewProgressModel([]Dataset{{Name: "hfi2021"}, {Name: "nfdb"}})
	view := m.View()
	assert.Contains(t, view, "hfi2021")
	assert.Contains(t, view, "waiting")

	next, cmd := m.Update(ProgressMsg{Name: "hfi2021", Done: 1 << 20, Total: 2 << 20})
	assert.Nil(t, cmd)
	view = next.View()
	assert.Contains(t, view, "1.0 MB / 2.1 MB")

	next, cmd = next.Update(finishedMsg{results: []Result{{Bytes: 5}}})
	require.NotNil(t, cmd)
	assert.True(t, next.(ProgressModel).done)
}

func TestRun(t *testing.T) {
	var hits int32
	srv := newServer(t, &hits)
	dir := t.TempDir()

	var out bytes.Buffer
	results, err := Run(context.Background(),
		Options{Dir: dir, HTTPClient: srv.Client()},
		[]Dataset{{Name: "readme", URL: srv.URL + "/files/readme.txt"}},
		tea.WithInput(nil), tea.WithOutput(&out), tea.WithoutRenderer(), tea.WithoutSignalHandler())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, filepath.Join(dir, "readme.txt"), results[0].Archive)
}
