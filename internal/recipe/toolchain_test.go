package recipe

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/git-2.45.2.tar.gz" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("archive-bytes"))
	}))
	defer srv.Close()

	sys := &System{Client: srv.Client()}
	dest := filepath.Join(t.TempDir(), "work", "git-2.45.2.tar.gz")

	require.NoError(t, sys.Fetch(t.Context(), srv.URL+"/git-2.45.2.tar.gz", dest))
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "archive-bytes", string(data))

	err = sys.Fetch(t.Context(), srv.URL+"/git-0.0.0.tar.gz", dest+".missing")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.NoFileExists(t, dest+".missing")

	entries, err := os.ReadDir(filepath.Dir(dest))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no partial files are left behind")
}

func TestSystemRun(t *testing.T) {
	var stdout bytes.Buffer
	sys := &System{Stdout: &stdout, Env: []string{"CRUXFORGE_TEST_VALUE=forty-two"}}

	dir := t.TempDir()
	require.NoError(t, sys.Run(t.Context(), dir, "sh", "-c", `pwd; echo "$CRUXFORGE_TEST_VALUE"`))

	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Equal(t, resolved+"\nforty-two\n", stdout.String())

	err = sys.Run(t.Context(), "", "sh", "-c", "exit 3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit status 3")

	assert.Error(t, sys.Run(t.Context(), ""))
}
