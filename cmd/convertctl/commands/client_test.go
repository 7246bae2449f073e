package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/convert-forge/internal/jobs"
)

func TestClientSubmit(t *testing.T) {
	input := filepath.Join(t.TempDir(), "scan.png")
	require.NoError(t, os.WriteFile(input, []byte("pixels"), 0o644))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/jobs", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("X-API-Key"))
		assert.Equal(t, "CompressImage", r.FormValue("type"))
		assert.Equal(t, "high", r.FormValue("compressionLevel"))

		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "scan.png", header.Filename)
		assert.Equal(t, "pixels", string(data))

		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"jobId": "abc"})
	}))
	defer srv.Close()

	jobID, err := newClient(srv.URL+"/", "k").submit(context.Background(), input, "CompressImage", "high")
	require.NoError(t, err)
	assert.Equal(t, "abc", jobID)
}

func TestClientDecodesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"JOB_NOT_FOUND","message":"missing"}`))
	}))
	defer srv.Close()

	_, err := newClient(srv.URL, "").status(context.Background(), "nope")
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "JOB_NOT_FOUND", apiErr.Code)
}

func TestClientWaitAndDownload(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/jobs/j1":
			status := jobs.StatusActive
			if polls.Add(1) >= 3 {
				status = jobs.StatusCompleted
			}
			_ = json.NewEncoder(w).Encode(jobs.Record{JobID: "j1", Status: status})
		case "/api/jobs/j1/download":
			w.Header().Set("Content-Disposition", `attachment; filename="scan_compressed.jpg"; filename*=UTF-8''scan_compressed.jpg`)
			_, _ = w.Write([]byte("jpeg"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := newClient(srv.URL, "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var seen []jobs.Status
	record, err := c.wait(ctx, "j1", time.Millisecond, func(r *jobs.Record) { seen = append(seen, r.Status) })
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, record.Status)
	assert.Len(t, seen, 3)

	dir := t.TempDir()
	path, err := c.download(ctx, "j1", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "scan_compressed.jpg"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(data))
}

func TestStatusCommandPrintsRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(jobs.Record{
			JobID:    "j9",
			Type:     "CompressDoc",
			Status:   jobs.StatusFailed,
			Progress: jobs.ProgressInfo{Percent: 40},
			Error:    &jobs.ErrorInfo{Code: "CONVERSION_FAILED", Message: "boom"},
		})
	}))
	defer srv.Close()

	out := &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetArgs([]string{"status", "--server", srv.URL, "j9"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "status:   failed (40%)")
	assert.Contains(t, out.String(), "CONVERSION_FAILED: boom")
}
