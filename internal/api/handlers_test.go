package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/convert-forge/internal/convert"
	"github.com/yourusername/convert-forge/internal/jobs"
	"github.com/yourusername/convert-forge/internal/layout"
	"github.com/yourusername/convert-forge/internal/storage"
)

type fakeJobs struct {
	submitted []convert.Job
	records   map[string]*jobs.Record
	submitErr error
}

func (f *fakeJobs) Submit(_ context.Context, job convert.Job) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, job)
	return "job-1", nil
}

func (f *fakeJobs) GetRecord(_ context.Context, jobID string) (*jobs.Record, error) {
	return f.records[jobID], nil
}

func (f *fakeJobs) Types() []convert.JobType {
	return []convert.JobType{convert.CompressImage, convert.ConvertDocToText}
}

type fakeParser struct {
	pages [][]layout.Fragment
	err   error
}

func (p fakeParser) Parse(context.Context, string) ([][]layout.Fragment, error) {
	return p.pages, p.err
}

type testServer struct {
	router    *gin.Engine
	jobs      *fakeJobs
	workspace *storage.Workspace
}

func newTestServer(t *testing.T, parser convert.Parser, maxSize int64) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ws := storage.NewWorkspace(t.TempDir())
	require.NoError(t, ws.Provision())
	fj := &fakeJobs{records: map[string]*jobs.Record{}}

	h := NewHandler(Options{
		Jobs:        fj,
		Files:       ws,
		Parser:      parser,
		MaxFileSize: maxSize,
		Logger:      zerolog.Nop(),
	})
	router := gin.New()
	router.GET("/health", Health)
	h.Register(router.Group("/api"))
	return &testServer{router: router, jobs: fj, workspace: ws}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func multipartRequest(t *testing.T, path string, fields map[string]string, filename string, content []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	if filename != "" {
		part, err := writer.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload
}

func TestSubmitJobAccepted(t *testing.T) {
	s := newTestServer(t, nil, 1<<20)
	req := multipartRequest(t, "/api/jobs", map[string]string{
		"type":             string(convert.CompressImage),
		"compressionLevel": "high",
	}, "photo.png", []byte("not really a png"))

	rec := s.do(req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	payload := decodeBody(t, rec)
	assert.Equal(t, "job-1", payload["jobId"])
	assert.Equal(t, "queued", payload["status"])

	require.Len(t, s.jobs.submitted, 1)
	job := s.jobs.submitted[0]
	assert.Equal(t, convert.CompressImage, job.Type)
	assert.Equal(t, "photo.png", job.OriginalName)
	assert.Equal(t, "high", job.Options.CompressionLevel)

	path, err := s.workspace.InputPath(job.InputRef)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "not really a png", string(data))
}

func TestSubmitJobRejectsUnknownType(t *testing.T) {
	s := newTestServer(t, nil, 1<<20)
	req := multipartRequest(t, "/api/jobs", map[string]string{"type": "TranscodeHologram"}, "a.bin", []byte("x"))

	rec := s.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_JOB_TYPE", decodeBody(t, rec)["code"])
	assert.Empty(t, s.jobs.submitted)
}

func TestSubmitJobRequiresFile(t *testing.T) {
	s := newTestServer(t, nil, 1<<20)
	req := multipartRequest(t, "/api/jobs", map[string]string{"type": string(convert.CompressImage)}, "", nil)

	rec := s.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", decodeBody(t, rec)["code"])
}

func TestSubmitJobRejectsOversizedFile(t *testing.T) {
	s := newTestServer(t, nil, 8)
	req := multipartRequest(t, "/api/jobs", map[string]string{"type": string(convert.CompressImage)}, "big.png", bytes.Repeat([]byte("a"), 64))

	rec := s.do(req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "LIMIT_EXCEEDED", decodeBody(t, rec)["code"])
	assert.Empty(t, s.jobs.submitted)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func TestSubmitJobStopsReadingOversizedBody(t *testing.T) {
	s := newTestServer(t, nil, 8)
	base := multipartRequest(t, "/api/jobs", map[string]string{"type": string(convert.CompressImage)}, "big.png", bytes.Repeat([]byte("a"), 8<<20))

	body := &countingReader{r: base.Body}
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", body)
	req.Header.Set("Content-Type", base.Header.Get("Content-Type"))
	req.ContentLength = -1

	rec := s.do(req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "LIMIT_EXCEEDED", decodeBody(t, rec)["code"])
	assert.LessOrEqual(t, body.n, int64(8+formOverhead+1))
	assert.Empty(t, s.jobs.submitted)
}

func TestSubmitJobRejectsDeclaredOversizedBody(t *testing.T) {
	s := newTestServer(t, nil, 8)
	req := multipartRequest(t, "/api/jobs", map[string]string{"type": string(convert.CompressImage)}, "big.png", bytes.Repeat([]byte("a"), 2<<20))

	rec := s.do(req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "LIMIT_EXCEEDED", decodeBody(t, rec)["code"])
}

func TestSubmitJobReleasesUploadOnFailure(t *testing.T) {
	s := newTestServer(t, nil, 1<<20)
	s.jobs.submitErr = errors.New("redis down")
	req := multipartRequest(t, "/api/jobs", map[string]string{"type": string(convert.CompressImage)}, "a.png", []byte("x"))

	rec := s.do(req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	entries, err := os.ReadDir(s.workspace.Root() + "/uploads")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestJobStatus(t *testing.T) {
	s := newTestServer(t, nil, 1<<20)
	s.jobs.records["j1"] = &jobs.Record{JobID: "j1", Status: jobs.StatusActive, Progress: jobs.ProgressInfo{Percent: 40}}

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/jobs/j1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decodeBody(t, rec)
	assert.Equal(t, "active", payload["status"])

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/jobs/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "JOB_NOT_FOUND", decodeBody(t, rec)["code"])
}

func TestDownloadResult(t *testing.T) {
	s := newTestServer(t, nil, 1<<20)
	ref, path, err := s.workspace.NewOutput("報告書.pdf", "txt")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("hello text"), 0o644))

	s.jobs.records["done"] = &jobs.Record{
		JobID:        "done",
		OriginalName: "報告書.pdf",
		Status:       jobs.StatusCompleted,
		Outcome: &convert.Outcome{
			Status:    convert.OutcomeCompleted,
			OutputRef: ref,
			TierUsed:  convert.TierLocalTextExtraction,
		},
	}
	s.jobs.records["pending"] = &jobs.Record{JobID: "pending", Status: jobs.StatusQueued}

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/jobs/done/download", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello text", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "filename*=UTF-8''")
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "done", rec.Header().Get("X-Job-Id"))
	assert.Equal(t, string(convert.TierLocalTextExtraction), rec.Header().Get("X-Tier-Used"))

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/jobs/pending/download", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "JOB_NOT_READY", decodeBody(t, rec)["code"])
}

func TestLayoutPreview(t *testing.T) {
	parser := fakeParser{pages: [][]layout.Fragment{{
		{Text: "B", X: 50, Y: 700},
		{Text: "A", X: 10, Y: 700.05},
		{Text: "C", X: 10, Y: 650},
	}}}
	s := newTestServer(t, parser, 1<<20)

	rec := s.do(multipartRequest(t, "/api/layout", nil, "doc.pdf", []byte("%PDF-1.4")))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp layoutResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.PageCount)
	assert.Equal(t, 2, resp.LineCount)
	require.Len(t, resp.Pages, 1)
	assert.Equal(t, []string{"A B", "C"}, resp.Pages[0].Lines)

	entries, err := os.ReadDir(s.workspace.Root() + "/uploads")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLayoutPreviewParseError(t *testing.T) {
	s := newTestServer(t, fakeParser{err: errors.New("bad xref")}, 1<<20)

	rec := s.do(multipartRequest(t, "/api/layout", nil, "doc.pdf", []byte("junk")))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "INVALID_PDF", decodeBody(t, rec)["code"])
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil, 0)
	rec := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}
