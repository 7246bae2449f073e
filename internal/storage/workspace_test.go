package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorkspace(t *testing.T) *Workspace {
	t.Helper()
	ws := NewWorkspace(filepath.Join(t.TempDir(), "data"))
	require.NoError(t, ws.Provision())
	return ws
}

func TestProvisionIsIdempotent(t *testing.T) {
	ws := newWorkspace(t)
	require.NoError(t, ws.Provision())

	for _, dir := range []string{"uploads", "outputs", "reports"} {
		info, err := os.Stat(filepath.Join(ws.Root(), dir))
		require.NoError(t, err)
		assert.True(t, info.IsDir(), dir)
	}
}

func TestSaveUploadAndRelease(t *testing.T) {
	ws := newWorkspace(t)

	ref, size, err := ws.SaveUpload(context.Background(), "請求書.PDF", strings.NewReader("%PDF-1.4"), 1024)
	require.NoError(t, err)
	assert.EqualValues(t, 8, size)
	assert.True(t, strings.HasPrefix(ref, "uploads/"))
	assert.True(t, strings.HasSuffix(ref, "-請求書.pdf"))

	p, err := ws.InputPath(ref)
	require.NoError(t, err)
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))

	require.NoError(t, ws.Release(ref))
	_, err = os.Stat(p)
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, ws.Release(ref), "release must tolerate a missing file")
}

func TestSaveUploadRejectsOversize(t *testing.T) {
	ws := newWorkspace(t)

	_, _, err := ws.SaveUpload(context.Background(), "big.bin", strings.NewReader("0123456789"), 5)
	require.ErrorIs(t, err, ErrTooLarge)

	entries, err := os.ReadDir(filepath.Join(ws.Root(), "uploads"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestNewOutputNamesAreUnique(t *testing.T) {
	ws := newWorkspace(t)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		ref, p, err := ws.NewOutput("movie.mov", "mp4")
		require.NoError(t, err)
		assert.False(t, seen[ref], "duplicate ref %s", ref)
		seen[ref] = true
		assert.Equal(t, filepath.Join(ws.Root(), filepath.FromSlash(ref)), p)
		assert.True(t, strings.HasSuffix(ref, "-movie.mp4"))
	}
}

func TestOpenOutputAndReport(t *testing.T) {
	ws := newWorkspace(t)

	ref, p, err := ws.NewReport("scan.pdf")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "reports/"))
	require.NoError(t, os.WriteFile(p, []byte("report"), 0o640))

	file, info, err := ws.Open(ref)
	require.NoError(t, err)
	defer file.Close()
	assert.EqualValues(t, 6, info.Size())
	assert.Equal(t, "scan-error-report.txt", DownloadName("scan.pdf", ref))
}

func TestResolveRejectsEscapes(t *testing.T) {
	ws := newWorkspace(t)
	for _, ref := range []string{"", "../etc/passwd", "/etc/passwd", "uploads/../../x", "outputs/a/b", "secrets/x", "uploads"} {
		_, err := ws.InputPath(ref)
		assert.ErrorIs(t, err, ErrInvalidRef, ref)
	}
	_, _, err := ws.Open("uploads/whatever")
	assert.ErrorIs(t, err, ErrInvalidRef)
}

func TestDownloadName(t *testing.T) {
	assert.Equal(t, "report.txt", DownloadName("report.pdf", "outputs/20260101T000000-id-report.txt"))
	assert.Equal(t, "output.pdf", DownloadName("", "outputs/x.pdf"))
}

func TestS3ConfigEnabled(t *testing.T) {
	assert.False(t, S3Config{}.Enabled())
	assert.True(t, S3Config{Bucket: "artifacts"}.Enabled())

	_, err := NewS3Store(context.Background(), S3Config{})
	assert.Error(t, err)
}

func TestS3StoreKeys(t *testing.T) {
	s := &S3Store{publicURL: "https://cdn.example.com", prefix: "convert"}
	assert.Equal(t, "convert/outputs/a.pdf", s.objectKey("/outputs/a.pdf"))
	assert.Equal(t, "https://cdn.example.com/convert/outputs/a.pdf", s.PublicURL("outputs/a.pdf"))

	bare := &S3Store{}
	assert.Equal(t, "", bare.PublicURL("outputs/a.pdf"))
}
