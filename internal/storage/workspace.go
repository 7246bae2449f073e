// Package storage はジョブの入出力ファイルの置き場所を管理します。
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	uploadsDir = "uploads"
	outputsDir = "outputs"
	reportsDir = "reports"

	stampLayout = "20060102T150405"
)

var (
	// ErrInvalidRef はワークスペース外を指す参照や未知の領域への参照です。
	ErrInvalidRef = errors.New("invalid storage reference")
	// ErrTooLarge はアップロードが上限サイズを超えた場合に返されます。
	ErrTooLarge = errors.New("upload exceeds size limit")
)

// Workspace は STORAGE_DIR 配下の uploads/outputs/reports を扱います。
// 参照（ref）は "outputs/<name>" のようなスラッシュ区切りの相対パスです。
type Workspace struct {
	root string
	now  func() time.Time
}

// NewWorkspace は Workspace を作成します。ディレクトリは Provision で作られます。
func NewWorkspace(root string) *Workspace {
	return &Workspace{root: filepath.Clean(root), now: time.Now}
}

// Root はワークスペースのルートディレクトリです。
func (w *Workspace) Root() string {
	return w.root
}

// Provision は必要なディレクトリを作成します。何度呼んでも同じ結果になります。
func (w *Workspace) Provision() error {
	for _, dir := range []string{uploadsDir, outputsDir, reportsDir} {
		if err := os.MkdirAll(filepath.Join(w.root, dir), 0o750); err != nil {
			return fmt.Errorf("failed to create %s directory: %w", dir, err)
		}
	}
	return nil
}

// SaveUpload は r の内容を uploads に保存し、参照とサイズを返します。
// limit が正の値で、内容がそれを超えた場合は ErrTooLarge を返し、書きかけのファイルは削除します。
func (w *Workspace) SaveUpload(ctx context.Context, originalName string, r io.Reader, limit int64) (string, int64, error) {
	ref, dst := w.allocate(uploadsDir, originalName, extOf(originalName), "")

	file, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create upload file: %w", err)
	}

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	size, copyErr := io.Copy(file, &contextReader{ctx: ctx, r: src})
	closeErr := file.Close()

	switch {
	case copyErr != nil:
		_ = os.Remove(dst)
		return "", 0, fmt.Errorf("failed to store upload: %w", copyErr)
	case closeErr != nil:
		_ = os.Remove(dst)
		return "", 0, fmt.Errorf("failed to store upload: %w", closeErr)
	case limit > 0 && size > limit:
		_ = os.Remove(dst)
		return "", 0, ErrTooLarge
	}
	return ref, size, nil
}

// InputPath はアップロード参照を絶対パスへ解決します。
func (w *Workspace) InputPath(ref string) (string, error) {
	return w.resolve(ref, uploadsDir)
}

// NewOutput は成果物用の一意なパスを払い出します。
// 名前は時刻とUUIDで修飾されるため、同じジョブの再実行でも以前の出力と衝突しません。
func (w *Workspace) NewOutput(originalName, ext string) (string, string, error) {
	ref, p := w.allocate(outputsDir, originalName, ext, "")
	return ref, p, nil
}

// NewReport は診断レポート用の一意なパスを払い出します。
func (w *Workspace) NewReport(originalName string) (string, string, error) {
	ref, p := w.allocate(reportsDir, originalName, "txt", "-error-report")
	return ref, p, nil
}

// Open は成果物または診断レポートを開きます。
func (w *Workspace) Open(ref string) (*os.File, os.FileInfo, error) {
	p, err := w.resolve(ref, outputsDir, reportsDir)
	if err != nil {
		return nil, nil, err
	}
	file, err := os.Open(p)
	if err != nil {
		return nil, nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, err
	}
	return file, info, nil
}

// Path は成果物または診断レポートの絶対パスを返します。
func (w *Workspace) Path(ref string) (string, error) {
	return w.resolve(ref, outputsDir, reportsDir)
}

// Release はアップロードされた入力を削除します。既に無い場合は何もしません。
func (w *Workspace) Release(ref string) error {
	p, err := w.InputPath(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to release input: %w", err)
	}
	return nil
}

func (w *Workspace) allocate(area, originalName, ext, suffix string) (string, string) {
	name := fmt.Sprintf("%s-%s", w.now().UTC().Format(stampLayout), uuid.NewString())
	if base := baseName(originalName); base != "" {
		name += "-" + base
	}
	name += suffix
	if ext = strings.TrimPrefix(ext, "."); ext != "" {
		name += "." + ext
	}
	ref := path.Join(area, name)
	return ref, filepath.Join(w.root, area, name)
}

func (w *Workspace) resolve(ref string, areas ...string) (string, error) {
	clean := path.Clean(strings.TrimSpace(ref))
	if clean == "." || path.IsAbs(clean) || strings.HasPrefix(clean, "../") || clean == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	area, name, ok := strings.Cut(clean, "/")
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	for _, a := range areas {
		if a == area {
			return filepath.Join(w.root, area, name), nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
}

// DownloadName は元ファイル名の拡張子を成果物の拡張子に差し替えた名前を返します。
func DownloadName(originalName, ref string) string {
	base := strings.TrimSuffix(filepath.Base(originalName), filepath.Ext(originalName))
	if base == "" || base == "." {
		base = "output"
	}
	if strings.HasPrefix(ref, reportsDir+"/") {
		base += "-error-report"
	}
	return base + path.Ext(ref)
}

// baseName はファイル名から拡張子を除き、パスに使えない文字を置き換えます。
func baseName(originalName string) string {
	base := filepath.Base(strings.ReplaceAll(originalName, "\\", "/"))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "." || base == "/" {
		return ""
	}
	var b strings.Builder
	for _, r := range base {
		switch {
		case r == '/' || r == '\\' || r == ':' || r < 0x20:
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := []rune(b.String())
	if len(out) > 60 {
		out = out[:60]
	}
	return strings.Trim(string(out), ". ")
}

func extOf(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
