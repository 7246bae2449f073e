package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/yourusername/convert-forge/internal/layout"
	"github.com/yourusername/convert-forge/internal/profile"
	"github.com/yourusername/convert-forge/internal/transform"
)

// Parser は文書をページごとの座標付き断片へ分解するコラボレーターです。
type Parser interface {
	Parse(ctx context.Context, path string) ([][]layout.Fragment, error)
}

// transformTier は Transformer を1回呼び出すだけの汎用ティアです。
type transformTier struct {
	name        TierName
	files       Files
	transformer transform.Transformer
	accept      []string
	outputExt   func(job Job, detected *mimetype.MIME) string
	kind        profile.Kind
	profiles    *profile.Resolver
}

func (t *transformTier) Name() TierName {
	return t.name
}

func (t *transformTier) Run(ctx context.Context, job Job) (*Artifact, error) {
	if !transform.IsConfigured(t.transformer) {
		return nil, Failf(ServiceUnavailable, "%s is not configured", t.name)
	}
	input, detected, err := openInput(t.files, job, t.accept)
	if err != nil {
		return nil, err
	}

	ext := t.outputExt(job, detected)
	params := transform.Params{
		From: sourceFormat(job, detected),
		To:   ext,
	}
	meta := map[string]any{"inputMime": detected.String()}
	if t.kind != "" {
		p, err := t.profiles.Resolve(t.kind, job.Options.CompressionLevel)
		if err != nil {
			return nil, Fail(ServiceUnavailable, err)
		}
		params.Profile = &p
		meta["profile"] = p
	}

	ref, output, err := t.files.NewOutput(job.OriginalName, ext)
	if err != nil {
		return nil, Fail(ServiceUnavailable, err)
	}
	params.OutputPath = output

	if _, err := t.transformer.Transform(ctx, input, params); err != nil {
		_ = os.Remove(output)
		return nil, err
	}
	if ext == "pdf" {
		if pages, err := transform.PageCount(output); err == nil {
			meta["pages"] = pages
		}
	}
	return &Artifact{OutputRef: ref, Meta: meta}, nil
}

// textExtractionTier はローカルで断片を取り出し、読み順に再構成したテキストを書き出します。
type textExtractionTier struct {
	files         Files
	parser        Parser
	reconstructor layout.Reconstructor
}

func (t *textExtractionTier) Name() TierName {
	return TierLocalTextExtraction
}

func (t *textExtractionTier) Run(ctx context.Context, job Job) (*Artifact, error) {
	if t.parser == nil {
		return nil, Failf(ServiceUnavailable, "no document parser available")
	}
	input, detected, err := openInput(t.files, job, []string{"application/pdf"})
	if err != nil {
		return nil, err
	}

	pages, err := t.parser.Parse(ctx, input)
	if err != nil {
		if ctx.Err() != nil {
			return nil, Fail(Timeout, err)
		}
		return nil, Fail(MalformedInput, err)
	}

	doc := t.reconstructor.Reconstruct(pages)
	text := layout.Flatten(doc)
	if strings.TrimSpace(text) == "" {
		return nil, Failf(MalformedInput, "document contains no extractable text")
	}

	ref, output, err := t.files.NewOutput(job.OriginalName, "txt")
	if err != nil {
		return nil, Fail(ServiceUnavailable, err)
	}
	if err := os.WriteFile(output, []byte(text+"\n"), 0o640); err != nil {
		_ = os.Remove(output)
		return nil, Fail(ServiceUnavailable, err)
	}
	return &Artifact{
		OutputRef: ref,
		Meta: map[string]any{
			"inputMime": detected.String(),
			"pages":     len(doc.Pages),
			"lines":     doc.LineCount(),
		},
	}, nil
}

// rawCopyTier は変換せずに入力をそのまま成果物としてコピーします。
type rawCopyTier struct {
	files Files
}

func (t *rawCopyTier) Name() TierName {
	return TierRawCopy
}

func (t *rawCopyTier) Run(ctx context.Context, job Job) (*Artifact, error) {
	input, detected, err := openInput(t.files, job, nil)
	if err != nil {
		return nil, err
	}
	ref, output, err := t.files.NewOutput(job.OriginalName, sourceFormat(job, detected))
	if err != nil {
		return nil, Fail(ServiceUnavailable, err)
	}
	if err := copyFile(ctx, input, output); err != nil {
		_ = os.Remove(output)
		if ctx.Err() != nil {
			return nil, Fail(Timeout, err)
		}
		return nil, Fail(ServiceUnavailable, err)
	}
	return &Artifact{
		OutputRef: ref,
		Meta: map[string]any{
			"inputMime":  detected.String(),
			"compressed": false,
		},
	}, nil
}

// openInput は入力パスを解決し、内容から MIME を判定します。
// accept が空でなければ、いずれかの接頭辞に一致しない入力は MalformedInput です。
func openInput(files Files, job Job, accept []string) (string, *mimetype.MIME, error) {
	path, err := files.InputPath(job.InputRef)
	if err != nil {
		return "", nil, Fail(MalformedInput, err)
	}
	detected, err := mimetype.DetectFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil, Failf(MalformedInput, "input %s does not exist", job.InputRef)
		}
		return "", nil, Fail(MalformedInput, err)
	}
	if len(accept) == 0 {
		return path, detected, nil
	}
	for _, prefix := range accept {
		if strings.HasPrefix(detected.String(), prefix) {
			return path, detected, nil
		}
	}
	return "", nil, Failf(MalformedInput, "unexpected input type %s", detected.String())
}

// sourceFormat は入力形式の拡張子（ドットなし）を返します。
func sourceFormat(job Job, detected *mimetype.MIME) string {
	if detected != nil {
		if ext := strings.TrimPrefix(detected.Extension(), "."); ext != "" {
			return ext
		}
	}
	if ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(job.OriginalName)), "."); ext != "" {
		return ext
	}
	return "bin"
}

func fixedExt(ext string) func(Job, *mimetype.MIME) string {
	return func(Job, *mimetype.MIME) string { return ext }
}

// imageOutputExt は imaging で書き出せる形式ならそのまま、それ以外は jpg にします。
func imageOutputExt(job Job, detected *mimetype.MIME) string {
	switch ext := sourceFormat(job, detected); ext {
	case "jpg", "jpeg", "png", "gif", "tif", "tiff", "bmp":
		return ext
	default:
		return "jpg"
	}
}

func copyFile(ctx context.Context, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, &ctxReader{ctx: ctx, r: in}); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", filepath.Base(src), err)
	}
	return out.Close()
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// preferConfigured は設定済みの最初の Transformer に委譲します。
type preferConfigured []transform.Transformer

func (p preferConfigured) pick() transform.Transformer {
	for _, t := range p {
		if t != nil && transform.IsConfigured(t) {
			return t
		}
	}
	return nil
}

func (p preferConfigured) Configured() bool {
	return p.pick() != nil
}

func (p preferConfigured) Transform(ctx context.Context, inputPath string, params transform.Params) (string, error) {
	t := p.pick()
	if t == nil {
		return "", &transform.Error{Reason: transform.Unconfigured, Message: "no transformer configured"}
	}
	return t.Transform(ctx, inputPath, params)
}
