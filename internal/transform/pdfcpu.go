package transform

import (
	"context"
	"errors"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
)

// PDFOptimizer は pdfcpu の最適化（重複リソースの除去など）でPDFを軽量化します。
// Ghostscript が使えない環境での代替手段です。
type PDFOptimizer struct{}

// Transform は Transformer を実装します。
func (PDFOptimizer) Transform(ctx context.Context, inputPath string, params Params) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", newError(Timeout, "optimize canceled", err)
	}
	if err := pdfapi.OptimizeFile(inputPath, params.OutputPath, nil); err != nil {
		return "", newError(InvalidInput, "pdfcpu optimize failed", err)
	}
	return params.OutputPath, nil
}

// DocCompressor は Ghostscript を優先し、未インストールの場合は pdfcpu で最適化します。
type DocCompressor struct {
	Ghostscript *Ghostscript
	Fallback    Transformer
}

// Transform は Transformer を実装します。
func (d *DocCompressor) Transform(ctx context.Context, inputPath string, params Params) (string, error) {
	if d.Ghostscript == nil {
		return d.fallback(ctx, inputPath, params, nil)
	}
	ref, err := d.Ghostscript.Transform(ctx, inputPath, params)
	if err == nil {
		return ref, nil
	}
	if ReasonOf(err) == Unconfigured {
		return d.fallback(ctx, inputPath, params, err)
	}
	return "", err
}

func (d *DocCompressor) fallback(ctx context.Context, inputPath string, params Params, cause error) (string, error) {
	if d.Fallback == nil {
		if cause == nil {
			cause = errors.New("no document compressor available")
		}
		return "", newError(Unconfigured, "no document compressor available", cause)
	}
	return d.Fallback.Transform(ctx, inputPath, params)
}

// ImagesToPDF は pdfcpu で画像を1ページ1枚のPDFへ取り込みます。
type ImagesToPDF struct{}

// Transform は Transformer を実装します。
func (ImagesToPDF) Transform(ctx context.Context, inputPath string, params Params) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", newError(Timeout, "import canceled", err)
	}
	if err := pdfapi.ImportImagesFile([]string{inputPath}, params.OutputPath, pdfcpu.DefaultImportConfig(), nil); err != nil {
		return "", newError(InvalidInput, "pdfcpu image import failed", err)
	}
	return params.OutputPath, nil
}

// PageCount はPDFのページ数を返します。
func PageCount(path string) (int, error) {
	n, err := pdfapi.PageCountFile(path)
	if err != nil {
		return 0, newError(InvalidInput, "failed to read PDF", err)
	}
	return n, nil
}
