package transform

import (
	"context"
	"fmt"
	"strings"
)

// Ghostscript は Ghostscript を利用してPDFを圧縮します。
type Ghostscript struct {
	Path string
}

// NewGhostscript は Ghostscript を作成します。path が空の場合は PATH 上の gs を使います。
func NewGhostscript(path string) *Ghostscript {
	if strings.TrimSpace(path) == "" {
		path = "gs"
	}
	return &Ghostscript{Path: path}
}

// Transform はプロファイルのプリセットと解像度でPDFを書き直します。
func (g *Ghostscript) Transform(ctx context.Context, inputPath string, params Params) (string, error) {
	if params.OutputPath == "" {
		return "", newError(InvalidInput, "output path is required", nil)
	}
	if err := runTool(ctx, g.Path, ghostscriptArgs(params.OutputPath, inputPath, params)...); err != nil {
		return "", err
	}
	return params.OutputPath, nil
}

func ghostscriptArgs(outputPath, inputPath string, params Params) []string {
	setting := "/ebook"
	resolution := 0
	if p := params.Profile; p != nil {
		if p.Preset != "" {
			setting = "/" + strings.TrimPrefix(p.Preset, "/")
		}
		resolution = p.Quality
	}

	args := []string{
		"-sDEVICE=pdfwrite",
		"-dCompatibilityLevel=1.5",
		"-dNOPAUSE",
		"-dQUIET",
		"-dBATCH",
		fmt.Sprintf("-dPDFSETTINGS=%s", setting),
	}
	if resolution > 0 {
		args = append(args,
			"-dDownsampleColorImages=true",
			"-dDownsampleGrayImages=true",
			fmt.Sprintf("-dColorImageResolution=%d", resolution),
			fmt.Sprintf("-dGrayImageResolution=%d", resolution),
			fmt.Sprintf("-dMonoImageResolution=%d", resolution),
		)
	}
	return append(args, fmt.Sprintf("-sOutputFile=%s", outputPath), inputPath)
}
