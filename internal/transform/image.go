package transform

import (
	"context"
	"image/png"

	"github.com/disintegration/imaging"
	// WebP 入力のデコーダーを image パッケージへ登録する
	_ "golang.org/x/image/webp"
)

// ImageCompressor は imaging で画像を縮小・再エンコードします。常に利用可能なローカル変換です。
type ImageCompressor struct{}

// Transform はプロファイルの最大サイズに収まるよう縮小し、出力パスの拡張子の形式で保存します。
func (ImageCompressor) Transform(ctx context.Context, inputPath string, params Params) (string, error) {
	p := params.Profile
	if p == nil {
		return "", newError(InvalidInput, "image compression requires a profile", nil)
	}

	img, err := imaging.Open(inputPath, imaging.AutoOrientation(true))
	if err != nil {
		return "", newError(InvalidInput, "failed to decode image", err)
	}
	if err := ctx.Err(); err != nil {
		return "", newError(Timeout, "image compression canceled", err)
	}

	if p.MaxWidth > 0 && p.MaxHeight > 0 {
		// Fit は上限より小さい画像を拡大しない
		img = imaging.Fit(img, p.MaxWidth, p.MaxHeight, imaging.Lanczos)
	}

	if _, err := imaging.FormatFromFilename(params.OutputPath); err != nil {
		return "", newError(InvalidInput, "unsupported output format", err)
	}

	err = imaging.Save(img, params.OutputPath,
		imaging.JPEGQuality(p.Quality),
		imaging.PNGCompressionLevel(png.BestCompression),
	)
	if err != nil {
		return "", newError(Unknown, "failed to encode image", err)
	}
	return params.OutputPath, nil
}
