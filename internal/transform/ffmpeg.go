package transform

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// FFmpeg は ffmpeg で動画を H.264/AAC に再エンコードして圧縮します。
type FFmpeg struct {
	Path string
}

// NewFFmpeg は FFmpeg を作成します。path が空の場合は PATH 上の ffmpeg を使います。
func NewFFmpeg(path string) *FFmpeg {
	if strings.TrimSpace(path) == "" {
		path = "ffmpeg"
	}
	return &FFmpeg{Path: path}
}

// Transform は Transformer を実装します。プロファイルは必須です。
func (f *FFmpeg) Transform(ctx context.Context, inputPath string, params Params) (string, error) {
	if params.Profile == nil {
		return "", newError(InvalidInput, "video compression requires a profile", nil)
	}
	if params.OutputPath == "" {
		return "", newError(InvalidInput, "output path is required", nil)
	}
	if err := runTool(ctx, f.Path, ffmpegArgs(inputPath, params)...); err != nil {
		return "", err
	}
	return params.OutputPath, nil
}

func ffmpegArgs(inputPath string, params Params) []string {
	p := params.Profile
	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-i", inputPath}

	if p.MaxWidth > 0 && p.MaxHeight > 0 {
		// 縦横比を保ったまま上限内に収め、libx264 のために偶数サイズへ丸める
		scale := fmt.Sprintf(
			"scale='min(%d,iw)':'min(%d,ih)':force_original_aspect_ratio=decrease,scale=trunc(iw/2)*2:trunc(ih/2)*2",
			p.MaxWidth, p.MaxHeight,
		)
		args = append(args, "-vf", scale)
	}

	args = append(args, "-c:v", "libx264")
	if p.Preset != "" {
		args = append(args, "-preset", p.Preset)
	}
	if p.Quality > 0 {
		args = append(args, "-crf", strconv.Itoa(p.Quality))
	}
	if p.Bitrate != "" {
		args = append(args, "-maxrate", p.Bitrate, "-bufsize", p.Bitrate)
	}
	return append(args,
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		params.OutputPath,
	)
}
