package transform

import (
	"context"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/convert-forge/internal/profile"
)

func mustProfile(t *testing.T, kind profile.Kind, level string) *profile.Profile {
	t.Helper()
	p, err := profile.NewResolver().Resolve(kind, level)
	require.NoError(t, err)
	return &p
}

func TestGhostscriptArgs(t *testing.T) {
	p := mustProfile(t, profile.KindDocument, "high")
	args := ghostscriptArgs("out.pdf", "in.pdf", Params{Profile: p})

	assert.Contains(t, args, "-sDEVICE=pdfwrite")
	assert.Contains(t, args, "-dPDFSETTINGS=/screen")
	assert.Contains(t, args, "-dColorImageResolution=72")
	assert.Equal(t, "-sOutputFile=out.pdf", args[len(args)-2])
	assert.Equal(t, "in.pdf", args[len(args)-1])
}

func TestGhostscriptArgsWithoutProfile(t *testing.T) {
	args := ghostscriptArgs("out.pdf", "in.pdf", Params{})
	assert.Contains(t, args, "-dPDFSETTINGS=/ebook")
	for _, a := range args {
		assert.NotContains(t, a, "ImageResolution")
	}
}

func TestFFmpegArgs(t *testing.T) {
	p := mustProfile(t, profile.KindVideo, "low")
	args := ffmpegArgs("in.mp4", Params{Profile: p, OutputPath: "out.mp4"})

	assert.Equal(t, []string{"-y", "-hide_banner", "-loglevel", "error", "-i", "in.mp4"}, args[:6])
	assert.Contains(t, args, "libx264")
	assert.Contains(t, args, "slow")
	assert.Contains(t, args, "23")
	assert.Contains(t, args, "2500k")
	assert.Equal(t, "out.mp4", args[len(args)-1])
}

func TestFFmpegRequiresProfile(t *testing.T) {
	_, err := NewFFmpeg("").Transform(context.Background(), "in.mp4", Params{OutputPath: "out.mp4"})
	require.Error(t, err)
	assert.Equal(t, InvalidInput, ReasonOf(err))
}

func TestRunToolMissingBinaryIsUnconfigured(t *testing.T) {
	err := runTool(context.Background(), filepath.Join(t.TempDir(), "no-such-tool"))
	require.Error(t, err)
	assert.Equal(t, Unconfigured, ReasonOf(err))
}

type recordingTransformer struct {
	called bool
}

func (r *recordingTransformer) Transform(ctx context.Context, inputPath string, params Params) (string, error) {
	r.called = true
	return params.OutputPath, nil
}

func TestDocCompressorFallsBackWhenGhostscriptMissing(t *testing.T) {
	fallback := &recordingTransformer{}
	d := &DocCompressor{
		Ghostscript: NewGhostscript(filepath.Join(t.TempDir(), "gs")),
		Fallback:    fallback,
	}

	ref, err := d.Transform(context.Background(), "in.pdf", Params{OutputPath: "out.pdf"})
	require.NoError(t, err)
	assert.Equal(t, "out.pdf", ref)
	assert.True(t, fallback.called)
}

func TestDocCompressorWithoutAnyCompressor(t *testing.T) {
	_, err := (&DocCompressor{}).Transform(context.Background(), "in.pdf", Params{OutputPath: "out.pdf"})
	require.Error(t, err)
	assert.Equal(t, Unconfigured, ReasonOf(err))
}

func TestImageCompressorShrinksToProfile(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "photo.png")
	src := imaging.New(4000, 2000, color.NRGBA{R: 200, G: 100, B: 50, A: 255})
	require.NoError(t, imaging.Save(src, input))

	p := mustProfile(t, profile.KindImage, "high")
	output := filepath.Join(dir, "photo-small.jpg")
	ref, err := ImageCompressor{}.Transform(context.Background(), input, Params{Profile: p, OutputPath: output})
	require.NoError(t, err)
	assert.Equal(t, output, ref)

	img, err := imaging.Open(output)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(1280, 640), img.Bounds().Size())
}

func TestImageCompressorRejectsGarbage(t *testing.T) {
	input := writeInput(t, "broken.png", "not an image")
	p := mustProfile(t, profile.KindImage, "medium")

	_, err := ImageCompressor{}.Transform(context.Background(), input, Params{Profile: p, OutputPath: filepath.Join(t.TempDir(), "o.png")})
	require.Error(t, err)
	assert.Equal(t, InvalidInput, ReasonOf(err))
}

func TestImagesToPDFImportsOnePage(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "scan.png")
	require.NoError(t, imaging.Save(imaging.New(300, 200, color.NRGBA{G: 255, A: 255}), input))

	output := filepath.Join(dir, "scan.pdf")
	ref, err := ImagesToPDF{}.Transform(context.Background(), input, Params{OutputPath: output})
	require.NoError(t, err)
	assert.Equal(t, output, ref)

	pages, err := PageCount(output)
	require.NoError(t, err)
	assert.Equal(t, 1, pages)
}

func TestImagesToPDFRejectsGarbage(t *testing.T) {
	input := writeInput(t, "broken.png", "not an image")

	_, err := ImagesToPDF{}.Transform(context.Background(), input, Params{OutputPath: filepath.Join(t.TempDir(), "o.pdf")})
	require.Error(t, err)
	assert.Equal(t, InvalidInput, ReasonOf(err))
}
