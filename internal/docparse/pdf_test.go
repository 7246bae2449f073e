package docparse

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ledongthuc/pdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func glyphs(font string, size, x, y float64, s string) []pdf.Text {
	out := make([]pdf.Text, 0, len(s))
	for _, r := range s {
		out = append(out, pdf.Text{Font: font, FontSize: size, X: x, Y: y, W: size / 2, S: string(r)})
		x += size / 2
	}
	return out
}

func TestMergeRunsJoinsAdjacentGlyphs(t *testing.T) {
	var in []pdf.Text
	in = append(in, glyphs("Helvetica", 10, 100, 700, "Hello")...)
	in = append(in, pdf.Text{Font: "Helvetica", FontSize: 10, X: 125, Y: 700, W: 3, S: " "})
	in = append(in, glyphs("Helvetica", 10, 128, 700, "world")...)

	frags := mergeRuns(in)
	require.Len(t, frags, 2)
	assert.Equal(t, "Hello", frags[0].Text)
	assert.Equal(t, 100.0, frags[0].X)
	assert.Equal(t, 700.0, frags[0].Y)
	assert.Equal(t, "world", frags[1].Text)
	assert.Equal(t, 128.0, frags[1].X)
}

func TestMergeRunsSplitsOnLineFontAndGap(t *testing.T) {
	var in []pdf.Text
	in = append(in, glyphs("Helvetica", 10, 100, 700, "ab")...)
	in = append(in, glyphs("Helvetica", 10, 110, 680, "cd")...)
	in = append(in, glyphs("Helvetica-Bold", 10, 120, 680, "ef")...)
	in = append(in, glyphs("Helvetica-Bold", 10, 300, 680, "gh")...)

	frags := mergeRuns(in)
	texts := make([]string, len(frags))
	for i, f := range frags {
		texts[i] = f.Text
	}
	assert.Equal(t, []string{"ab", "cd", "ef", "gh"}, texts)
	assert.True(t, frags[2].Bold)
	assert.Equal(t, "Helvetica", frags[2].FontFamily)
}

func TestMergeRunsEmpty(t *testing.T) {
	frags := mergeRuns(nil)
	assert.NotNil(t, frags)
	assert.Empty(t, frags)
}

func TestParseFont(t *testing.T) {
	tests := []struct {
		name   string
		family string
		bold   bool
		italic bool
	}{
		{"ABCDEF+TimesNewRoman,BoldItalic", "TimesNewRoman", true, true},
		{"Helvetica-Oblique", "Helvetica", false, true},
		{"Courier", "Courier", false, false},
		{"NotoSansJP-Black", "NotoSansJP", true, false},
	}
	for _, tt := range tests {
		family, bold, italic := parseFont(tt.name)
		assert.Equal(t, tt.family, family, tt.name)
		assert.Equal(t, tt.bold, bold, tt.name)
		assert.Equal(t, tt.italic, italic, tt.name)
	}
}

func TestParseRejectsNonPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.pdf")
	require.NoError(t, os.WriteFile(path, []byte("plain text"), 0o640))

	_, err := NewParser().Parse(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParse)
}

func TestParseRecoversPanicWhileOpening(t *testing.T) {
	p := &Parser{open: func(string) (*os.File, *pdf.Reader, error) {
		panic("malformed xref")
	}}

	pages, err := p.Parse(context.Background(), "broken.pdf")
	assert.Nil(t, pages)
	require.ErrorIs(t, err, ErrParse)
	assert.Contains(t, err.Error(), "malformed xref")
}
