package profile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveKnownLevels(t *testing.T) {
	r := NewResolver()

	tests := []struct {
		kind    Kind
		level   string
		quality int
	}{
		{KindImage, "low", 85},
		{KindImage, "medium", 70},
		{KindImage, "high", 50},
		{KindVideo, "high", 32},
		{KindDocument, "low", 300},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind)+"/"+tt.level, func(t *testing.T) {
			p, err := r.Resolve(tt.kind, tt.level)
			require.NoError(t, err)
			assert.Equal(t, tt.quality, p.Quality)
			assert.Equal(t, tt.kind, p.Kind)
			assert.Equal(t, Level(tt.level), p.Level)
		})
	}
}

func TestResolveUnknownLevelFallsBackToMedium(t *testing.T) {
	r := NewResolver()
	medium, err := r.Resolve(KindImage, "medium")
	require.NoError(t, err)

	for _, level := range []string{"bogus", "", "ultra"} {
		p, err := r.Resolve(KindImage, level)
		require.NoError(t, err)
		assert.Equal(t, medium, p, "level %q", level)
	}
}

func TestResolveNormalizesCase(t *testing.T) {
	r := NewResolver()
	p, err := r.Resolve(KindVideo, "  HIGH ")
	require.NoError(t, err)
	assert.Equal(t, LevelHigh, p.Level)
	assert.Equal(t, "600k", p.Bitrate)
	assert.Equal(t, "veryfast", p.Preset)
}

func TestResolveUnknownKind(t *testing.T) {
	_, err := NewResolver().Resolve(Kind("audio"), "low")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownMediaKind))
}

func TestLoadOverridesBuiltin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	body := []byte("image:\n  high:\n    quality: 40\n    maxWidth: 1024\n    maxHeight: 768\n    description: tiny\n")
	require.NoError(t, os.WriteFile(path, body, 0o640))

	r, err := Load(path)
	require.NoError(t, err)

	p, err := r.Resolve(KindImage, "high")
	require.NoError(t, err)
	assert.Equal(t, 40, p.Quality)
	assert.Equal(t, 1024, p.MaxWidth)
	assert.Equal(t, 768, p.MaxHeight)
	assert.Equal(t, "tiny", p.Description)

	// 上書きされていないエントリは組み込みのまま
	low, err := r.Resolve(KindImage, "low")
	require.NoError(t, err)
	assert.Equal(t, 85, low.Quality)
}

func TestLoadRejectsUnknownKind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte("audio:\n  low:\n    quality: 10\n"), 0o640))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownMediaKind))
}

func TestLoadEmptyPathUsesBuiltin(t *testing.T) {
	r, err := Load("")
	require.NoError(t, err)
	p, err := r.Resolve(KindDocument, "high")
	require.NoError(t, err)
	assert.Equal(t, "screen", p.Preset)
}
