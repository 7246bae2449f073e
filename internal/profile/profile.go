// Package profile は圧縮レベル名を具体的な変換パラメータへ解決します。
package profile

import (
	"errors"
	"fmt"
	"strings"
)

// Kind はメディアの種別です。
type Kind string

const (
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
	KindDocument Kind = "document"
)

// Level は圧縮レベルです。
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// DefaultLevel は未知のレベル指定時に使われるレベルです。
const DefaultLevel = LevelMedium

// ErrUnknownMediaKind は登録されていないメディア種別が指定された場合に返されます。
var ErrUnknownMediaKind = errors.New("unknown media kind")

// Profile は1つの圧縮レベルに対応する変換パラメータです。
//
// Quality の意味は種別ごとに異なります（画像: JPEG品質, 動画: CRF, 文書: 画像解像度dpi）。
type Profile struct {
	Kind        Kind   `json:"kind" mapstructure:"-"`
	Level       Level  `json:"level" mapstructure:"-"`
	Quality     int    `json:"quality" mapstructure:"quality"`
	MaxWidth    int    `json:"maxWidth,omitempty" mapstructure:"maxWidth"`
	MaxHeight   int    `json:"maxHeight,omitempty" mapstructure:"maxHeight"`
	Bitrate     string `json:"bitrate,omitempty" mapstructure:"bitrate"`
	Preset      string `json:"preset,omitempty" mapstructure:"preset"`
	Description string `json:"description" mapstructure:"description"`
}

type key struct {
	kind  Kind
	level Level
}

var builtin = []Profile{
	{Kind: KindImage, Level: LevelLow, Quality: 85, MaxWidth: 2560, MaxHeight: 2560, Description: "高画質（軽い圧縮）"},
	{Kind: KindImage, Level: LevelMedium, Quality: 70, MaxWidth: 1920, MaxHeight: 1920, Description: "標準的な圧縮"},
	{Kind: KindImage, Level: LevelHigh, Quality: 50, MaxWidth: 1280, MaxHeight: 1280, Description: "強い圧縮"},

	{Kind: KindVideo, Level: LevelLow, Quality: 23, MaxWidth: 1920, MaxHeight: 1080, Bitrate: "2500k", Preset: "slow", Description: "高画質"},
	{Kind: KindVideo, Level: LevelMedium, Quality: 28, MaxWidth: 1280, MaxHeight: 720, Bitrate: "1200k", Preset: "medium", Description: "標準"},
	{Kind: KindVideo, Level: LevelHigh, Quality: 32, MaxWidth: 854, MaxHeight: 480, Bitrate: "600k", Preset: "veryfast", Description: "強い圧縮"},

	{Kind: KindDocument, Level: LevelLow, Quality: 300, Preset: "printer", Description: "印刷品質"},
	{Kind: KindDocument, Level: LevelMedium, Quality: 150, Preset: "ebook", Description: "標準"},
	{Kind: KindDocument, Level: LevelHigh, Quality: 72, Preset: "screen", Description: "最小サイズ"},
}

// Resolver は (種別, レベル) からプロファイルを引くための不変テーブルです。
type Resolver struct {
	table map[key]Profile
}

// NewResolver は組み込みテーブルに overrides を上書きした Resolver を返します。
func NewResolver(overrides ...Profile) *Resolver {
	table := make(map[key]Profile, len(builtin)+len(overrides))
	for _, p := range builtin {
		table[key{p.Kind, p.Level}] = p
	}
	for _, p := range overrides {
		table[key{p.Kind, p.Level}] = p
	}
	return &Resolver{table: table}
}

// Resolve はプロファイルを返します。未知のレベルは medium として扱います。
func (r *Resolver) Resolve(kind Kind, level string) (Profile, error) {
	lv := NormalizeLevel(level)
	if p, ok := r.table[key{kind, lv}]; ok {
		return p, nil
	}
	return Profile{}, fmt.Errorf("%w: %s", ErrUnknownMediaKind, kind)
}

// NormalizeLevel は入力文字列を既知のレベルへ正規化します。
func NormalizeLevel(level string) Level {
	switch Level(strings.ToLower(strings.TrimSpace(level))) {
	case LevelLow:
		return LevelLow
	case LevelHigh:
		return LevelHigh
	default:
		return DefaultLevel
	}
}
