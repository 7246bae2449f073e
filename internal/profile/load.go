package profile

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load は起動時に一度だけ呼ばれ、path のファイル（YAML/JSON/TOML）で組み込みテーブルを上書きします。
// path が空の場合は組み込みテーブルのみを使います。
//
// ファイル形式:
//
//	image:
//	  high:
//	    quality: 40
//	    maxWidth: 1024
//	    maxHeight: 1024
//	    description: 強い圧縮
func Load(path string) (*Resolver, error) {
	if strings.TrimSpace(path) == "" {
		return NewResolver(), nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read profile file: %w", err)
	}

	var raw map[string]map[string]Profile
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode profile file: %w", err)
	}

	var overrides []Profile
	for kindName, levels := range raw {
		kind := Kind(strings.ToLower(kindName))
		if !knownKind(kind) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownMediaKind, kindName)
		}
		for levelName, p := range levels {
			level := Level(strings.ToLower(levelName))
			if level != LevelLow && level != LevelMedium && level != LevelHigh {
				return nil, fmt.Errorf("unknown compression level %q for %s", levelName, kindName)
			}
			if p.Quality <= 0 {
				return nil, fmt.Errorf("profile %s/%s: quality must be positive", kind, level)
			}
			p.Kind = kind
			p.Level = level
			overrides = append(overrides, p)
		}
	}
	return NewResolver(overrides...), nil
}

func knownKind(k Kind) bool {
	switch k {
	case KindImage, KindVideo, KindDocument:
		return true
	}
	return false
}
