// Package docparse はPDFからページごとの座標付きテキスト断片を取り出します。
package docparse

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/yourusername/convert-forge/internal/layout"
)

// ErrParse はPDFの構造を読めなかった場合に返されます。
var ErrParse = errors.New("failed to parse document")

// sameLineTolerance はグリフを同じランとみなす y 座標の差です。
const sameLineTolerance = 0.01

type openFunc func(path string) (*os.File, *pdf.Reader, error)

// Parser は ledongthuc/pdf で各ページのテキストを読み出します。
type Parser struct {
	open openFunc
}

// NewParser は Parser を作成します。
func NewParser() *Parser {
	return &Parser{open: pdf.Open}
}

// Parse は path のPDFを開き、ページ順に断片を返します。テキストのないページは空スライスです。
func (p *Parser) Parse(ctx context.Context, path string) (pages [][]layout.Fragment, err error) {
	// 壊れたファイルではライブラリが Open の時点でも panic することがある
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("%w: %v", ErrParse, r)
		}
	}()

	open := p.open
	if open == nil {
		open = pdf.Open
	}
	file, reader, err := open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	defer file.Close()

	total := reader.NumPage()
	pages = make([][]layout.Fragment, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, []layout.Fragment{})
			continue
		}
		pages = append(pages, mergeRuns(page.Content().Text))
	}
	return pages, nil
}

// mergeRuns は1文字ずつのグリフを、同じ行・同じフォントで隣接するランにまとめます。
// 空白はランの区切りとして扱います。
func mergeRuns(glyphs []pdf.Text) []layout.Fragment {
	frags := []layout.Fragment{}
	var (
		current strings.Builder
		start   pdf.Text
		end     float64
		open    bool
	)

	flush := func() {
		if open {
			if text := strings.TrimSpace(current.String()); text != "" {
				frags = append(frags, newFragment(text, start))
			}
		}
		current.Reset()
		open = false
	}

	for _, g := range glyphs {
		if strings.TrimSpace(g.S) == "" {
			flush()
			continue
		}
		if open && !continues(start, end, g) {
			flush()
		}
		if !open {
			start = g
			open = true
		}
		current.WriteString(g.S)
		end = g.X + g.W
	}
	flush()
	return frags
}

func continues(start pdf.Text, end float64, g pdf.Text) bool {
	if math.Abs(g.Y-start.Y) > sameLineTolerance {
		return false
	}
	if g.Font != start.Font || g.FontSize != start.FontSize {
		return false
	}
	// 字間のずれは許容し、フォントサイズの 1/4 を超える隙間は別ランにする
	gap := g.X - end
	slack := start.FontSize * 0.25
	if slack <= 0 {
		slack = 1
	}
	return gap > -slack && gap <= slack
}

func newFragment(text string, first pdf.Text) layout.Fragment {
	family, bold, italic := parseFont(first.Font)
	return layout.Fragment{
		Text:       text,
		X:          first.X,
		Y:          first.Y,
		FontSize:   first.FontSize,
		FontFamily: family,
		Bold:       bold,
		Italic:     italic,
	}
}

// parseFont はサブセット接頭辞（ABCDEF+）を除き、スタイル名から太字・斜体を判定します。
func parseFont(name string) (family string, bold, italic bool) {
	if i := strings.IndexByte(name, '+'); i == 6 {
		name = name[i+1:]
	}
	lower := strings.ToLower(name)
	bold = strings.Contains(lower, "bold") || strings.Contains(lower, "black") || strings.Contains(lower, "heavy")
	italic = strings.Contains(lower, "italic") || strings.Contains(lower, "oblique")

	family = name
	if i := strings.IndexAny(family, ",-"); i > 0 {
		family = family[:i]
	}
	return family, bold, italic
}
