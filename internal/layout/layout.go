// Package layout は座標付きテキスト断片から読み順の行・ページを再構成します。
//
// PDF のページ座標系では y が大きいほど上にあるため、断片を y の降順・x の昇順に並べ、
// y の差が許容誤差 ε 以内の連続する断片を同じ行としてまとめます。
package layout

import (
	"math"
	"sort"
	"strings"
)

// DefaultEpsilon は同一行とみなす y 座標の許容誤差です（座標系と同じ単位）。
const DefaultEpsilon = 0.1

// Fragment はページ上の位置を持つ1つのテキスト断片です。
type Fragment struct {
	Text       string  `json:"text"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	FontSize   float64 `json:"fontSize,omitempty"`
	FontFamily string  `json:"fontFamily,omitempty"`
	Bold       bool    `json:"bold,omitempty"`
	Italic     bool    `json:"italic,omitempty"`
}

// Line は1つの視覚的な行に属する断片の列です（左から右）。
type Line struct {
	Y         float64    `json:"y"`
	Fragments []Fragment `json:"fragments"`
}

// Text は行内の断片を半角スペース1つで連結します。
func (l Line) Text() string {
	parts := make([]string, len(l.Fragments))
	for i, f := range l.Fragments {
		parts[i] = f.Text
	}
	return strings.Join(parts, " ")
}

// Page は行の列です（上から下）。
type Page struct {
	Number int    `json:"number"`
	Lines  []Line `json:"lines"`
}

// Text は行を改行で連結します。
func (p Page) Text() string {
	lines := make([]string, len(p.Lines))
	for i, l := range p.Lines {
		lines[i] = l.Text()
	}
	return strings.Join(lines, "\n")
}

// Document はページの列です。
type Document struct {
	Pages []Page `json:"pages"`
}

// LineCount は全ページの行数の合計です。
func (d Document) LineCount() int {
	n := 0
	for _, p := range d.Pages {
		n += len(p.Lines)
	}
	return n
}

// Reconstructor は断片から Document を組み立てます。ゼロ値は DefaultEpsilon を使います。
type Reconstructor struct {
	Epsilon float64
}

func (r Reconstructor) epsilon() float64 {
	if r.Epsilon <= 0 || math.IsNaN(r.Epsilon) {
		return DefaultEpsilon
	}
	return r.Epsilon
}

// Reconstruct はページごとの断片集合から Document を構築します。
// pages[i] は i+1 ページ目の断片で、順序は問いません。
func (r Reconstructor) Reconstruct(pages [][]Fragment) Document {
	doc := Document{Pages: make([]Page, len(pages))}
	for i, frags := range pages {
		doc.Pages[i] = r.ReconstructPage(i+1, frags)
	}
	return doc
}

// ReconstructPage は1ページ分の断片を行へまとめます。断片がない場合は行なしのページを返します。
func (r Reconstructor) ReconstructPage(number int, frags []Fragment) Page {
	page := Page{Number: number, Lines: []Line{}}
	if len(frags) == 0 {
		return page
	}

	sorted := make([]Fragment, len(frags))
	copy(sorted, frags)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Y != sorted[j].Y {
			return sorted[i].Y > sorted[j].Y
		}
		return sorted[i].X < sorted[j].X
	})

	eps := r.epsilon()
	current := []Fragment{sorted[0]}
	for i := 1; i < len(sorted); i++ {
		if math.Abs(sorted[i].Y-sorted[i-1].Y) > eps {
			page.Lines = append(page.Lines, newLine(current))
			current = nil
		}
		current = append(current, sorted[i])
	}
	page.Lines = append(page.Lines, newLine(current))
	return page
}

// newLine は ε 以内の揺れで y の降順に並んだ断片を x の昇順に並べ直します。
func newLine(frags []Fragment) Line {
	y := frags[0].Y
	sort.SliceStable(frags, func(i, j int) bool {
		return frags[i].X < frags[j].X
	})
	return Line{Y: y, Fragments: frags}
}
