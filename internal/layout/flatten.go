package layout

import "strings"

// pageSeparator はフラット化したテキストでページを区切る文字列です。
// 行に空行は現れないため、空行はページ境界としてのみ解釈されます。
const pageSeparator = "\n\n"

// Flatten は Document をプレーンテキストに変換します。
// 行内の断片は半角スペース、行は改行、ページは空行で区切ります。
func Flatten(doc Document) string {
	pages := make([]string, len(doc.Pages))
	for i, p := range doc.Pages {
		pages[i] = p.Text()
	}
	return strings.Join(pages, pageSeparator)
}

// Reparse は Flatten の出力を合成座標上の断片へ戻します。
// 各行は上から y = -行番号、各単語は x = 単語番号に配置されるため、
// Reconstruct に通すと元と同じ行分割が得られます。
func Reparse(text string) [][]Fragment {
	rawPages := strings.Split(text, pageSeparator)
	pages := make([][]Fragment, len(rawPages))
	for i, raw := range rawPages {
		if raw == "" {
			pages[i] = []Fragment{}
			continue
		}
		var frags []Fragment
		for lineNo, line := range strings.Split(raw, "\n") {
			for col, word := range strings.Fields(line) {
				frags = append(frags, Fragment{
					Text: word,
					X:    float64(col),
					Y:    -float64(lineNo),
				})
			}
		}
		pages[i] = frags
	}
	return pages
}

// Fragments は Document を再び断片集合へ展開します（位置情報はそのまま）。
func Fragments(doc Document) [][]Fragment {
	pages := make([][]Fragment, len(doc.Pages))
	for i, p := range doc.Pages {
		frags := []Fragment{}
		for _, l := range p.Lines {
			frags = append(frags, l.Fragments...)
		}
		pages[i] = frags
	}
	return pages
}
