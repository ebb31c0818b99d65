package pdfengine

import (
	"math"
	"unicode"

	"github.com/drummonds/pdfpage/geometry"
)

// Glyph is one character of page text with its box in user space. Engines
// emit glyphs in content order; separators they synthesize carry a zero Rect.
type Glyph struct {
	Rune rune
	Rect geometry.AbsRect
}

func (g Glyph) isSpace() bool {
	return unicode.IsSpace(g.Rune)
}

// GroupWords splits a glyph run into whitespace separated words, keeping the
// engine's order.
func GroupWords(glyphs []Glyph) []Word {
	var words []Word
	var text []rune
	var rect geometry.AbsRect
	var haveRect bool

	flush := func() {
		if len(text) > 0 {
			words = append(words, Word{Rect: rect, Text: string(text)})
		}
		text, haveRect = nil, false
	}

	for _, g := range glyphs {
		if g.isSpace() {
			flush()
			continue
		}
		text = append(text, g.Rune)
		if g.Rect.IsZero() {
			continue
		}
		if !haveRect {
			rect, haveRect = g.Rect.Normalize(), true
		} else {
			rect = rect.Union(g.Rect.Normalize())
		}
	}
	flush()
	return words
}

// FindInGlyphs returns the rectangles of every non-overlapping occurrence of
// needle, one rectangle per text line an occurrence spans. Whitespace in the
// needle matches any whitespace glyph. Matching is case sensitive.
func FindInGlyphs(glyphs []Glyph, needle string) []geometry.AbsRect {
	want := []rune(needle)
	if len(want) == 0 {
		return nil
	}
	var out []geometry.AbsRect
	for i := 0; i+len(want) <= len(glyphs); {
		if !matchAt(glyphs[i:], want) {
			i++
			continue
		}
		out = append(out, lineRects(glyphs[i:i+len(want)])...)
		i += len(want)
	}
	return out
}

func matchAt(glyphs []Glyph, want []rune) bool {
	for j, r := range want {
		g := glyphs[j]
		if unicode.IsSpace(r) {
			if !g.isSpace() {
				return false
			}
			continue
		}
		if g.Rune != r {
			return false
		}
	}
	return true
}

// lineRects unions glyph boxes, starting a new rectangle whenever the next
// glyph is not on the current line.
func lineRects(glyphs []Glyph) []geometry.AbsRect {
	var out []geometry.AbsRect
	var cur geometry.AbsRect
	open := false
	for _, g := range glyphs {
		if g.Rect.IsZero() {
			continue
		}
		r := g.Rect.Normalize()
		if open && sameLine(cur, r) {
			cur = cur.Union(r)
			continue
		}
		if open {
			out = append(out, cur)
		}
		cur, open = r, true
	}
	if open {
		out = append(out, cur)
	}
	return out
}

// sameLine reports whether r continues the line covered by cur: its vertical
// centre lies inside cur and it does not jump back to the left.
func sameLine(cur, r geometry.AbsRect) bool {
	mid := (r.Y1 + r.Y2) / 2
	if mid < cur.Y1 || mid > cur.Y2 {
		return false
	}
	return r.X1 >= cur.X2-math.Max(cur.Height(), 1)
}
