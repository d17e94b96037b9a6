// Package wordfilter screens user-entered text against a word list.
// Outbound text is rejected wholesale; inbound text is masked at render
// time so stored history stays untouched.
package wordfilter

import (
	_ "embed"
	"strings"
	"unicode"
	"unicode/utf8"
)

//go:embed wordlist.txt
var rawList string

type Filter struct {
	words []string
}

func New() *Filter {
	f := &Filter{}
	for _, line := range strings.Split(rawList, "\n") {
		w := strings.ToLower(strings.TrimSpace(line))
		if w == "" || strings.HasPrefix(w, "#") {
			continue
		}
		f.words = append(f.words, w)
	}
	return f
}

// Check reports whether text contains any listed word.
func (f *Filter) Check(text string) bool {
	lower := strings.ToLower(text)
	for _, w := range f.words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// Clean replaces every rune of each listed word with an asterisk.
// Lowercasing can change a rune's byte length, so matches are found in
// a lowered copy and mapped back to the original through a per-byte
// offset table; indices into text itself are never taken from lower.
func (f *Filter) Clean(text string) string {
	lower, offs := foldOffsets(text)
	masked := make([]bool, len(text))
	hit := false
	for _, w := range f.words {
		for from := 0; ; {
			i := strings.Index(lower[from:], w)
			if i < 0 {
				break
			}
			i += from
			for b := offs[i]; b < offs[i+len(w)]; b++ {
				masked[b] = true
			}
			hit = true
			from = i + len(w)
		}
	}
	if !hit {
		return text
	}
	var out strings.Builder
	out.Grow(len(text))
	for i, r := range text {
		if masked[i] {
			out.WriteByte('*')
		} else {
			out.WriteRune(r)
		}
	}
	return out.String()
}

// foldOffsets lowercases text rune by rune and records, for every byte
// of the lowered copy plus the end boundary, the offset of the original
// rune it came from.
func foldOffsets(text string) (string, []int) {
	var b strings.Builder
	b.Grow(len(text))
	offs := make([]int, 0, len(text)+1)
	for i, r := range text {
		lr := unicode.ToLower(r)
		for j := 0; j < utf8.RuneLen(lr); j++ {
			offs = append(offs, i)
		}
		b.WriteRune(lr)
	}
	offs = append(offs, len(text))
	return b.String(), offs
}
