// Package textfx holds cosmetic text transforms applied before synthesis.
package textfx

import "strings"

// Transform rewrites text before it is spoken.
type Transform func(string) string

// Pauses marks sentence boundaries so the synthesizer leaves a longer gap.
func Pauses(text string) string {
	return strings.ReplaceAll(text, ". ", ". [...] ")
}

// Chain applies transforms in order. Nil entries are skipped.
func Chain(fns ...Transform) Transform {
	return func(text string) string {
		for _, fn := range fns {
			if fn != nil {
				text = fn(text)
			}
		}
		return text
	}
}

// Collapse squeezes runs of whitespace into single spaces.
func Collapse(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
