package voice

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const defaultPhoneticThreshold = 0.80

// PhraseSet matches recognizer hypotheses against trigger phrases.
//
// Matching is case-insensitive on word boundaries: "hey aegis" matches the
// phrase "aegis", "aegisx" does not. Aliases are extra spellings a
// recognizer tends to produce for the same phrase. With Phonetic set, a
// word sequence whose Double Metaphone codes overlap a phrase and whose
// Jaro-Winkler similarity reaches the threshold also matches.
type PhraseSet struct {
	Phrases           []string
	Aliases           []string
	Phonetic          bool
	PhoneticThreshold float64
}

// Match reports whether text contains any phrase or alias.
func (p PhraseSet) Match(text string) bool {
	words := Words(text)
	if len(words) == 0 {
		return false
	}
	for _, list := range [][]string{p.Phrases, p.Aliases} {
		for _, phrase := range list {
			pw := Words(phrase)
			if len(pw) > 0 && containsSeq(words, pw) {
				return true
			}
		}
	}
	if p.Phonetic {
		return p.matchPhonetic(words)
	}
	return false
}

// Empty reports whether the set has nothing to match.
func (p PhraseSet) Empty() bool {
	return len(p.Phrases) == 0 && len(p.Aliases) == 0
}

// Words lower-cases text and splits it on anything that is not a letter or
// digit.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func containsSeq(words, seq []string) bool {
	for i := 0; i+len(seq) <= len(words); i++ {
		ok := true
		for j := range seq {
			if words[i+j] != seq[j] {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func (p PhraseSet) matchPhonetic(words []string) bool {
	threshold := p.PhoneticThreshold
	if threshold <= 0 {
		threshold = defaultPhoneticThreshold
	}
	for _, phrase := range p.Phrases {
		pw := Words(phrase)
		if len(pw) == 0 {
			continue
		}
		target := strings.Join(pw, " ")
		targetCodes := metaphoneCodes(pw)
		// compare every window of the same word count
		for i := 0; i+len(pw) <= len(words); i++ {
			window := words[i : i+len(pw)]
			if !overlaps(metaphoneCodes(window), targetCodes) {
				continue
			}
			if matchr.JaroWinkler(strings.Join(window, " "), target, false) >= threshold {
				return true
			}
		}
	}
	return false
}

func metaphoneCodes(words []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(words)*2)
	for _, w := range words {
		primary, secondary := matchr.DoubleMetaphone(w)
		if primary != "" {
			codes[primary] = struct{}{}
		}
		if secondary != "" {
			codes[secondary] = struct{}{}
		}
	}
	return codes
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
