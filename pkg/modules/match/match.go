// Package match holds the keyword scoring shared by the capability modules'
// matchers. Everything here is pure string work so matchers stay cheap.
package match

import (
	"strings"
	"unicode"
)

// Rule awards Weight when any of its phrases occurs in the utterance.
type Rule struct {
	Phrases []string
	Weight  float64
}

// Tokens lower-cases text and splits it into words. Apostrophes stay inside
// words so "what's" survives as one token.
func Tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// HasPhrase reports whether phrase occurs in text on word boundaries.
func HasPhrase(text, phrase string) bool {
	words := Tokens(phrase)
	if len(words) == 0 {
		return false
	}

	return strings.Contains(padded(Tokens(text)), padded(words))
}

// HasAny reports whether any phrase occurs in text.
func HasAny(text string, phrases ...string) bool {
	haystack := padded(Tokens(text))
	for _, phrase := range phrases {
		words := Tokens(phrase)
		if len(words) > 0 && strings.Contains(haystack, padded(words)) {
			return true
		}
	}

	return false
}

// Score returns the highest weight among the rules that fire, or 0.
func Score(text string, rules ...Rule) float64 {
	haystack := padded(Tokens(text))
	best := 0.0
	for _, rule := range rules {
		if rule.Weight <= best {
			continue
		}
		for _, phrase := range rule.Phrases {
			words := Tokens(phrase)
			if len(words) > 0 && strings.Contains(haystack, padded(words)) {
				best = rule.Weight
				break
			}
		}
	}

	return best
}

// StripWords removes stop words and returns the remaining words joined by a
// single space.
func StripWords(text string, stop ...string) string {
	drop := make(map[string]bool, len(stop))
	for _, word := range stop {
		drop[strings.ToLower(word)] = true
	}

	kept := make([]string, 0)
	for _, word := range Tokens(text) {
		if drop[word] || drop[strings.TrimSuffix(word, "'s")] {
			continue
		}
		kept = append(kept, word)
	}

	return strings.Join(kept, " ")
}

// After returns the words following the first occurrence of phrase, or ""
// when phrase does not occur.
func After(text, phrase string) string {
	words := Tokens(text)
	needle := Tokens(phrase)
	if len(needle) == 0 {
		return ""
	}

	for i := 0; i+len(needle) <= len(words); i++ {
		if equalWords(words[i:i+len(needle)], needle) {
			return strings.Join(words[i+len(needle):], " ")
		}
	}

	return ""
}

// Title upper-cases the first letter of every word.
func Title(text string) string {
	words := strings.Fields(text)
	for i, word := range words {
		runes := []rune(word)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}

	return strings.Join(words, " ")
}

func padded(words []string) string {
	return " " + strings.Join(words, " ") + " "
}

func equalWords(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
