package normalize

import (
	"strings"
	"unicode/utf8"
)

// Stem trims one Danish plural or definite ending from a word. Numbers are
// returned unchanged. Normalize applies Stem repeatedly until nothing changes,
// so "mandlerne" -> "mandler" -> "mandl" and "mandel" -> "mandl".
func Stem(word string) string {
	if word == "" || (word[0] >= '0' && word[0] <= '9') {
		return word
	}
	n := utf8.RuneCountInString(word)

	switch {
	case n > 6 && strings.HasSuffix(word, "erne"):
		return strings.TrimSuffix(word, "ne")
	case n > 5 && strings.HasSuffix(word, "ene"):
		return strings.TrimSuffix(word, "ne")
	case n > 4 && strings.HasSuffix(word, "er"):
		return collapseDouble(strings.TrimSuffix(word, "er"))
	case n > 3 && strings.HasSuffix(word, "e"):
		return collapseDouble(strings.TrimSuffix(word, "e"))
	case n > 4 && strings.HasSuffix(word, "el"):
		return collapseDouble(strings.TrimSuffix(word, "el")) + "l"
	}
	return collapseDouble(word)
}

// collapseDouble turns a trailing doubled consonant into a single one
func collapseDouble(word string) string {
	r := []rune(word)
	if len(r) < 4 {
		return word
	}
	a, b := r[len(r)-2], r[len(r)-1]
	if a == b && !isVowel(a) {
		return string(r[:len(r)-1])
	}
	return word
}

func isVowel(r rune) bool {
	return strings.ContainsRune("aeiouyæøå", r)
}
