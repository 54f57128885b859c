// Package normalize turns free-text Danish ingredient and product names into
// canonical comparison keys.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Name is the normalized form of a free-text name
type Name struct {
	// Key is the canonical comparison key. It keeps æ, ø and å.
	Key string `json:"key"`
	// Folded is Key transliterated to ASCII, used only for fuzzy comparison.
	Folded     string   `json:"folded"`
	Tokens     []string `json:"tokens"`
	Qualifiers []string `json:"qualifiers,omitempty"`
	Quantity   *float64 `json:"quantity,omitempty"`
	Unit       string   `json:"unit,omitempty"`
}

var tokenRe = regexp.MustCompile(`\d+(?:[.,/]\d+)*|\p{L}+`)

var units = setOf(
	"g", "gr", "gram", "kg", "kilo",
	"stk", "st", "styk", "stykke", "stykker",
	"spsk", "tsk", "tesk", "dl", "l", "ml", "cl",
	"knsp", "fed", "bundt", "dåse", "dåser", "ds", "pakke", "pakker", "pk",
)

var qualifiers = setOf(
	"frisk", "friske", "frosne", "frossen", "frost",
	"økologisk", "økologiske", "øko",
	"hakket", "hakkede", "finthakket", "grofthakket",
	"revet", "revne", "rå",
	"tørret", "tørrede", "kogt", "kogte", "stegt", "ristet", "røget",
	"skrællet", "skrællede", "flået", "hel", "hele",
)

var asciiFold = strings.NewReplacer("æ", "ae", "ø", "oe", "å", "aa")

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func setOf(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// Normalize is pure and total: any input, including the empty string,
// yields a Name. Normalize(Normalize(x).Key).Key == Normalize(x).Key.
func Normalize(text string) Name {
	s := norm.NFC.String(strings.ToLower(text))
	tokens := tokenRe.FindAllString(s, -1)

	var out Name
	for {
		next, qty, unit, quals := pass(tokens)
		if out.Quantity == nil && qty != nil {
			out.Quantity = qty
		}
		if out.Unit == "" {
			out.Unit = unit
		}
		out.Qualifiers = append(out.Qualifiers, quals...)
		if equalTokens(next, tokens) {
			break
		}
		tokens = next
	}

	out.Tokens = tokens
	out.Key = strings.Join(tokens, " ")
	out.Folded = Fold(out.Key)
	return out
}

// Key is shorthand for Normalize(text).Key
func Key(text string) string {
	return Normalize(text).Key
}

// Fold transliterates Danish letters to ASCII and removes remaining diacritics
func Fold(s string) string {
	s = asciiFold.Replace(s)
	result, _, err := transform.String(stripMarks, s)
	if err != nil {
		return s
	}
	return result
}

// pass runs one round of quantity stripping, qualifier stripping and stemming
func pass(in []string) ([]string, *float64, string, []string) {
	tokens := append([]string(nil), in...)

	qty, unit, rest := stripQuantity(tokens)
	tokens = rest

	var quals []string
	for len(tokens) > 1 && isQualifier(tokens[0]) {
		quals = append(quals, tokens[0])
		tokens = tokens[1:]
	}
	for len(tokens) > 1 && isQualifier(tokens[len(tokens)-1]) {
		quals = append(quals, tokens[len(tokens)-1])
		tokens = tokens[:len(tokens)-1]
	}

	stemmed := make([]string, len(tokens))
	for i, tok := range tokens {
		stemmed[i] = Stem(tok)
	}
	return stemmed, qty, unit, quals
}

// stripQuantity removes a leading run of numbers and the unit words that
// directly follow them. It never removes every token.
func stripQuantity(tokens []string) (*float64, string, []string) {
	var (
		qty     *float64
		unit    string
		i       int
		sawNum  bool
		lastNum float64
	)
	for i < len(tokens) {
		tok := tokens[i]
		if v, ok := parseNumber(tok); ok {
			switch {
			case qty == nil:
				qty = &v
			case sawNum && v < 1 && lastNum >= 1:
				// "2 1/2"
				sum := *qty + v
				qty = &sum
			}
			sawNum, lastNum = true, v
			i++
			continue
		}
		if _, ok := units[tok]; ok && sawNum {
			if unit == "" {
				unit = tok
			}
			i++
			continue
		}
		break
	}
	if i == len(tokens) {
		return nil, "", tokens
	}
	return qty, unit, tokens[i:]
}

func parseNumber(tok string) (float64, bool) {
	if tok == "" || tok[0] < '0' || tok[0] > '9' {
		return 0, false
	}
	if num, den, ok := strings.Cut(tok, "/"); ok {
		n, err1 := strconv.ParseFloat(strings.ReplaceAll(num, ",", "."), 64)
		d, err2 := strconv.ParseFloat(strings.ReplaceAll(den, ",", "."), 64)
		if err1 != nil || err2 != nil || d == 0 {
			return 0, false
		}
		return n / d, true
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(tok, ",", "."), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func isQualifier(tok string) bool {
	if _, ok := qualifiers[tok]; ok {
		return true
	}
	_, ok := qualifiers[Stem(tok)]
	return ok
}

func equalTokens(a, b []string) bool {
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
