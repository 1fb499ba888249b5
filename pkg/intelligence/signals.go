package intelligence

import (
	"regexp"
	"strings"
	"unicode"
)

// Regex heuristics for content signals. Each detector covers English and
// Norwegian (bokmål) phrasing.
var (
	temporalPattern = regexp.MustCompile(`(?i)\b(` +
		`today|tomorrow|yesterday|tonight|next (?:week|month|year)|last (?:week|month|year)|` +
		`monday|tuesday|wednesday|thursday|friday|saturday|sunday|` +
		`january|february|march|april|may|june|july|august|september|october|november|december|` +
		`i dag|i morgen|i går|i kveld|neste (?:uke|måned|år)|forrige (?:uke|måned|år)|` +
		`mandag|tirsdag|onsdag|torsdag|fredag|lørdag|søndag|` +
		`januar|februar|mars|mai|juni|juli|oktober|desember|` +
		`\d{1,2}[./-]\d{1,2}[./-]\d{2,4}|\d{4}-\d{2}-\d{2}|\d{1,2}:\d{2}|` +
		`(?:19|20)\d{2})\b`)

	emotionalPattern = regexp.MustCompile(`(?i)\b(` +
		`love|loves|hate|hates|happy|sad|angry|excited|worried|afraid|scared|frustrated|` +
		`annoyed|thrilled|upset|proud|anxious|grateful|disappointed|enjoy|enjoys|` +
		`elsker|hater|glad|lei meg|sint|spent|bekymret|redd|frustrert|stolt|takknemlig|skuffet|` +
		`liker|misliker)\b`)

	numericPattern = regexp.MustCompile(`(?i)(` +
		`[$€£¥]\s?\d[\d,.\s]*|\d[\d,.\s]*\s?(?:usd|eur|nok|sek|dkk|kr|kroner|dollars?|euros?)\b|` +
		`\b\d+(?:[.,]\d+)?\s?%|\b\d+(?:[.,]\d+)?\b)`)

	precisionPattern = regexp.MustCompile(`(?i)\b(` +
		`specifically|exactly|precisely|particularly|in particular|always|never|only|` +
		`spesifikt|nøyaktig|akkurat|presist|spesielt|alltid|aldri|bare)\b`)

	emphasisPattern = regexp.MustCompile(`(?i)(\b(` +
		`remember|important|don't forget|do not forget|make sure|crucial|critical|` +
		`husk|viktig|ikke glem|sørg for|avgjørende|kritisk)\b|!{2,})`)

	sentenceSplit = regexp.MustCompile(`[.!?]+\s*`)
)

// detectTemporal reports whether text contains a date, time or relative
// temporal expression.
func detectTemporal(text string) bool {
	return temporalPattern.MatchString(text)
}

// detectEmotional reports whether text contains emotional language.
func detectEmotional(text string) bool {
	return emotionalPattern.MatchString(text)
}

// detectNumeric reports whether text contains numbers, percentages or
// currency amounts.
func detectNumeric(text string) bool {
	return numericPattern.MatchString(text)
}

// detectEmphasis reports whether the user stressed the statement.
func detectEmphasis(text string) bool {
	return emphasisPattern.MatchString(text)
}

// detectEntities reports whether text contains entity-like tokens: a
// capitalised word that does not start a sentence, or an all-caps acronym.
func detectEntities(text string) bool {
	return properNounCount(text) > 0
}

// properNounCount counts capitalised tokens that are not sentence-initial,
// plus acronyms of two or more capitals anywhere.
func properNounCount(text string) int {
	count := 0
	for _, sentence := range splitSentences(text) {
		for i, word := range strings.Fields(sentence) {
			word = strings.TrimFunc(word, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
			if word == "" {
				continue
			}
			if isAcronym(word) {
				count++
				continue
			}
			if i > 0 && unicode.IsUpper([]rune(word)[0]) {
				count++
			}
		}
	}
	return count
}

func isAcronym(word string) bool {
	runes := []rune(word)
	if len(runes) < 2 {
		return false
	}
	for _, r := range runes {
		if !unicode.IsUpper(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return unicode.IsUpper(runes[0])
}

func splitSentences(text string) []string {
	var out []string
	for _, s := range sentenceSplit.Split(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// specificity measures how concrete a statement is, in [0,1].
//
// It blends proper-noun density, numeric density, precision words and
// average sentence length.
func specificity(text string) float64 {
	words := strings.Fields(text)
	if len(words) == 0 {
		return 0
	}
	n := float64(len(words))

	properDensity := float64(properNounCount(text)) / n
	numericDensity := float64(len(numericPattern.FindAllString(text, -1))) / n

	precision := 0.0
	if precisionPattern.MatchString(text) {
		precision = 1.0
	}

	sentences := splitSentences(text)
	avgLen := n
	if len(sentences) > 0 {
		avgLen = n / float64(len(sentences))
	}

	score := 0.35*minf(1, properDensity*3) +
		0.25*minf(1, numericDensity*5) +
		0.20*precision +
		0.20*minf(1, avgLen/20)
	return clamp(score)
}
