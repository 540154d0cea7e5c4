package extract

import "strings"

// SupportedLanguages maps recognizer language codes to display names.
var SupportedLanguages = map[string]string{
	"ron": "Romanian",
	"eng": "English",
	"fra": "French",
	"deu": "German",
	"ita": "Italian",
	"spa": "Spanish",
}

// defaultOCRLanguages is the recognizer hint used when nothing is detected.
const defaultOCRLanguages = "ron+eng"

var (
	romanianChars = "ăâîșț"
	frenchChars   = "àâæçéèêëîïôùûüÿœ"
	germanChars   = "äöüß"

	// Keywords common in Romanian administrative documents.
	romanianKeywords = []string{
		"conform", "societatea", "contract", "beneficiar",
		"proiect", "anul", "executant", "cerere",
		"emis", "semnat", "pentru", "acest",
	}
)

// DetectLanguage guesses the language of extracted text from diacritics and
// keyword frequency. Returns "" when the text is too short to judge.
func DetectLanguage(text string) string {
	if len(strings.TrimSpace(text)) < 20 {
		return ""
	}

	lower := strings.ToLower(text)

	countChars := func(set string) int {
		n := 0
		for _, c := range lower {
			if strings.ContainsRune(set, c) {
				n++
			}
		}
		return n
	}

	roKeywords := 0
	for _, w := range romanianKeywords {
		if strings.Contains(lower, w) {
			roKeywords++
		}
	}

	scores := map[string]int{
		"ron": countChars(romanianChars)*5 + roKeywords*3,
		"fra": countChars(frenchChars) * 5,
		"deu": countChars(germanChars) * 5,
		"eng": 0, // fallback
	}

	best := "eng"
	for lang, score := range scores {
		if score > scores[best] {
			best = lang
		}
	}

	// No strong signal: default to Romanian, the primary use case.
	if scores[best] < 3 {
		return "ron"
	}
	return best
}

// OCRLanguageHint builds the recognizer language string, prioritizing the
// detected language while keeping the ron/eng defaults in the mix.
func OCRLanguageHint(detected string) string {
	if _, ok := SupportedLanguages[detected]; !ok {
		return defaultOCRLanguages
	}
	switch detected {
	case "ron":
		return "ron+eng"
	case "eng":
		return "eng+ron"
	default:
		return detected + "+eng+ron"
	}
}
