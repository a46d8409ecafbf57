package engine

import "strings"

// CleanText normalizes narration text: whitespace is collapsed, trailing
// ellipses are dropped and every sentence ends with terminal punctuation.
func CleanText(text string) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}

	var sentences []string
	var current []string
	for _, word := range words {
		current = append(current, word)
		if endsSentence(word) {
			sentences = append(sentences, strings.Join(current, " "))
			current = nil
		}
	}
	if len(current) > 0 {
		sentences = append(sentences, strings.Join(current, " "))
	}

	for i, sentence := range sentences {
		for strings.HasSuffix(sentence, "..") {
			sentence = strings.TrimRight(sentence, ".")
		}
		if !endsSentence(sentence) {
			sentence += "."
		}
		sentences[i] = sentence
	}
	return strings.Join(sentences, " ")
}

func endsSentence(s string) bool {
	s = strings.TrimRight(s, `"'”’)`)
	return strings.HasSuffix(s, ".") || strings.HasSuffix(s, "!") || strings.HasSuffix(s, "?")
}
