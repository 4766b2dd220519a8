package chunker

import "strings"

// countTokens counts whitespace-delimited words. The token_count bounds
// and overlap sizes are all expressed in this unit.
func countTokens(text string) int {
	return len(strings.Fields(text))
}

// splitSentences cuts text at runs of sentence-ending punctuation
// followed by whitespace. Text without terminal punctuation comes back
// as a single sentence.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	emit := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		current.WriteRune(runes[i])
		if !isSentenceEnd(runes[i]) {
			continue
		}
		// Absorb the rest of the punctuation run ("?!", "...").
		for i+1 < len(runes) && isSentenceEnd(runes[i+1]) {
			i++
			current.WriteRune(runes[i])
		}
		if i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t' {
			emit()
		}
	}
	emit()
	return sentences
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '?' || r == '!'
}

// splitSentenceAt word-splits an oversized sentence so its head fits in
// the given room. Used only as a last resort when a single sentence
// exceeds the chunk bound on its own.
func splitSentenceAt(s sentence, room int) (sentence, sentence) {
	if room < 1 {
		room = 1
	}
	words := strings.Fields(s.text)
	if room >= len(words) {
		return s, sentence{heading: s.heading}
	}
	head := sentence{
		text:    strings.Join(words[:room], " "),
		tokens:  room,
		heading: s.heading,
	}
	rest := sentence{
		text:    strings.Join(words[room:], " "),
		tokens:  len(words) - room,
		heading: s.heading,
	}
	return head, rest
}
