package channels

import "strings"

// SplitMessage breaks content into chunks of at most limit runes, preferring
// to cut at a newline, then at a space. A limit of 0 disables splitting.
func SplitMessage(content string, limit int) []string {
	runes := []rune(content)
	if limit <= 0 || len(runes) <= limit {
		return []string{content}
	}

	var chunks []string
	for len(runes) > limit {
		window := string(runes[:limit])
		cut := strings.LastIndex(window, "\n")
		if cut <= 0 {
			cut = strings.LastIndex(window, " ")
		}

		var n int
		if cut <= 0 {
			n = limit
		} else {
			n = len([]rune(window[:cut]))
		}

		chunks = append(chunks, strings.TrimRight(string(runes[:n]), " \n"))
		runes = []rune(strings.TrimLeft(string(runes[n:]), " \n"))
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
