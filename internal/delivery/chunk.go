package delivery

import "unicode/utf8"

// Chunk splits text into pieces of at most size runes. Concatenating the
// pieces reproduces text exactly; empty text yields no pieces.
func Chunk(text string, size int) []string {
	if text == "" {
		return nil
	}
	if size <= 0 {
		return []string{text}
	}

	chunks := make([]string, 0, utf8.RuneCountInString(text)/size+1)
	start, runes := 0, 0
	for i := range text {
		if runes == size {
			chunks = append(chunks, text[start:i])
			start, runes = i, 0
		}
		runes++
	}
	return append(chunks, text[start:])
}
