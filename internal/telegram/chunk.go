// ABOUTME: Splits long replies into Telegram-sized messages
// ABOUTME: Prefers breaking at a newline in the back half of each chunk

package telegram

import "strings"

// MessageLimit is Telegram's maximum message length in characters.
const MessageLimit = 4096

// ChunkMessage splits text into pieces of at most limit characters. A piece
// ends at its last newline when that newline is past the half-way point.
func ChunkMessage(text string, limit int) []string {
	if limit <= 0 {
		limit = MessageLimit
	}
	remaining := []rune(strings.TrimSpace(text))

	var chunks []string
	for len(remaining) > limit {
		slice := remaining[:limit]
		if i := lastNewline(slice); i > limit/2 {
			slice = slice[:i]
		}
		if chunk := strings.TrimSpace(string(slice)); chunk != "" {
			chunks = append(chunks, chunk)
		}
		remaining = []rune(strings.TrimLeft(string(remaining[len(slice):]), " \t\r\n"))
	}
	if len(remaining) > 0 {
		chunks = append(chunks, string(remaining))
	}
	return chunks
}

func lastNewline(rs []rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i] == '\n' {
			return i
		}
	}
	return -1
}
