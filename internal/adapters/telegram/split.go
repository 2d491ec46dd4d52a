package telegram

import "strings"

// MessageLimit ограничивает длину сообщения Bot API в символах.
const MessageLimit = 4096

// SplitMessage режет отчёт на части не длиннее MessageLimit.
func SplitMessage(text string) []string {
	return SplitMessageLimit(text, MessageLimit)
}

// SplitMessageLimit режет текст на части не длиннее limit символов,
// по возможности по границе строки, чтобы строки отчёта не разрывались.
func SplitMessageLimit(text string, limit int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if limit <= 0 {
		limit = MessageLimit
	}
	runes := []rune(trimmed)

	var parts []string
	for len(runes) > 0 {
		if len(runes) <= limit {
			parts = appendChunk(parts, runes)
			break
		}
		cut := lastNewline(runes[:limit])
		if cut <= 0 {
			cut = limit
		}
		parts = appendChunk(parts, runes[:cut])
		runes = trimLeadingNewlines(runes[cut:])
	}
	return parts
}

func lastNewline(runes []rune) int {
	for i := len(runes); i > 0; i-- {
		if runes[i-1] == '\n' {
			return i
		}
	}
	return -1
}

func trimLeadingNewlines(runes []rune) []rune {
	for len(runes) > 0 && runes[0] == '\n' {
		runes = runes[1:]
	}
	return runes
}

func appendChunk(parts []string, runes []rune) []string {
	if chunk := strings.Trim(string(runes), "\n"); chunk != "" {
		parts = append(parts, chunk)
	}
	return parts
}
