package storytext

import "strings"

const sentenceTerminators = ".!?"

// boundaryRatio - минимальная доля обрезанного текста, начиная с которой
// режем по последнему концу предложения.
const boundaryRatio = 0.7

// CountWords считает слова, разделенные пробельными символами.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// EnforceWordLimit ограничивает текст maxWords словами, по возможности по границе предложения.
// Текст в пределах лимита возвращается без изменений. Повторное применение ничего не меняет.
func EnforceWordLimit(text string, maxWords int) string {
	words := strings.Fields(text)
	if len(words) <= maxWords {
		return text
	}
	if maxWords <= 0 {
		return ""
	}

	truncated := strings.Join(words[:maxWords], " ")
	if idx := strings.LastIndexAny(truncated, sentenceTerminators); idx >= 0 &&
		float64(idx) >= boundaryRatio*float64(len(truncated)) {
		return truncated[:idx+1]
	}
	if !endsWithTerminator(truncated) {
		truncated += "."
	}
	return truncated
}

func endsWithTerminator(s string) bool {
	return s != "" && strings.ContainsRune(sentenceTerminators, rune(s[len(s)-1]))
}
