package storytext

import (
	"math"
	"strings"
	"unicode"

	"storytime-server/internal/model"
)

// Пороги среднего числа слов в предложении для уровней чтения.
const (
	beginnerMaxWordsPerSentence     = 8.0
	intermediateMaxWordsPerSentence = 14.0
)

// DefaultWordsPerMinute - темп чтения юного читателя.
const DefaultWordsPerMinute = 110

// Темп чтения для языков, где он заметно отличается.
var wordsPerMinuteByLanguage = map[string]int{
	"de": 95,
	"fi": 90,
	"ru": 100,
}

// narrationWordsPerMinute - темп озвучки, используется для оценки длительности аудио.
const narrationWordsPerMinute = 140

// TextMetrics - характеристики готового текста.
type TextMetrics struct {
	WordCount               int
	SentenceCount           int
	ReadingLevel            model.ReadingLevel
	EstimatedReadingSeconds int
}

// ComputeMetadata вычисляет метрики текста. Чистая функция.
func ComputeMetadata(text, language string) TextMetrics {
	words := CountWords(text)
	sentences := CountSentences(text)

	level := model.ReadingBeginner
	if sentences > 0 {
		avg := float64(words) / float64(sentences)
		switch {
		case avg <= beginnerMaxWordsPerSentence:
			level = model.ReadingBeginner
		case avg <= intermediateMaxWordsPerSentence:
			level = model.ReadingIntermediate
		default:
			level = model.ReadingAdvanced
		}
	}

	return TextMetrics{
		WordCount:               words,
		SentenceCount:           sentences,
		ReadingLevel:            level,
		EstimatedReadingSeconds: readingSeconds(words, wordsPerMinute(language)),
	}
}

// CountSentences считает предложения. Текст без терминатора, но со словами - одно предложение.
func CountSentences(text string) int {
	return len(SplitSentences(text))
}

// SplitSentences делит текст на предложения, сохраняя знаки препинания.
func SplitSentences(text string) []string {
	var (
		out     []string
		current strings.Builder
	)
	flush := func() {
		s := strings.TrimSpace(current.String())
		if hasWordChar(s) {
			out = append(out, s)
		}
		current.Reset()
	}

	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		if strings.ContainsRune(sentenceTerminators, r) {
			// "?!" и "..." остаются внутри одного предложения
			if i+1 < len(runes) && strings.ContainsRune(sentenceTerminators, runes[i+1]) {
				continue
			}
			flush()
		}
	}
	flush()
	return out
}

// EstimateNarrationSeconds оценивает длительность озвучки текста.
func EstimateNarrationSeconds(text string) float64 {
	words := CountWords(text)
	if words == 0 {
		return 0
	}
	return math.Round(float64(words)*60/narrationWordsPerMinute*10) / 10
}

func hasWordChar(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	}) >= 0
}

func wordsPerMinute(language string) int {
	if wpm, ok := wordsPerMinuteByLanguage[strings.ToLower(language)]; ok {
		return wpm
	}
	return DefaultWordsPerMinute
}

func readingSeconds(words, wpm int) int {
	if words == 0 || wpm <= 0 {
		return 0
	}
	return int(math.Ceil(float64(words) * 60 / float64(wpm)))
}
