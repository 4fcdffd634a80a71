package storytext

import (
	"fmt"
	"strings"
)

// ExtractScenes делит текст на не более чем n последовательных фрагментов по предложениям.
// Каждый фрагмент служит описанием сцены для иллюстрации.
func ExtractScenes(text string, n int) []string {
	sentences := SplitSentences(text)
	if n <= 0 || len(sentences) == 0 {
		return nil
	}
	if n > len(sentences) {
		n = len(sentences)
	}

	scenes := make([]string, 0, n)
	for i := 0; i < n; i++ {
		from := i * len(sentences) / n
		to := (i + 1) * len(sentences) / n
		scenes = append(scenes, strings.Join(sentences[from:to], " "))
	}
	return scenes
}

// FallbackTitle строит шаблонный заголовок, если генерация заголовка не удалась.
func FallbackTitle(characterNames []string, storyTypeName string) string {
	kind := strings.TrimSpace(storyTypeName)
	if kind == "" {
		kind = "Magical"
	}
	for _, name := range characterNames {
		if name = strings.TrimSpace(name); name != "" {
			return fmt.Sprintf("%s's %s Story", name, kind)
		}
	}
	return fmt.Sprintf("A %s Story", kind)
}

// CleanTitle убирает кавычки и лишние пробелы из ответа модели.
func CleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = strings.TrimSpace(title[:i])
	}
	title = strings.TrimPrefix(title, "Title:")
	title = strings.Trim(strings.TrimSpace(title), "\"'“”«»*")
	return strings.TrimSpace(title)
}
