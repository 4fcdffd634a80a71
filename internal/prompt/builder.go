package prompt

import (
	"fmt"
	"strings"

	"storytime-server/internal/model"
)

var languageNames = map[string]string{
	"en": "English",
	"fr": "French (Français)",
	"de": "German (Deutsch)",
	"es": "Spanish (Español)",
	"it": "Italian (Italiano)",
	"pt": "Portuguese (Português)",
	"ru": "Russian (Русский)",
	"zh": "Chinese (中文)",
	"ja": "Japanese (日本語)",
}

// LanguageName возвращает название языка для инструкции модели.
// Неизвестный код передается как есть, пустой считается английским.
func LanguageName(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return languageNames["en"]
	}
	if name, ok := languageNames[code]; ok {
		return name
	}
	return code
}

// StoryInput - все, из чего собирается промпт истории.
type StoryInput struct {
	StoryType             model.StoryType
	ImageAnalysis         string
	Transcription         string
	CharacterNames        []string
	CharacterDescriptions map[string]string
	UserRequest           string
	WordLimit             int
	Language              string
}

// BuildStory собирает инструкцию для генерации истории. Чистая детерминированная функция:
// персонажи идут в порядке CharacterNames, пустые разделы пропускаются.
func BuildStory(in StoryInput) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Write a story in the %s genre for children aged 4 to 10.\n", storyTypeName(in.StoryType))
	if in.StoryType.Characteristics != "" {
		fmt.Fprintf(&b, "Story style: %s.\n", strings.TrimSuffix(in.StoryType.Characteristics, "."))
	}

	if s := strings.TrimSpace(in.ImageAnalysis); s != "" {
		fmt.Fprintf(&b, "\nThe child drew a picture. Description of the drawing:\n%s\n", s)
	}
	if s := strings.TrimSpace(in.Transcription); s != "" {
		fmt.Fprintf(&b, "\nThe child said:\n\"%s\"\n", s)
	}

	writeCharacters(&b, in.CharacterNames, in.CharacterDescriptions)

	if s := strings.TrimSpace(in.UserRequest); s != "" {
		fmt.Fprintf(&b, "\nStory request:\n%s\n", s)
	}

	b.WriteString("\nRequirements:\n")
	fmt.Fprintf(&b, "- Use no more than %d words.\n", in.WordLimit)
	b.WriteString("- Give the story a clear beginning, middle and end.\n")
	b.WriteString("- Keep everything gentle and age-appropriate: no violence, fear, weapons or adult themes.\n")
	fmt.Fprintf(&b, "- Write the story in %s.\n", LanguageName(in.Language))
	b.WriteString("- Return only the story text without a title.")

	return b.String()
}

// ContinuationInput - данные для продолжения готовой истории.
type ContinuationInput struct {
	StoryType             model.StoryType
	Title                 string
	ExistingContent       string
	AdditionalRequest     string
	CharacterNames        []string
	NewCharacters         []string
	CharacterDescriptions map[string]string
	WordLimit             int
	Language              string
}

// BuildContinuation собирает инструкцию для продолжения истории.
func BuildContinuation(in ContinuationInput) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Continue the following %s genre story for children aged 4 to 10.\n", storyTypeName(in.StoryType))
	if in.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", in.Title)
	}
	fmt.Fprintf(&b, "\nStory so far:\n%s\n", strings.TrimSpace(in.ExistingContent))

	writeCharacters(&b, in.CharacterNames, in.CharacterDescriptions)
	if len(in.NewCharacters) > 0 {
		fmt.Fprintf(&b, "\nIntroduce these new characters: %s.\n", strings.Join(in.NewCharacters, ", "))
	}
	if s := strings.TrimSpace(in.AdditionalRequest); s != "" {
		fmt.Fprintf(&b, "\nWhat should happen next:\n%s\n", s)
	}

	b.WriteString("\nRequirements:\n")
	fmt.Fprintf(&b, "- Write only the new part, no more than %d words.\n", in.WordLimit)
	b.WriteString("- Do not repeat the story so far.\n")
	b.WriteString("- Keep everything gentle and age-appropriate.\n")
	fmt.Fprintf(&b, "- Write in %s.", LanguageName(in.Language))

	return b.String()
}

// BuildTitle собирает инструкцию для генерации заголовка.
func BuildTitle(content, language string) string {
	return fmt.Sprintf(
		"Create a short, catchy title (at most 6 words) for this children's story. "+
			"Answer with the title only, in %s.\n\nStory:\n%s",
		LanguageName(language), strings.TrimSpace(content))
}

// BuildIllustration собирает промпт для иллюстрации сцены.
func BuildIllustration(scene string, storyType model.StoryType, characterNames []string) string {
	var b strings.Builder
	b.WriteString("Colorful, friendly children's book illustration, soft shapes, warm light, no text. ")
	fmt.Fprintf(&b, "Genre: %s. ", storyTypeName(storyType))
	if len(characterNames) > 0 {
		fmt.Fprintf(&b, "Characters: %s. ", strings.Join(characterNames, ", "))
	}
	fmt.Fprintf(&b, "Scene: %s", strings.TrimSpace(scene))
	return b.String()
}

// Системные инструкции для моделей.
const (
	StorySystemPrompt = "You are a kind children's author. You write short, warm, safe stories for young kids."
	TitleSystemPrompt = "You name children's stories. You reply with a title only."
	VisionPrompt      = "Describe this child's drawing in 2-4 sentences: the characters, objects, colors and mood. " +
		"Be kind and imaginative, do not mention drawing quality."
)

func writeCharacters(b *strings.Builder, names []string, descriptions map[string]string) {
	if len(names) == 0 {
		return
	}
	b.WriteString("\nCharacters:\n")
	for _, name := range names {
		if desc := strings.TrimSpace(descriptions[name]); desc != "" {
			fmt.Fprintf(b, "- %s: %s\n", name, desc)
		} else {
			fmt.Fprintf(b, "- %s\n", name)
		}
	}
}

func storyTypeName(t model.StoryType) string {
	if t.Name == "" {
		return "magical"
	}
	return strings.ToLower(t.Name)
}
