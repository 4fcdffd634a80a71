package storytext

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storytime-server/internal/model"
)

var sampleTexts = []string{
	"",
	"   ",
	"One.",
	"Once upon a time there was a small fox. The fox loved the moon! Did the moon love the fox? Nobody knew",
	"no punctuation at all just a very long run of words that keeps going and going without any end in sight",
	"Short. Then a much longer sentence follows that does not finish before the limit is reached by the enforcer",
	"Line one.\n\nLine   two\twith tabs!  And a question?",
	"Wow!!! Really?! Yes... fine.",
}

func TestEnforceWordLimit_Properties(t *testing.T) {
	for _, text := range sampleTexts {
		for n := 0; n <= 25; n++ {
			once := EnforceWordLimit(text, n)
			twice := EnforceWordLimit(once, n)

			assert.Equal(t, once, twice, "idempotence for %q n=%d", text, n)
			assert.LessOrEqual(t, CountWords(once), n, "word ceiling for %q n=%d", text, n)
			if CountWords(text) <= n {
				assert.Equal(t, text, once, "within-limit text must be unchanged")
			}
		}
	}
}

func TestEnforceWordLimit_CutsAtLateSentenceBoundary(t *testing.T) {
	text := "The fox ran home. It was late and the stars were out. Then it slept soundly until morning came"
	// первые 12 слов: "... It was late and the stars were out." точка в самом конце
	got := EnforceWordLimit(text, 12)
	assert.Equal(t, "The fox ran home. It was late and the stars were out.", got)
}

func TestEnforceWordLimit_AppendsPeriodWhenBoundaryTooEarly(t *testing.T) {
	text := "Hi. the little fox wandered through the quiet forest looking for berries and friends"
	got := EnforceWordLimit(text, 8)
	assert.Equal(t, "Hi. the little fox wandered through the quiet.", got)
}

func TestEnforceWordLimit_NormalisesWhitespaceWhenTruncating(t *testing.T) {
	got := EnforceWordLimit("a  b\tc\nd e", 3)
	assert.Equal(t, "a b c.", got)
}

func TestEnforceWordLimit_KeepsExistingTerminator(t *testing.T) {
	got := EnforceWordLimit("What? Why? How? When is it", 3)
	assert.Equal(t, "What? Why? How?", got)
}

func TestComputeMetadata(t *testing.T) {
	m := ComputeMetadata("The cat sat. The dog ran. They played.", "en")
	assert.Equal(t, 8, m.WordCount)
	assert.Equal(t, 3, m.SentenceCount)
	assert.Equal(t, model.ReadingBeginner, m.ReadingLevel)
	assert.Equal(t, 5, m.EstimatedReadingSeconds)

	long := strings.Repeat("word ", 20) + "end."
	m = ComputeMetadata(long, "en")
	assert.Equal(t, 1, m.SentenceCount)
	assert.Equal(t, model.ReadingAdvanced, m.ReadingLevel)

	mid := strings.Repeat("word ", 10) + "end."
	assert.Equal(t, model.ReadingIntermediate, ComputeMetadata(mid, "en").ReadingLevel)

	empty := ComputeMetadata("", "en")
	assert.Zero(t, empty.WordCount)
	assert.Zero(t, empty.SentenceCount)
	assert.Zero(t, empty.EstimatedReadingSeconds)
}

func TestComputeMetadata_LanguagePace(t *testing.T) {
	text := strings.Repeat("слово ", 100)
	assert.Equal(t, 60, ComputeMetadata(text, "ru").EstimatedReadingSeconds)
	assert.Equal(t, 55, ComputeMetadata(text, "en").EstimatedReadingSeconds)
}

func TestSplitSentences(t *testing.T) {
	got := SplitSentences("Wow!!! Really?! Yes... fine")
	assert.Equal(t, []string{"Wow!!!", "Really?!", "Yes...", "fine"}, got)
	assert.Empty(t, SplitSentences(" . ! "))
}

func TestExtractScenes(t *testing.T) {
	text := "One. Two. Three. Four. Five. Six. Seven."
	scenes := ExtractScenes(text, 3)
	require.Len(t, scenes, 3)
	assert.Equal(t, "One. Two.", scenes[0])
	assert.Equal(t, "Five. Six. Seven.", scenes[2])

	assert.Len(t, ExtractScenes("Only one.", 3), 1)
	assert.Nil(t, ExtractScenes("", 3))
	assert.Nil(t, ExtractScenes(text, 0))
}

func TestFallbackTitle(t *testing.T) {
	assert.Equal(t, "Mia's Adventure Story", FallbackTitle([]string{" ", "Mia"}, "Adventure"))
	assert.Equal(t, "A Bedtime Story", FallbackTitle(nil, "Bedtime"))
	assert.Equal(t, "A Magical Story", FallbackTitle(nil, ""))
}

func TestCleanTitle(t *testing.T) {
	assert.Equal(t, "The Brave Fox", CleanTitle("  \"The Brave Fox\"\nextra text"))
	assert.Equal(t, "Moon Friends", CleanTitle("Title: **Moon Friends**"))
}

func TestEstimateCost(t *testing.T) {
	rates := CostRates{PromptPer1KTokens: 1, CompletionPer1KTokens: 2, SpeechPer1KChars: 1, PerImage: 0.5}
	got := EstimateCost(CostInput{PromptTokens: 1000, CompletionTokens: 500, NarratedChars: 2000, Images: 2}, rates)
	assert.InDelta(t, 1+1+2+1, got, 1e-9)

	byWords := EstimateCost(CostInput{PromptWords: 1000}, rates)
	assert.InDelta(t, 1.33, byWords, 1e-9)

	assert.Equal(t, got, EstimateCost(CostInput{PromptTokens: 1000, CompletionTokens: 500, NarratedChars: 2000, Images: 2}, rates))
}

func TestEstimateNarrationSeconds(t *testing.T) {
	assert.Zero(t, EstimateNarrationSeconds(""))
	assert.InDelta(t, 60.0, EstimateNarrationSeconds(strings.Repeat("w ", 140)), 0.01)
}
