package storytext

import "math"

// tokensPerWord - приближенное число токенов на слово английского текста.
const tokensPerWord = 1.33

// CostRates - тарифы провайдеров в долларах.
type CostRates struct {
	PromptPer1KTokens     float64
	CompletionPer1KTokens float64
	SpeechPer1KChars      float64
	PerImage              float64
	PerVisionCall         float64
	TranscriptionPerMin   float64
}

// DefaultCostRates - ориентировочные тарифы для live-провайдеров.
var DefaultCostRates = CostRates{
	PromptPer1KTokens:     0.00015,
	CompletionPer1KTokens: 0.0006,
	SpeechPer1KChars:      0.015,
	PerImage:              0.04,
	PerVisionCall:         0.002,
	TranscriptionPerMin:   0.006,
}

// CostInput - объем работы, выполненной за один прогон.
type CostInput struct {
	PromptWords        int
	CompletionWords    int
	PromptTokens       int
	CompletionTokens   int
	NarratedChars      int
	Images             int
	VisionCalls        int
	TranscribedSeconds float64
}

// EstimateCost возвращает приблизительную стоимость прогона.
// Если известны реальные токены, они имеют приоритет над оценкой по словам.
func EstimateCost(in CostInput, rates CostRates) float64 {
	promptTokens := float64(in.PromptTokens)
	if promptTokens == 0 {
		promptTokens = float64(in.PromptWords) * tokensPerWord
	}
	completionTokens := float64(in.CompletionTokens)
	if completionTokens == 0 {
		completionTokens = float64(in.CompletionWords) * tokensPerWord
	}

	cost := promptTokens/1000*rates.PromptPer1KTokens +
		completionTokens/1000*rates.CompletionPer1KTokens +
		float64(in.NarratedChars)/1000*rates.SpeechPer1KChars +
		float64(in.Images)*rates.PerImage +
		float64(in.VisionCalls)*rates.PerVisionCall +
		in.TranscribedSeconds/60*rates.TranscriptionPerMin

	return math.Round(cost*1e6) / 1e6
}
