package pipeline

// Названия шагов пайплайна.
const (
	StepStart         = "start"
	StepVision        = "vision"
	StepTranscription = "transcription"
	StepProcessing    = "processing"
	StepText          = "text_generation"
	StepSafety        = "safety_check"
	StepTitle         = "title"
	StepNarration     = "narration"
	StepIllustrations = "illustrations"
	StepComplete      = "complete"
)

// StepError указывает шаг, на котором прогон завершился ошибкой.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return e.Step + ": " + e.Err.Error()
}

func (e *StepError) Unwrap() error {
	return e.Err
}
