package model

// Прогресс - статическая таблица по статусу, а не измерение реального хода генерации.
var progressByStatus = map[StoryStatus]int{
	StatusDraft:      10,
	StatusGenerating: 35,
	StatusProcessing: 75,
	StatusCompleted:  100,
	StatusFailed:     0,
	StatusArchived:   100,
}

// Оценка оставшегося времени в секундах.
var remainingSecondsByStatus = map[StoryStatus]int{
	StatusDraft:      60,
	StatusGenerating: 45,
	StatusProcessing: 20,
}

// ProgressPercent возвращает процент готовности для статуса.
func ProgressPercent(s StoryStatus) int {
	return progressByStatus[s]
}

// EstimatedSecondsRemaining возвращает оценку оставшегося времени для статуса.
func EstimatedSecondsRemaining(s StoryStatus) int {
	return remainingSecondsByStatus[s]
}

// StatusView - ответ на запрос статуса.
type StatusView struct {
	Status                 StoryStatus `json:"status"`
	ProgressPercent        int         `json:"progressPercent"`
	EstimatedTimeRemaining int         `json:"estimatedTimeRemaining"`
	Error                  *string     `json:"error,omitempty"`
}

// NewStatusView строит ответ по записи истории.
func NewStatusView(rec *StoryRecord) StatusView {
	return StatusView{
		Status:                 rec.Status,
		ProgressPercent:        ProgressPercent(rec.Status),
		EstimatedTimeRemaining: EstimatedSecondsRemaining(rec.Status),
		Error:                  rec.Error,
	}
}
