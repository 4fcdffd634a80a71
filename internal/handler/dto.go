package handler

import (
	"storytime-server/internal/model"
)

// Коды ошибок API
const (
	ErrCodeBadRequest    = 40000
	ErrCodeValidation    = 40001
	ErrCodeNotFound      = 40400
	ErrCodeInvalidStatus = 40900
	ErrCodeStoryBusy     = 40901
	ErrCodePayloadTooBig = 41300
	ErrCodeQueueFull     = 50300
	ErrCodeInternal      = 50000
)

// ErrorResponse - стандартный ответ об ошибке.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// createStoryRequest - JSON-вариант запроса на создание (без файлов).
type createStoryRequest struct {
	Prompt                string            `json:"prompt"`
	StoryType             string            `json:"storyType"`
	CharacterNames        []string          `json:"characterNames"`
	CharacterDescriptions map[string]string `json:"characterDescriptions"`
	Length                model.StoryLength `json:"length"`
	Language              string            `json:"language"`
	WithIllustrations     bool              `json:"withIllustrations"`
	Voice                 string            `json:"voice"`
	VoiceSpeed            float64           `json:"voiceSpeed"`
}

type continueStoryRequest struct {
	Prompt                string            `json:"prompt"`
	NewCharacters         []string          `json:"newCharacters"`
	CharacterDescriptions map[string]string `json:"characterDescriptions"`
	Voice                 string            `json:"voice"`
	VoiceSpeed            float64           `json:"voiceSpeed"`
}

// statusResponse дополняет статус идентификатором истории.
type statusResponse struct {
	StoryID string `json:"storyId"`
	model.StatusView
}

type storyTypesResponse struct {
	Data []model.StoryType `json:"data"`
}
