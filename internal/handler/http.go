package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"storytime-server/internal/model"
	"storytime-server/internal/service"
)

// userIDHeader - владелец истории. Аутентификация выполняется на шлюзе.
const userIDHeader = "X-User-ID"

// StoryService - операции сервиса, доступные через HTTP.
type StoryService interface {
	CreateStory(ctx context.Context, in service.CreateStoryInput) (*service.RunAccepted, error)
	GetStatus(ctx context.Context, id uuid.UUID, userID string) (*model.StatusView, error)
	GetStory(ctx context.Context, id uuid.UUID, userID string) (*model.StoryRecord, error)
	ContinueStory(ctx context.Context, id uuid.UUID, in service.ContinueStoryInput) (*service.RunAccepted, error)
	RegenerateStory(ctx context.Context, id uuid.UUID, userID string) (*service.RunAccepted, error)
	ArchiveStory(ctx context.Context, id uuid.UUID, userID string) (*model.StatusView, error)
	StoryTypes() []model.StoryType
}

var _ StoryService = (*service.StoryService)(nil)

// StoryHandler обрабатывает HTTP запросы к историям.
type StoryHandler struct {
	service        StoryService
	stream         StatusStream
	logger         *zap.Logger
	maxUploadBytes int64
}

// NewStoryHandler создает обработчик. maxUploadBytes ограничивает тело запроса на создание.
func NewStoryHandler(s StoryService, maxUploadBytes int64, logger *zap.Logger) *StoryHandler {
	return &StoryHandler{
		service:        s,
		logger:         logger.Named("StoryHandler"),
		maxUploadBytes: maxUploadBytes,
	}
}

// WithStatusStream включает маршрут /stories/:id/events.
func (h *StoryHandler) WithStatusStream(stream StatusStream) *StoryHandler {
	h.stream = stream
	return h
}

// RegisterRoutes регистрирует маршруты API.
func (h *StoryHandler) RegisterRoutes(r gin.IRouter) {
	api := r.Group("/api/v1")
	{
		api.GET("/story-types", h.listStoryTypes)

		stories := api.Group("/stories")
		stories.POST("", h.createStory)
		stories.GET("/:id", h.getStory)
		stories.GET("/:id/status", h.getStatus)
		stories.POST("/:id/continue", h.continueStory)
		stories.POST("/:id/regenerate", h.regenerateStory)
		stories.POST("/:id/archive", h.archiveStory)
		if h.stream != nil {
			stories.GET("/:id/events", h.streamStatus)
		}
	}
}

// HealthCheck отвечает на проверку живости.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *StoryHandler) storyID(c *gin.Context) (uuid.UUID, bool) {
	idStr := c.Param("id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		h.logger.Warn("Invalid story ID format", zap.String("id", idStr), zap.Error(err))
		badRequest(c, "Invalid story ID format")
		return uuid.Nil, false
	}
	return id, true
}
