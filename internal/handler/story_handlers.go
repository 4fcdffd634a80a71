package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"storytime-server/internal/model"
	"storytime-server/internal/pipeline"
	"storytime-server/internal/provider"
	"storytime-server/internal/service"
)

// createStory принимает multipart с файлами drawing и voice или JSON без файлов.
func (h *StoryHandler) createStory(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}

	var in service.CreateStoryInput
	var err error
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		in, err = h.parseMultipartCreate(c)
	} else {
		in, err = parseJSONCreate(c)
	}
	if err != nil {
		h.logger.Warn("Invalid create story request", zap.Error(err))
		handleServiceError(c, err, h.logger)
		return
	}
	in.UserID = c.GetHeader(userIDHeader)

	res, err := h.service.CreateStory(c.Request.Context(), in)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusAccepted, res)
}

func parseJSONCreate(c *gin.Context) (service.CreateStoryInput, error) {
	var req createStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return service.CreateStoryInput{}, err
		}
		return service.CreateStoryInput{}, fmt.Errorf("%w: %v", model.ErrInvalidInput, err)
	}
	return service.CreateStoryInput{
		TextPrompt:            req.Prompt,
		StoryType:             req.StoryType,
		CharacterNames:        req.CharacterNames,
		CharacterDescriptions: req.CharacterDescriptions,
		Length:                req.Length,
		Language:              req.Language,
		WithIllustrations:     req.WithIllustrations,
		VoiceSettings:         provider.VoiceSettings{Voice: req.Voice, Speed: req.VoiceSpeed},
	}, nil
}

func (h *StoryHandler) parseMultipartCreate(c *gin.Context) (service.CreateStoryInput, error) {
	form, err := c.MultipartForm()
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return service.CreateStoryInput{}, err
		}
		return service.CreateStoryInput{}, fmt.Errorf("%w: malformed multipart form: %v", model.ErrInvalidInput, err)
	}

	in := service.CreateStoryInput{
		TextPrompt:        c.PostForm("prompt"),
		StoryType:         c.PostForm("storyType"),
		Length:            model.StoryLength(c.PostForm("length")),
		Language:          c.PostForm("language"),
		WithIllustrations: formBool(c.PostForm("withIllustrations")),
		VoiceSettings:     provider.VoiceSettings{Voice: c.PostForm("voice")},
	}
	// Имена персонажей приходят повторяющимся полем или через запятую.
	for _, v := range form.Value["characterNames"] {
		in.CharacterNames = append(in.CharacterNames, strings.Split(v, ",")...)
	}
	if raw := c.PostForm("characterDescriptions"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &in.CharacterDescriptions); err != nil {
			return in, fmt.Errorf("%w: characterDescriptions must be a JSON object: %v", model.ErrInvalidInput, err)
		}
	}
	if raw := c.PostForm("voiceSpeed"); raw != "" {
		speed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return in, fmt.Errorf("%w: invalid voiceSpeed %q", model.ErrInvalidInput, raw)
		}
		in.VoiceSettings.Speed = speed
	}

	if in.Drawing, err = readUpload(form, "drawing"); err != nil {
		return in, err
	}
	if in.Voice, err = readUpload(form, "voice"); err != nil {
		return in, err
	}
	return in, nil
}

// readUpload читает первый файл поля. Нет файла - nil без ошибки.
func readUpload(form *multipart.Form, field string) (*pipeline.Upload, error) {
	files := form.File[field]
	if len(files) == 0 {
		return nil, nil
	}
	fh := files[0]
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s upload: %w", field, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s upload: %w", field, err)
	}
	contentType := fh.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	return &pipeline.Upload{Data: data, ContentType: contentType}, nil
}

func formBool(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}

func (h *StoryHandler) getStory(c *gin.Context) {
	id, ok := h.storyID(c)
	if !ok {
		return
	}
	rec, err := h.service.GetStory(c.Request.Context(), id, c.GetHeader(userIDHeader))
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *StoryHandler) getStatus(c *gin.Context) {
	id, ok := h.storyID(c)
	if !ok {
		return
	}
	view, err := h.service.GetStatus(c.Request.Context(), id, c.GetHeader(userIDHeader))
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, statusResponse{StoryID: id.String(), StatusView: *view})
}

func (h *StoryHandler) continueStory(c *gin.Context) {
	id, ok := h.storyID(c)
	if !ok {
		return
	}
	var req continueStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body for continueStory", zap.String("story_id", id.String()), zap.Error(err))
		badRequest(c, "Invalid request body")
		return
	}

	res, err := h.service.ContinueStory(c.Request.Context(), id, service.ContinueStoryInput{
		UserID:                c.GetHeader(userIDHeader),
		Prompt:                req.Prompt,
		NewCharacters:         req.NewCharacters,
		CharacterDescriptions: req.CharacterDescriptions,
		VoiceSettings:         provider.VoiceSettings{Voice: req.Voice, Speed: req.VoiceSpeed},
	})
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusAccepted, res)
}

func (h *StoryHandler) regenerateStory(c *gin.Context) {
	id, ok := h.storyID(c)
	if !ok {
		return
	}
	res, err := h.service.RegenerateStory(c.Request.Context(), id, c.GetHeader(userIDHeader))
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusAccepted, res)
}

func (h *StoryHandler) archiveStory(c *gin.Context) {
	id, ok := h.storyID(c)
	if !ok {
		return
	}
	view, err := h.service.ArchiveStory(c.Request.Context(), id, c.GetHeader(userIDHeader))
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, statusResponse{StoryID: id.String(), StatusView: *view})
}

func (h *StoryHandler) listStoryTypes(c *gin.Context) {
	c.JSON(http.StatusOK, storyTypesResponse{Data: h.service.StoryTypes()})
}
