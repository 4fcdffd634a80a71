package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storytime-server/internal/model"
	"storytime-server/internal/service"
)

type mockStoryService struct {
	mock.Mock
}

func (m *mockStoryService) CreateStory(ctx context.Context, in service.CreateStoryInput) (*service.RunAccepted, error) {
	ret := m.Called(ctx, in)
	res, _ := ret.Get(0).(*service.RunAccepted)
	return res, ret.Error(1)
}

func (m *mockStoryService) GetStatus(ctx context.Context, id uuid.UUID, userID string) (*model.StatusView, error) {
	ret := m.Called(ctx, id, userID)
	res, _ := ret.Get(0).(*model.StatusView)
	return res, ret.Error(1)
}

func (m *mockStoryService) GetStory(ctx context.Context, id uuid.UUID, userID string) (*model.StoryRecord, error) {
	ret := m.Called(ctx, id, userID)
	res, _ := ret.Get(0).(*model.StoryRecord)
	return res, ret.Error(1)
}

func (m *mockStoryService) ContinueStory(ctx context.Context, id uuid.UUID, in service.ContinueStoryInput) (*service.RunAccepted, error) {
	ret := m.Called(ctx, id, in)
	res, _ := ret.Get(0).(*service.RunAccepted)
	return res, ret.Error(1)
}

func (m *mockStoryService) RegenerateStory(ctx context.Context, id uuid.UUID, userID string) (*service.RunAccepted, error) {
	ret := m.Called(ctx, id, userID)
	res, _ := ret.Get(0).(*service.RunAccepted)
	return res, ret.Error(1)
}

func (m *mockStoryService) ArchiveStory(ctx context.Context, id uuid.UUID, userID string) (*model.StatusView, error) {
	ret := m.Called(ctx, id, userID)
	res, _ := ret.Get(0).(*model.StatusView)
	return res, ret.Error(1)
}

func (m *mockStoryService) StoryTypes() []model.StoryType {
	return m.Called().Get(0).([]model.StoryType)
}

func newRouter(t *testing.T, maxUpload int64) (*gin.Engine, *mockStoryService) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc := &mockStoryService{}
	svc.Test(t)
	r := gin.New()
	r.Use(ZapLoggingMiddleware(zap.NewNop()))
	r.GET("/health", HealthCheck)
	NewStoryHandler(svc, maxUpload, zap.NewNop()).RegisterRoutes(r)
	return r, svc
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestCreateStory_JSON(t *testing.T) {
	r, svc := newRouter(t, 1<<20)
	id := uuid.New()
	svc.On("CreateStory", mock.Anything, mock.MatchedBy(func(in service.CreateStoryInput) bool {
		return in.UserID == "user-7" &&
			in.TextPrompt == "a brave snail" &&
			in.Length == model.LengthShort &&
			in.VoiceSettings.Voice == "nova" &&
			in.Drawing == nil
	})).Return(&service.RunAccepted{StoryID: id, Status: model.StatusGenerating}, nil).Once()

	body := `{"prompt":"a brave snail","length":"short","characterNames":["Sam"],"voice":"nova"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/stories", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "user-7")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, fmt.Sprintf(`{"storyId":%q,"status":"generating"}`, id), w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	svc.AssertExpectations(t)
}

func TestCreateStory_Multipart(t *testing.T) {
	r, svc := newRouter(t, 1<<20)
	svc.On("CreateStory", mock.Anything, mock.MatchedBy(func(in service.CreateStoryInput) bool {
		return in.Drawing != nil &&
			in.Drawing.ContentType == "image/png" &&
			string(in.Drawing.Data) == "png-bytes" &&
			in.Voice == nil &&
			in.WithIllustrations &&
			assert.ObjectsAreEqual([]string{"Pip", " Owl"}, in.CharacterNames) &&
			in.CharacterDescriptions["Pip"] == "a small fox" &&
			in.VoiceSettings.Speed == 1.25
	})).Return(&service.RunAccepted{StoryID: uuid.New(), Status: model.StatusGenerating}, nil).Once()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("characterNames", "Pip, Owl"))
	require.NoError(t, mw.WriteField("withIllustrations", "true"))
	require.NoError(t, mw.WriteField("characterDescriptions", `{"Pip":"a small fox"}`))
	require.NoError(t, mw.WriteField("voiceSpeed", "1.25"))
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="drawing"; filename="d.png"`)
	h.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write([]byte("png-bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/stories", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	svc.AssertExpectations(t)
}

func TestCreateStory_Errors(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		svcErr  error
		code    int
		errCode int
	}{
		{"malformed json", `{"prompt":`, nil, http.StatusBadRequest, ErrCodeValidation},
		{"validation", `{"prompt":"x"}`, fmt.Errorf("%w: unknown length", model.ErrInvalidInput), http.StatusBadRequest, ErrCodeValidation},
		{"queue full", `{"prompt":"x"}`, fmt.Errorf("%w: too many active tasks", model.ErrQueueFull), http.StatusServiceUnavailable, ErrCodeQueueFull},
		{"internal", `{"prompt":"x"}`, fmt.Errorf("create story: %w", model.ErrPersistence), http.StatusInternalServerError, ErrCodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, svc := newRouter(t, 1<<20)
			if tc.svcErr != nil {
				svc.On("CreateStory", mock.Anything, mock.Anything).Return(nil, tc.svcErr).Once()
			}
			req := httptest.NewRequest(http.MethodPost, "/api/v1/stories", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tc.code, w.Code)
			assert.Equal(t, tc.errCode, decodeError(t, w).Code)
		})
	}
}

func TestCreateStory_BodyTooLarge(t *testing.T) {
	r, _ := newRouter(t, 16)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/stories", strings.NewReader(`{"prompt":"`+strings.Repeat("a", 64)+`"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, ErrCodePayloadTooBig, decodeError(t, w).Code)
}

func TestGetStatus(t *testing.T) {
	r, svc := newRouter(t, 0)
	id := uuid.New()
	svc.On("GetStatus", mock.Anything, id, "").
		Return(&model.StatusView{Status: model.StatusProcessing, ProgressPercent: 75, EstimatedTimeRemaining: 20}, nil).Once()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/stories/"+id.String()+"/status", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, fmt.Sprintf(`{"storyId":%q,"status":"processing","progressPercent":75,"estimatedTimeRemaining":20}`, id), w.Body.String())
}

func TestGetStatus_BadIDAndNotFound(t *testing.T) {
	r, svc := newRouter(t, 0)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/stories/not-a-uuid/status", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, ErrCodeBadRequest, decodeError(t, w).Code)

	id := uuid.New()
	svc.On("GetStatus", mock.Anything, id, "").Return(nil, fmt.Errorf("story %s: %w", id, model.ErrNotFound)).Once()
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/stories/"+id.String()+"/status", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, ErrCodeNotFound, decodeError(t, w).Code)
}

func TestGetStory(t *testing.T) {
	r, svc := newRouter(t, 0)
	id := uuid.New()
	svc.On("GetStory", mock.Anything, id, "user-1").
		Return(&model.StoryRecord{ID: id, Status: model.StatusCompleted, Title: "The Pebble", Content: "Once."}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stories/"+id.String(), nil)
	req.Header.Set("X-User-ID", "user-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var rec model.StoryRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, "The Pebble", rec.Title)
	assert.Equal(t, model.StatusCompleted, rec.Status)
}

func TestContinueStory(t *testing.T) {
	r, svc := newRouter(t, 0)
	id := uuid.New()
	svc.On("ContinueStory", mock.Anything, id, mock.MatchedBy(func(in service.ContinueStoryInput) bool {
		return in.Prompt == "they find a map" && len(in.NewCharacters) == 1
	})).Return(nil, fmt.Errorf("%w: story is failed", model.ErrInvalidStatus)).Once()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/stories/"+id.String()+"/continue",
		strings.NewReader(`{"prompt":"they find a map","newCharacters":["Mole"]}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, ErrCodeInvalidStatus, decodeError(t, w).Code)
}

func TestRegenerateAndArchive(t *testing.T) {
	r, svc := newRouter(t, 0)
	id := uuid.New()
	svc.On("RegenerateStory", mock.Anything, id, "").Return(nil, model.ErrStoryBusy).Once()
	svc.On("ArchiveStory", mock.Anything, id, "").Return(&model.StatusView{Status: model.StatusArchived, ProgressPercent: 100}, nil).Once()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/stories/"+id.String()+"/regenerate", nil))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, ErrCodeStoryBusy, decodeError(t, w).Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/stories/"+id.String()+"/archive", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"archived"`)
}

func TestListStoryTypesAndHealth(t *testing.T) {
	r, svc := newRouter(t, 0)
	svc.On("StoryTypes").Return(model.NewStoryTypeCatalog(nil).List()).Once()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/story-types", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	var resp storyTypesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 5)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
