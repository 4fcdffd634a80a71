package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"storytime-server/internal/provider"
)

// MockTextGenerator is a mock type for the TextGenerator type
type MockTextGenerator struct {
	mock.Mock
}

// Complete provides a mock function with given fields: ctx, systemPrompt, prompt, maxTokens, temperature
func (_m *MockTextGenerator) Complete(ctx context.Context, systemPrompt string, prompt string, maxTokens int, temperature float32) (provider.Completion, error) {
	ret := _m.Called(ctx, systemPrompt, prompt, maxTokens, temperature)

	var r0 provider.Completion
	if rf, ok := ret.Get(0).(func(context.Context, string, string, int, float32) provider.Completion); ok {
		r0 = rf(ctx, systemPrompt, prompt, maxTokens, temperature)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(provider.Completion)
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, string, string, int, float32) error); ok {
		r1 = rf(ctx, systemPrompt, prompt, maxTokens, temperature)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockTextGenerator creates a new instance of MockTextGenerator.
func NewMockTextGenerator(t interface {
	mock.TestingT
	Helper()
}) *MockTextGenerator {
	m := &MockTextGenerator{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

// MockVisionAnalyzer is a mock type for the VisionAnalyzer type
type MockVisionAnalyzer struct {
	mock.Mock
}

// Describe provides a mock function with given fields: ctx, image, contentType
func (_m *MockVisionAnalyzer) Describe(ctx context.Context, image []byte, contentType string) (string, error) {
	ret := _m.Called(ctx, image, contentType)
	return ret.String(0), ret.Error(1)
}

// NewMockVisionAnalyzer creates a new instance of MockVisionAnalyzer.
func NewMockVisionAnalyzer(t interface {
	mock.TestingT
	Helper()
}) *MockVisionAnalyzer {
	m := &MockVisionAnalyzer{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

// MockSpeechTranscriber is a mock type for the SpeechTranscriber type
type MockSpeechTranscriber struct {
	mock.Mock
}

// Transcribe provides a mock function with given fields: ctx, audio, contentType, language
func (_m *MockSpeechTranscriber) Transcribe(ctx context.Context, audio []byte, contentType string, language string) (string, error) {
	ret := _m.Called(ctx, audio, contentType, language)
	return ret.String(0), ret.Error(1)
}

// NewMockSpeechTranscriber creates a new instance of MockSpeechTranscriber.
func NewMockSpeechTranscriber(t interface {
	mock.TestingT
	Helper()
}) *MockSpeechTranscriber {
	m := &MockSpeechTranscriber{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

// MockSpeechSynthesizer is a mock type for the SpeechSynthesizer type
type MockSpeechSynthesizer struct {
	mock.Mock
}

// Synthesize provides a mock function with given fields: ctx, text, voice
func (_m *MockSpeechSynthesizer) Synthesize(ctx context.Context, text string, voice provider.VoiceSettings) (provider.Audio, error) {
	ret := _m.Called(ctx, text, voice)

	var r0 provider.Audio
	if rf, ok := ret.Get(0).(func(context.Context, string, provider.VoiceSettings) provider.Audio); ok {
		r0 = rf(ctx, text, voice)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(provider.Audio)
	}

	return r0, ret.Error(1)
}

// NewMockSpeechSynthesizer creates a new instance of MockSpeechSynthesizer.
func NewMockSpeechSynthesizer(t interface {
	mock.TestingT
	Helper()
}) *MockSpeechSynthesizer {
	m := &MockSpeechSynthesizer{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

// MockImageGenerator is a mock type for the ImageGenerator type
type MockImageGenerator struct {
	mock.Mock
}

// Generate provides a mock function with given fields: ctx, prompt
func (_m *MockImageGenerator) Generate(ctx context.Context, prompt string) (provider.Image, error) {
	ret := _m.Called(ctx, prompt)

	var r0 provider.Image
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(provider.Image)
	}
	return r0, ret.Error(1)
}

// NewMockImageGenerator creates a new instance of MockImageGenerator.
func NewMockImageGenerator(t interface {
	mock.TestingT
	Helper()
}) *MockImageGenerator {
	m := &MockImageGenerator{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var (
	_ provider.TextGenerator     = (*MockTextGenerator)(nil)
	_ provider.VisionAnalyzer    = (*MockVisionAnalyzer)(nil)
	_ provider.SpeechTranscriber = (*MockSpeechTranscriber)(nil)
	_ provider.SpeechSynthesizer = (*MockSpeechSynthesizer)(nil)
	_ provider.ImageGenerator    = (*MockImageGenerator)(nil)
)
