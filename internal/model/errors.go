package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Общие ошибки сервиса
var (
	ErrNotFound      = errors.New("resource not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrInvalidStatus = errors.New("invalid story status for this operation")
	ErrStoryBusy     = errors.New("story already has an active run")
	ErrQueueFull     = errors.New("generation queue is full")
)

// Категории ошибок конвейера генерации
var (
	ErrTransientProvider    = errors.New("transient provider error")
	ErrNonRetryableProvider = errors.New("non-retryable provider error")
	ErrContentSafety        = errors.New("content safety violation")
	ErrDegradableAsset      = errors.New("degradable asset error")
	ErrPersistence          = errors.New("persistence error")
)

// ProviderError - ошибка внешнего AI-провайдера с признаком повторяемости.
type ProviderError struct {
	Provider   string
	Op         string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s failed", e.Provider, e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is сопоставляет ошибку с ErrTransientProvider или ErrNonRetryableProvider.
func (e *ProviderError) Is(target error) bool {
	switch target {
	case ErrTransientProvider:
		return e.Retryable
	case ErrNonRetryableProvider:
		return !e.Retryable
	}
	return false
}

// SafetyViolationError - сгенерированный текст не прошел проверку безопасности.
type SafetyViolationError struct {
	Result SafetyResult
}

func (e *SafetyViolationError) Error() string {
	return fmt.Sprintf("content safety violation (severity %s): %s",
		e.Result.Severity, strings.Join(e.Result.FlaggedTerms, ", "))
}

func (e *SafetyViolationError) Is(target error) bool { return target == ErrContentSafety }

// AssetError - сбой генерации необязательного артефакта (заголовок, иллюстрация).
type AssetError struct {
	Asset string
	Err   error
}

func (e *AssetError) Error() string { return fmt.Sprintf("asset %s: %v", e.Asset, e.Err) }

func (e *AssetError) Unwrap() error { return e.Err }

func (e *AssetError) Is(target error) bool { return target == ErrDegradableAsset }

// PersistenceError оборачивает сбой хранилища документов или объектов.
func PersistenceError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}

// IsRetryable решает, стоит ли повторять операцию после ошибки.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, ErrNonRetryableProvider),
		errors.Is(err, ErrContentSafety),
		errors.Is(err, ErrPersistence),
		errors.Is(err, ErrInvalidInput):
		return false
	}
	return true
}
