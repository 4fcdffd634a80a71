package storage

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Category - тип сохраняемого артефакта, первая часть ключа объекта.
type Category string

const (
	CategoryDrawing      Category = "drawings"
	CategoryVoiceInput   Category = "voice"
	CategoryNarration    Category = "narration"
	CategoryIllustration Category = "illustrations"
)

// Metadata - атрибуты объекта.
type Metadata struct {
	Category Category
	StoryID  uuid.UUID
	Extra    map[string]string
}

// ErrObjectNotFound - по URL нет объекта, либо URL указывает не в это хранилище.
var ErrObjectNotFound = errors.New("object not found")

// Object - содержимое сохраненного артефакта.
type Object struct {
	Data        []byte
	ContentType string
}

// ObjectStorage сохраняет бинарные артефакты и возвращает публичный URL.
// Get читает обратно объект по URL, который вернул Put.
type ObjectStorage interface {
	Put(ctx context.Context, data []byte, contentType string, meta Metadata) (string, error)
	Get(ctx context.Context, url string) (Object, error)
}

var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"image/gif":  ".gif",
	"audio/mpeg": ".mp3",
	"audio/mp4":  ".m4a",
	"audio/wav":  ".wav",
	"audio/webm": ".webm",
	"audio/ogg":  ".ogg",
}

func extensionFor(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	if ext, ok := extensions[ct]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(ct); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

// objectKey строит ключ вида <category>/<yyyy/mm/dd>/<story>/<uuid><ext>.
func objectKey(meta Metadata, contentType string, now time.Time) string {
	category := meta.Category
	if category == "" {
		category = "misc"
	}
	parts := []string{string(category), now.UTC().Format("2006/01/02")}
	if meta.StoryID != uuid.Nil {
		parts = append(parts, meta.StoryID.String())
	}
	parts = append(parts, uuid.NewString()+extensionFor(contentType))
	return path.Join(parts...)
}

// contentTypeFor - обратное к extensionFor для известных расширений.
func contentTypeFor(key string) string {
	ext := strings.ToLower(path.Ext(key))
	for ct, e := range extensions {
		if e == ext {
			return ct
		}
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// keyFromURL выделяет ключ объекта из URL, построенного joinURL с тем же base.
func keyFromURL(base, url string) (string, error) {
	prefix := strings.TrimRight(base, "/") + "/"
	key, ok := strings.CutPrefix(url, prefix)
	if !ok || key == "" || strings.Contains(key, "..") {
		return "", fmt.Errorf("%w: %s is outside of %s", ErrObjectNotFound, url, prefix)
	}
	return key, nil
}

func joinURL(base, key string) string {
	return fmt.Sprintf("%s/%s", strings.TrimRight(base, "/"), key)
}
