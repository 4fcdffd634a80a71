package model

import "sort"

// StoryType - описание жанра истории.
type StoryType struct {
	Key                string `json:"key"`
	Name               string `json:"name"`
	Characteristics    string `json:"characteristics"`
	BackgroundMusicURL string `json:"backgroundMusicUrl,omitempty"`
}

// DefaultStoryType используется, если пользователь не выбрал жанр.
const DefaultStoryType = "adventure"

var storyTypes = map[string]StoryType{
	"adventure": {
		Key:             "adventure",
		Name:            "Adventure",
		Characteristics: "an exciting journey with brave heroes, discovery and teamwork",
	},
	"bedtime": {
		Key:             "bedtime",
		Name:            "Bedtime",
		Characteristics: "a calm, soothing story with gentle pacing that ends peacefully",
	},
	"fairy_tale": {
		Key:             "fairy_tale",
		Name:            "Fairy Tale",
		Characteristics: "a magical world with talking animals, kind wizards and a clear moral",
	},
	"funny": {
		Key:             "funny",
		Name:            "Funny",
		Characteristics: "playful humor, silly situations and a cheerful ending",
	},
	"educational": {
		Key:             "educational",
		Name:            "Educational",
		Characteristics: "a story that teaches a simple fact about nature, science or the world",
	},
}

// StoryTypeCatalog - статический справочник жанров.
type StoryTypeCatalog struct {
	types map[string]StoryType
}

// NewStoryTypeCatalog создает справочник. musicURLs задает фоновую музыку по ключу жанра.
func NewStoryTypeCatalog(musicURLs map[string]string) *StoryTypeCatalog {
	types := make(map[string]StoryType, len(storyTypes))
	for k, t := range storyTypes {
		if u, ok := musicURLs[k]; ok {
			t.BackgroundMusicURL = u
		}
		types[k] = t
	}
	return &StoryTypeCatalog{types: types}
}

// Get возвращает жанр по ключу.
func (c *StoryTypeCatalog) Get(key string) (StoryType, bool) {
	t, ok := c.types[key]
	return t, ok
}

// List возвращает жанры, отсортированные по ключу.
func (c *StoryTypeCatalog) List() []StoryType {
	out := make([]StoryType, 0, len(c.types))
	for _, t := range c.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
