package safety

import (
	"strings"

	"storytime-server/internal/model"
)

// DefaultDenylist - термины, недопустимые в детских историях.
var DefaultDenylist = []string{
	"scary",
	"dangerous",
	"kill",
	"murder",
	"blood",
	"weapon",
	"firearm",
	"violence",
	"violent",
	"horror",
	"terrifying",
	"death",
	"suicide",
	"drugs",
	"alcohol",
	"abuse",
	"nightmare",
}

// Validator проверяет текст по списку запрещенных терминов.
type Validator struct {
	terms []string
}

// NewValidator создает валидатор со стандартным списком и дополнительными терминами.
func NewValidator(extraTerms ...string) *Validator {
	seen := make(map[string]struct{}, len(DefaultDenylist)+len(extraTerms))
	terms := make([]string, 0, len(DefaultDenylist)+len(extraTerms))
	for _, t := range append(append([]string{}, DefaultDenylist...), extraTerms...) {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		terms = append(terms, t)
	}
	return &Validator{terms: terms}
}

// Check ищет термины как подстроки без учета регистра.
// Серьезность: high при более чем двух разных терминах, medium при одном-двух.
func (v *Validator) Check(text string) model.SafetyResult {
	lower := strings.ToLower(text)
	flagged := make([]string, 0)
	for _, term := range v.terms {
		if strings.Contains(lower, term) {
			flagged = append(flagged, term)
		}
	}

	severity := model.SeveritySafe
	switch {
	case len(flagged) > 2:
		severity = model.SeverityHigh
	case len(flagged) > 0:
		severity = model.SeverityMedium
	}

	return model.SafetyResult{
		IsSafe:       len(flagged) == 0,
		FlaggedTerms: flagged,
		Severity:     severity,
	}
}
