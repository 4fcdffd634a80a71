package safety

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"storytime-server/internal/model"
)

func TestCheck(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name     string
		text     string
		safe     bool
		severity model.Severity
		flagged  []string
	}{
		{"clean", "A happy story about friendship", true, model.SeveritySafe, []string{}},
		{"one term", "It was a SCARY night.", false, model.SeverityMedium, []string{"scary"}},
		{"two terms", "The scary dragon had a weapon.", false, model.SeverityMedium, []string{"scary", "weapon"}},
		{"three terms", "Blood, a weapon and a nightmare.", false, model.SeverityHigh, []string{"blood", "weapon", "nightmare"}},
		{"substring match", "The dragon was a killjoy.", false, model.SeverityMedium, []string{"kill"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Check(tt.text)
			assert.Equal(t, tt.safe, res.IsSafe)
			assert.Equal(t, tt.severity, res.Severity)
			assert.ElementsMatch(t, tt.flagged, res.FlaggedTerms)
		})
	}
}

func TestCheck_RepeatedTermCountsOnce(t *testing.T) {
	res := NewValidator().Check("scary scary scary scary")
	assert.Equal(t, []string{"scary"}, res.FlaggedTerms)
	assert.Equal(t, model.SeverityMedium, res.Severity)
}

func TestNewValidator_ExtraTerms(t *testing.T) {
	v := NewValidator(" Zombie ", "", "scary")
	res := v.Check("a zombie appeared")
	assert.False(t, res.IsSafe)
	assert.Equal(t, []string{"zombie"}, res.FlaggedTerms)
	assert.Len(t, v.terms, len(DefaultDenylist)+1)
}
