package classifier

import (
	"strings"

	"github.com/samber/lo"
	"github.com/xaenox/sentiment-bot/internal/models"
)

const (
	PrefixSentiment     = "SENTIMENT:"
	PrefixJustification = "JUSTIFICATION:"
	PrefixEmotions      = "EMOTIONS:"
	PrefixUrgency       = "URGENCY:"
)

type labelledField struct {
	prefix string
	value  string
}

// ParseResponse extracts the four labelled lines from a model answer.
// Lines may come in any order; when a prefix repeats the last line wins.
// The result is all-or-nothing.
func ParseResponse(raw string) (models.ClassificationResult, error) {
	var result models.ClassificationResult

	for _, line := range strings.FieldsFunc(raw, isLineBreak) {
		switch {
		case strings.HasPrefix(line, PrefixSentiment):
			result.Sentiment = fieldValue(line, PrefixSentiment)
		case strings.HasPrefix(line, PrefixJustification):
			result.Justification = fieldValue(line, PrefixJustification)
		case strings.HasPrefix(line, PrefixEmotions):
			result.Emotion = fieldValue(line, PrefixEmotions)
		case strings.HasPrefix(line, PrefixUrgency):
			result.Urgency = fieldValue(line, PrefixUrgency)
		}
	}

	fields := []labelledField{
		{PrefixSentiment, result.Sentiment},
		{PrefixJustification, result.Justification},
		{PrefixEmotions, result.Emotion},
		{PrefixUrgency, result.Urgency},
	}
	missing := lo.FilterMap(fields, func(f labelledField, _ int) (string, bool) {
		return strings.TrimSuffix(f.prefix, ":"), f.value == ""
	})
	if len(missing) > 0 {
		return models.ClassificationResult{}, &ParseError{Raw: raw, Missing: missing}
	}

	return result, nil
}

// isLineBreak reports line boundaries, including a bare CR, VT, FF and the
// Unicode separators.
func isLineBreak(r rune) bool {
	switch r {
	case '\n', '\r', '\v', '\f', '\x1c', '\x1d', '\x1e', '\u0085', '\u2028', '\u2029':
		return true
	}
	return false
}

func fieldValue(line, prefix string) string {
	return strings.TrimSpace(line[len(prefix):])
}
