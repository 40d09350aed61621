package service

import (
	"strings"

	"marketchat/internal/domain/entity"
)

// NormalizeLabel maps a raw label value to one of GOOD, MEDIUM or BAD.
// Anything else, including the empty string, means "no label".
func NormalizeLabel(raw string) *entity.Label {
	var l entity.Label
	switch entity.Label(strings.ToUpper(strings.TrimSpace(raw))) {
	case entity.LabelGood:
		l = entity.LabelGood
	case entity.LabelMedium:
		l = entity.LabelMedium
	case entity.LabelBad:
		l = entity.LabelBad
	default:
		return nil
	}
	return &l
}

// LabelText is the tag text shown next to a labelled conversation.
func LabelText(l *entity.Label) string {
	if l == nil {
		return ""
	}
	switch *l {
	case entity.LabelGood:
		return "Good"
	case entity.LabelMedium:
		return "Medium"
	case entity.LabelBad:
		return "Bad"
	}
	return ""
}
