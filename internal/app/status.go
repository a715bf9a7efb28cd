package app

import "strings"

const (
	StatusActive     = "ACTIVE"
	StatusUnassigned = "UNASSIGNED"
	StatusCanceled   = "CANCELED"
	StatusReview     = "REVIEW"
	StatusDone       = "DONE"
)

const defaultStatus = StatusUnassigned

var allowedStatuses = map[string]struct{}{
	StatusActive:     {},
	StatusUnassigned: {},
	StatusCanceled:   {},
	StatusReview:     {},
	StatusDone:       {},
}

// Labels shown by the web board.
var thaiStatusLabels = map[string]string{
	"ยังไม่มอบหมาย": StatusUnassigned,
	"กำลังทำ":       StatusActive,
	"รอตรวจ":        StatusReview,
	"เสร็จแล้ว":     StatusDone,
	"ยกเลิก":        StatusCanceled,
}

// normalizeStatus maps an English code (any case) or a Thai board label to
// a status code. It reports false for anything else, including blank input.
func normalizeStatus(input string) (string, bool) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return "", false
	}
	if code, ok := thaiStatusLabels[raw]; ok {
		return code, true
	}
	upper := strings.ToUpper(raw)
	if _, ok := allowedStatuses[upper]; ok {
		return upper, true
	}
	return "", false
}
