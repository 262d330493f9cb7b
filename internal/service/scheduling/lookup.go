package scheduling

import (
	"strings"

	"github.com/mwombeki/opensrp-server/internal/model"
)

// ClosedAlertFor scans alerts for a closed one whose visit code matches the
// milestone, case-insensitively. Histories are short; a linear scan is fine.
// First match wins.
func ClosedAlertFor(milestone string, alerts []*model.Alert) *model.Alert {
	for _, a := range alerts {
		if a.Status == model.AlertStatusClosed && strings.EqualFold(a.VisitCode, milestone) {
			return a
		}
	}
	return nil
}
