package extract

import (
	"strings"

	"github.com/alia-labs/lab-intake-platform/internal/session"
)

// Merge copies extracted fields into the session, writing only fields that
// are still empty. Values the patient already supplied are never clobbered.
func Merge(sess *session.Session, ex Extraction) {
	if len(sess.Studies) == 0 && len(ex.Studies) > 0 {
		sess.Studies = ex.Studies
	}
	if strings.TrimSpace(sess.InsurancePlan) == "" && ex.InsurancePlan != "" {
		sess.InsurancePlan = ex.InsurancePlan
	}
	if strings.TrimSpace(sess.MemberID) == "" && ex.MemberID != "" {
		sess.MemberID = ex.MemberID
	}
}
