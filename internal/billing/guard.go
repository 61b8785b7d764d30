package billing

import (
	"time"

	"gitlab.com/yelinaung/subscription-engine/internal/models"
)

// Verdict explains whether a subscription may be billed.
type Verdict string

// Lifecycle verdicts.
const (
	VerdictDue        Verdict = "due"
	VerdictInactive   Verdict = "inactive"
	VerdictEnded      Verdict = "ended"
	VerdictNotStarted Verdict = "not_started"
	VerdictNotDue     Verdict = "not_due"
)

// Check classifies a subscription against asOf using calendar dates only.
func Check(sub *models.Subscription, asOf time.Time) Verdict {
	switch {
	case !sub.IsActive:
		return VerdictInactive
	case sub.EndDate != nil && After(sub.NextBilling, *sub.EndDate):
		return VerdictEnded
	case After(sub.StartDate, asOf):
		return VerdictNotStarted
	case After(sub.NextBilling, asOf):
		return VerdictNotDue
	}
	return VerdictDue
}

// IsDue reports whether the subscription's next occurrence should be billed as of asOf.
func IsDue(sub *models.Subscription, asOf time.Time) bool {
	return Check(sub, asOf) == VerdictDue
}
