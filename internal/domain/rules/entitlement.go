package rules

import (
	"time"

	"github.com/funnytutor6/tutorconnect/internal/domain/enums"
	"github.com/funnytutor6/tutorconnect/internal/domain/model"
)

// IsEntitling reports whether a subscription grants disclosure at now.
// A legacy paid flag only counts for rows created before status tracking.
func IsEntitling(sub *model.Subscription, now time.Time) bool {
	if sub == nil {
		return false
	}
	if sub.Status == nil {
		return sub.LegacyPaidFlag
	}

	switch *sub.Status {
	case enums.SubscriptionStatusActive, enums.SubscriptionStatusTrialing:
	default:
		return false
	}
	if sub.CurrentPeriodEnd == nil {
		return false
	}
	return now.Before(*sub.CurrentPeriodEnd)
}
