package model

import "github.com/funnytutor6/tutorconnect/internal/domain/enums"

type Decision struct {
	Granted bool              `json:"granted"`
	Reason  enums.GrantReason `json:"reason"`
}

func Denied() Decision {
	return Decision{Granted: false, Reason: enums.GrantReasonNone}
}
