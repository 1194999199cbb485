package enums

// OperationKind identifies what a staged checkout will unlock once paid.
type OperationKind string

const (
	OperationKindDirectPurchase OperationKind = "directPurchase"
	OperationKindSubscription   OperationKind = "subscription"
)

type OutcomeStatus string

const (
	OutcomeStatusSuccess OutcomeStatus = "success"
	OutcomeStatusFailure OutcomeStatus = "failure"
	OutcomeStatusUnknown OutcomeStatus = "unknown"
)
