package enums

type ConnectionStatus string

const (
	ConnectionStatusPending   ConnectionStatus = "pending"
	ConnectionStatusPurchased ConnectionStatus = "purchased"
	ConnectionStatusRejected  ConnectionStatus = "rejected"
)

// GrantReason records which entitlement source moved a request to purchased.
type GrantReason string

const (
	GrantReasonNone                    GrantReason = "none"
	GrantReasonDirectPurchase          GrantReason = "directPurchase"
	GrantReasonSubscriptionEntitlement GrantReason = "subscriptionEntitlement"
)
