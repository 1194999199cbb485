package enums

type ResourceKind string

const (
	ResourceKindRequest ResourceKind = "request"
	ResourceKindOffer   ResourceKind = "offer"
)
