package enums

type Role string

const (
	RoleRequester Role = "requester"
	RoleProvider  Role = "provider"
)

func (r Role) Valid() bool {
	return r == RoleRequester || r == RoleProvider
}
