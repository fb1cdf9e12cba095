package domain

import "time"

// Account is a registered user of the host application.
type Account struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
}

// CustomerInfo is the payload returned to the helpdesk when it enriches a
// ticket. Unknown emails get a nil Name and an empty, non-nil Metadata map.
type CustomerInfo struct {
	Name     *string        `json:"name"`
	Metadata map[string]any `json:"metadata"`
}

// EmptyCustomerInfo is the uniform response for emails without an account.
func EmptyCustomerInfo() CustomerInfo {
	return CustomerInfo{Metadata: map[string]any{}}
}
