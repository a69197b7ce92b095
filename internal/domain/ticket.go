package domain

import "time"

// TicketStatus is the state of a service ticket.
type TicketStatus string

const (
	TicketOpen       TicketStatus = "Open"
	TicketInProgress TicketStatus = "InProgress"
	TicketClosed     TicketStatus = "Closed"
)

// ServiceTicket is a repair or maintenance request against a product.
type ServiceTicket struct {
	ID         string       `json:"id"`
	ProductID  string       `json:"productId"`
	UserID     string       `json:"userId"`
	CompanyID  string       `json:"companyId"`
	Issue      string       `json:"issue"`
	Status     TicketStatus `json:"status"`
	Resolution string       `json:"resolution,omitempty"`
	CreatedAt  time.Time    `json:"createdAt"`
	UpdatedAt  time.Time    `json:"updatedAt"`
}

// CanMoveTo reports whether next is a legal successor of s.
func (s TicketStatus) CanMoveTo(next TicketStatus) bool {
	switch s {
	case TicketOpen:
		return next == TicketInProgress || next == TicketClosed
	case TicketInProgress:
		return next == TicketClosed || next == TicketOpen
	default:
		return false
	}
}
