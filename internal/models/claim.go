package models

import "time"

type DocumentStatus string

const (
	DocumentPending       DocumentStatus = "pending"
	DocumentVerified      DocumentStatus = "verified"
	DocumentRejected      DocumentStatus = "rejected"
	DocumentNeedsReupload DocumentStatus = "needs_reupload"
)

func (s DocumentStatus) Valid() bool {
	switch s {
	case DocumentPending, DocumentVerified, DocumentRejected, DocumentNeedsReupload:
		return true
	default:
		return false
	}
}

type ClaimDocument struct {
	Name   string         `json:"name"`
	Status DocumentStatus `json:"status"`
	Reason string         `json:"reason,omitempty"`
}

type PayoutDetails struct {
	BankName      string `json:"bankName,omitempty"`
	BranchName    string `json:"branchName,omitempty"`
	AccountName   string `json:"accountName,omitempty"`
	AccountNumber string `json:"accountNumber,omitempty"`
}

type Claim struct {
	ClaimID         string          `json:"_id"`
	TokenID         string          `json:"tokenId"`
	ClaimType       string          `json:"claimType,omitempty"`
	Documents       []ClaimDocument `json:"documents"`
	EstimatedAmount *float64        `json:"estimatedAmount,omitempty"`
	ApprovedAmount  *float64        `json:"approvedAmount,omitempty"`
	Currency        string          `json:"currency,omitempty"`
	Payout          PayoutDetails   `json:"payout"`
	Message         string          `json:"message,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	UpdatedAt       *time.Time      `json:"updatedAt,omitempty"`
}

// ClaimUpdate is a partial claim; nil fields are left untouched by the backend.
type ClaimUpdate struct {
	ClaimType       *string         `json:"claimType,omitempty"`
	Documents       []ClaimDocument `json:"documents,omitempty"`
	EstimatedAmount *float64        `json:"estimatedAmount,omitempty"`
	ApprovedAmount  *float64        `json:"approvedAmount,omitempty"`
	Currency        *string         `json:"currency,omitempty"`
	Payout          *PayoutDetails  `json:"payout,omitempty"`
	Message         *string         `json:"message,omitempty"`
	Notes           *string         `json:"notes,omitempty"`
}

// UpdateFromDraft builds a full update from a draft claim.
func UpdateFromDraft(c Claim) ClaimUpdate {
	payout := c.Payout
	update := ClaimUpdate{
		Documents:       append([]ClaimDocument(nil), c.Documents...),
		EstimatedAmount: c.EstimatedAmount,
		ApprovedAmount:  c.ApprovedAmount,
		Payout:          &payout,
		Message:         &c.Message,
		Notes:           &c.Notes,
	}
	if c.ClaimType != "" {
		update.ClaimType = &c.ClaimType
	}
	if c.Currency != "" {
		update.Currency = &c.Currency
	}
	return update
}

// Merge applies the set fields of u onto c.
func (c Claim) Merge(u ClaimUpdate) Claim {
	if u.ClaimType != nil {
		c.ClaimType = *u.ClaimType
	}
	if u.Documents != nil {
		c.Documents = append([]ClaimDocument(nil), u.Documents...)
	}
	if u.EstimatedAmount != nil {
		v := *u.EstimatedAmount
		c.EstimatedAmount = &v
	}
	if u.ApprovedAmount != nil {
		v := *u.ApprovedAmount
		c.ApprovedAmount = &v
	}
	if u.Currency != nil {
		c.Currency = *u.Currency
	}
	if u.Payout != nil {
		c.Payout = *u.Payout
	}
	if u.Message != nil {
		c.Message = *u.Message
	}
	if u.Notes != nil {
		c.Notes = *u.Notes
	}
	return c
}
