package models

import (
	"time"

	"github.com/google/uuid"
)

// Lead is a captured prospect. Custom attributes live in LeadFieldValue rows.
type Lead struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	Name       string     `json:"name" db:"name"`
	Email      string     `json:"email" db:"email"`
	Phone      string     `json:"phone" db:"phone"`
	Status     string     `json:"status" db:"status"`
	Source     string     `json:"source" db:"source"`
	OwnerID    *uuid.UUID `json:"owner_id,omitempty" db:"owner_id"`
	Tags       []string   `json:"tags" db:"tags"`
	RawPayload JSONB      `json:"raw_payload,omitempty" db:"raw_payload"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// Core lead columns addressable by update_field and conditions
const (
	LeadColumnName   = "name"
	LeadColumnEmail  = "email"
	LeadColumnPhone  = "phone"
	LeadColumnStatus = "status"
	LeadColumnSource = "source"
)

// IsLeadColumn reports whether field names a core lead column.
func IsLeadColumn(field string) bool {
	switch field {
	case LeadColumnName, LeadColumnEmail, LeadColumnPhone, LeadColumnStatus, LeadColumnSource:
		return true
	}
	return false
}

// LeadField is a dynamically defined custom lead attribute
type LeadField struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Label     string    `json:"label" db:"label"`
	FieldType string    `json:"field_type" db:"field_type"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// LeadFieldValue is the value of one custom field for one lead
type LeadFieldValue struct {
	ID          uuid.UUID `json:"id" db:"id"`
	LeadID      uuid.UUID `json:"lead_id" db:"lead_id"`
	LeadFieldID uuid.UUID `json:"lead_field_id" db:"lead_field_id"`
	Value       string    `json:"value" db:"value"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// FacebookPage stores per-page credentials for the Graph API
type FacebookPage struct {
	PageID      string    `json:"page_id" db:"page_id"`
	Name        string    `json:"name" db:"name"`
	AccessToken string    `json:"-" db:"access_token"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// FacebookLeadForm is a lead ads form subscribed on a page
type FacebookLeadForm struct {
	ID        uuid.UUID `json:"id" db:"id"`
	PageID    string    `json:"page_id" db:"page_id"`
	FormID    string    `json:"form_id" db:"form_id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// FacebookFormFieldMapping maps a form question name to an internal LeadField
type FacebookFormFieldMapping struct {
	ID                uuid.UUID `json:"id" db:"id"`
	FormID            uuid.UUID `json:"form_id" db:"form_id"`
	ExternalFieldName string    `json:"external_field_name" db:"external_field_name"`
	LeadFieldID       uuid.UUID `json:"lead_field_id" db:"lead_field_id"`
}
