package domain

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
)

type EntityType string

const (
	EntityAccount  EntityType = "account"
	EntityCustomer EntityType = "customer"
	EntityInvoice  EntityType = "invoice_entity"
	EntityBatch    EntityType = "batch"
)

// EntityTypes is the reconcile order: leaves first.
var EntityTypes = []EntityType{EntityAccount, EntityCustomer, EntityInvoice, EntityBatch}

func ParseEntityType(raw string) (EntityType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "account", "accounts":
		return EntityAccount, nil
	case "customer", "customers":
		return EntityCustomer, nil
	case "invoice_entity", "invoice-entity", "invoice_entities", "invoice-entities", "invoice":
		return EntityInvoice, nil
	case "batch", "batches":
		return EntityBatch, nil
	}
	return "", ErrInvalidEntityType
}

// Table returns the table holding the entity's cached counters.
func (t EntityType) Table() string {
	switch t {
	case EntityAccount:
		return "accounts"
	case EntityCustomer:
		return "customers"
	case EntityInvoice:
		return "invoice_entities"
	case EntityBatch:
		return "batches"
	}
	return ""
}

// UnknownErr returns the not-found error for the entity type.
func (t EntityType) UnknownErr() error {
	switch t {
	case EntityAccount:
		return ErrUnknownAccount
	case EntityCustomer:
		return ErrUnknownCustomer
	case EntityInvoice:
		return ErrUnknownInvoiceEntity
	case EntityBatch:
		return ErrUnknownBatch
	}
	return ErrInvalidEntityType
}

type EntityRef struct {
	Type EntityType   `json:"type"`
	ID   snowflake.ID `json:"id"`
}

func (r EntityRef) String() string {
	return fmt.Sprintf("%s:%s", r.Type, r.ID)
}

// Axis is an attribution dimension of an account.
type Axis string

const (
	AxisInvoice  Axis = "invoice"
	AxisCustomer Axis = "customer"
	AxisBatch    Axis = "batch"
)

func ParseAxis(raw string) (Axis, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "invoice", "invoice_entity", "mi":
		return AxisInvoice, nil
	case "customer", "mc":
		return AxisCustomer, nil
	case "batch":
		return AxisBatch, nil
	}
	return "", ErrInvalidAxis
}

// EntityType is the type of entity an axis points at.
func (a Axis) EntityType() EntityType {
	switch a {
	case AxisInvoice:
		return EntityInvoice
	case AxisCustomer:
		return EntityCustomer
	case AxisBatch:
		return EntityBatch
	}
	return ""
}

// Column is the accounts column holding the axis pointer.
func (a Axis) Column() string {
	switch a {
	case AxisInvoice:
		return "current_invoice_id"
	case AxisCustomer:
		return "current_customer_id"
	case AxisBatch:
		return "batch_id"
	}
	return ""
}

// SameID compares nullable ids.
func SameID(a, b *snowflake.ID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
