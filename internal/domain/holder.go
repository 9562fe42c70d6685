package domain

import "fmt"

type OwnerKind string

const (
	OwnerBusiness OwnerKind = "business"
	OwnerCustomer OwnerKind = "customer"
	OwnerProvider OwnerKind = "provider"
	OwnerSystem   OwnerKind = "system"
)

// Holder is the tagged owner of a ledger account. System accounts use ID 0.
type Holder struct {
	Kind OwnerKind `json:"kind"`
	ID   int64     `json:"id"`
}

func BusinessHolder(id int64) Holder { return Holder{Kind: OwnerBusiness, ID: id} }
func CustomerHolder(id int64) Holder { return Holder{Kind: OwnerCustomer, ID: id} }
func ProviderHolder(id int64) Holder { return Holder{Kind: OwnerProvider, ID: id} }
func SystemHolder() Holder           { return Holder{Kind: OwnerSystem} }

func (h Holder) String() string {
	if h.Kind == OwnerSystem {
		return string(OwnerSystem)
	}
	return fmt.Sprintf("%s:%d", h.Kind, h.ID)
}

// AuthContext is who is acting and in which mode. It is built per request
// and passed explicitly into every action.
type AuthContext struct {
	BusinessID int64
	Mode       Mode
	Actor      string
}
