package models

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// CanonicalRecord is the normalized view of an event payload. Every field is optional;
// a payload that could not be recognized yields the zero value.
type CanonicalRecord struct {
	OrderId      *int64           `json:"pedido"`
	PdvNumber    *int64           `json:"nr_pdv"`
	CouponNumber *int64           `json:"nr_cupom"`
	TotalValue   *decimal.Decimal `json:"vl_total"`
	Branch       *int64           `json:"filial"`
	CouponDate   *string          `json:"dt_cupom"`
	CouponId     *int64           `json:"id_cupom_pg"`
	Status       *string          `json:"status"`
	SalesAgentId *int64           `json:"vendedor"`
}

func (r CanonicalRecord) IsEmpty() bool {
	return r == (CanonicalRecord{})
}

// KeyKind names the payload attribute a business key was taken from.
type KeyKind string

const (
	KeyOrder  KeyKind = "id_pedido_pg"
	KeyCoupon KeyKind = "id_cupom_pg"
)

// BusinessKey correlates events, tracking rows and the event log.
type BusinessKey struct {
	Kind  KeyKind
	Value int64
}

func (k BusinessKey) String() string {
	return fmt.Sprintf("%s=%d", k.Kind, k.Value)
}

// PayloadPattern is the text fragment a serialized payload carries for this key, e.g. `"id_cupom_pg":123`.
func (k BusinessKey) PayloadPattern() string {
	return `"` + string(k.Kind) + `":` + strconv.FormatInt(k.Value, 10)
}

// BusinessKey returns the order id when present, else the coupon id.
func (r CanonicalRecord) BusinessKey() (BusinessKey, bool) {
	if r.OrderId != nil {
		return BusinessKey{Kind: KeyOrder, Value: *r.OrderId}, true
	}
	if r.CouponId != nil {
		return BusinessKey{Kind: KeyCoupon, Value: *r.CouponId}, true
	}
	return BusinessKey{}, false
}
