package models

import (
	"strings"
	"time"
)

type OrderClassification string

const (
	ClassificationDebt           OrderClassification = "divida"
	ClassificationSale           OrderClassification = "venda"
	ClassificationPersonalCredit OrderClassification = "credito_pessoal"
)

// Classify decides which validation path an outstanding error takes.
func Classify(row OutstandingError) OrderClassification {
	switch {
	case row.OrderId != nil:
		return ClassificationSale
	case row.CouponId != nil:
		return ClassificationDebt
	default:
		return ClassificationPersonalCredit
	}
}

// ValidationKey is the key the event log is searched by for this row, if any.
func (c OrderClassification) ValidationKey(row OutstandingError) (BusinessKey, bool) {
	switch c {
	case ClassificationSale:
		return BusinessKey{Kind: KeyOrder, Value: *row.OrderId}, true
	case ClassificationDebt:
		return BusinessKey{Kind: KeyCoupon, Value: *row.CouponId}, true
	}
	return BusinessKey{}, false
}

type OrderSubtype string

const (
	SubtypePosterior OrderSubtype = "P"
	SubtypeWalkIn    OrderSubtype = "R"
)

// ParseOrderSubtype maps Cd_modal_ent to a subtype. Unknown codes return false.
func ParseOrderSubtype(code string) (OrderSubtype, bool) {
	switch OrderSubtype(strings.ToUpper(strings.TrimSpace(code))) {
	case SubtypePosterior:
		return SubtypePosterior, true
	case SubtypeWalkIn:
		return SubtypeWalkIn, true
	}
	return "", false
}

// OrderTypeRecord is a pedido_venda_multiplo row.
type OrderTypeRecord struct {
	Branch   int
	OrderId  int64
	Modality string
}

// DeliveredFlag marks a WMB row as handed off to fulfillment.
const DeliveredFlag = "S"

// PosteriorDelivery is a Wmb_Pedido_Venda_ic row.
type PosteriorDelivery struct {
	RowId     string
	Branch    int
	OrderId   int64
	Delivered string
}

// CouponDelivery is a wmb_cupom_ic row.
type CouponDelivery struct {
	Branch       int
	CouponNumber int64
	Delivered    string
	ChildOrderId *int64
	CouponDate   *time.Time
}

func IsDelivered(flag string) bool {
	return strings.EqualFold(strings.TrimSpace(flag), DeliveredFlag)
}
