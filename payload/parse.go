package payload

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

type legacyItem struct {
	OrderId      flexInt     `json:"id_pedido_pg"`
	PdvNumber    flexInt     `json:"nr_pdv"`
	CouponNumber flexInt     `json:"nr_cupom"`
	CouponValue  flexDecimal `json:"vl_cupom"`
	Branch       flexInt     `json:"filial_saida"`
	CouponDate   flexString  `json:"dt_cupom"`
	CouponId     flexInt     `json:"id_cupom_pg"`
	Status       flexString  `json:"status"`
	SalesAgentId flexInt     `json:"id_ven"`
}

type correspondentItem struct {
	Complement json.RawMessage `json:"cupomComplemento"`
}

type couponComplement struct {
	PdvNumber    flexInt     `json:"pdv"`
	CouponNumber flexInt     `json:"cupom"`
	Value        flexDecimal `json:"valor"`
	Branch       flexInt     `json:"filial"`
	CouponDate   flexString  `json:"dt_cupom"`
}

// Parse resolves the shape of a payload document. It never fails: anything that does not fit
// one of the two known shapes comes back as Unrecognized with the reason.
func Parse(raw []byte) Shape {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(raw, &root); err != nil {
		return Unrecognized{Reason: "invalid payload json: " + err.Error()}
	}
	if root == nil {
		return Unrecognized{Reason: "payload is not an object"}
	}
	dataRaw, ok := root["data"]
	if !ok || isNull(dataRaw) {
		return Unrecognized{Reason: "payload has no data"}
	}
	var data map[string]json.RawMessage
	if err := json.Unmarshal(dataRaw, &data); err != nil || data == nil {
		return Unrecognized{Reason: "data is not an object"}
	}

	if legacyRaw, ok := data["legacyData"]; ok {
		return parseLegacy(legacyRaw)
	}
	return parseBankCorrespondent(data)
}

func parseLegacy(raw json.RawMessage) Shape {
	if isNull(raw) {
		return LegacySale{}
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return Unrecognized{Reason: "legacyData is not an array"}
	}
	if len(items) == 0 {
		return LegacySale{}
	}
	if isNull(items[0]) {
		return Unrecognized{Reason: "legacyData[0] is null"}
	}
	var it legacyItem
	if err := json.Unmarshal(items[0], &it); err != nil {
		return Unrecognized{Reason: "legacyData[0] is not an object"}
	}
	return LegacySale{
		OrderId:      it.OrderId.v,
		PdvNumber:    it.PdvNumber.v,
		CouponNumber: it.CouponNumber.v,
		CouponValue:  it.CouponValue.v,
		Branch:       it.Branch.v,
		CouponDate:   it.CouponDate.v,
		CouponId:     it.CouponId.v,
		Status:       it.Status.v,
		SalesAgentId: it.SalesAgentId.v,
	}
}

func parseBankCorrespondent(data map[string]json.RawMessage) Shape {
	var couponId flexInt
	if raw, ok := data["id_cupom_pg"]; ok {
		_ = couponId.UnmarshalJSON(raw)
	}
	out := BankCorrespondent{CouponId: couponId.v}

	// A missing container falls back to an empty one; an explicit null is rejected.
	cbRaw, ok := data["cb"]
	if !ok {
		return out
	}
	if isNull(cbRaw) {
		return Unrecognized{Reason: "data.cb is null"}
	}
	var cb map[string]json.RawMessage
	if err := json.Unmarshal(cbRaw, &cb); err != nil {
		return Unrecognized{Reason: "data.cb is not an object"}
	}
	listRaw, ok := cb["CORRESPONDENTE_BANCARIO"]
	if !ok || isNull(listRaw) {
		return out
	}
	var items []json.RawMessage
	if err := json.Unmarshal(listRaw, &items); err != nil {
		return Unrecognized{Reason: "CORRESPONDENTE_BANCARIO is not an array"}
	}
	if len(items) == 0 {
		return out
	}
	if isNull(items[0]) {
		return Unrecognized{Reason: "CORRESPONDENTE_BANCARIO[0] is null"}
	}
	var item correspondentItem
	if err := json.Unmarshal(items[0], &item); err != nil {
		return Unrecognized{Reason: "CORRESPONDENTE_BANCARIO[0] is not an object"}
	}
	if len(item.Complement) == 0 {
		return out
	}
	if isNull(item.Complement) {
		return Unrecognized{Reason: "cupomComplemento is null"}
	}
	var cc couponComplement
	if err := json.Unmarshal(item.Complement, &cc); err != nil {
		return Unrecognized{Reason: "cupomComplemento is not an object"}
	}
	out.PdvNumber = cc.PdvNumber.v
	out.CouponNumber = cc.CouponNumber.v
	out.Value = cc.Value.v
	out.Branch = cc.Branch.v
	out.CouponDate = cc.CouponDate.v
	return out
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// flexInt accepts a JSON number or a numeric string. Any other value leaves it unset.
type flexInt struct{ v *int64 }

func (f *flexInt) UnmarshalJSON(b []byte) error {
	f.v = nil
	text, ok := scalarText(b)
	if !ok {
		return nil
	}
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		f.v = &n
		return nil
	}
	if fl, err := strconv.ParseFloat(text, 64); err == nil && fl == math.Trunc(fl) && math.Abs(fl) < math.MaxInt64 {
		n := int64(fl)
		f.v = &n
	}
	return nil
}

type flexDecimal struct{ v *decimal.Decimal }

func (f *flexDecimal) UnmarshalJSON(b []byte) error {
	f.v = nil
	text, ok := scalarText(b)
	if !ok {
		return nil
	}
	if d, err := decimal.NewFromString(text); err == nil {
		f.v = &d
	}
	return nil
}

type flexString struct{ v *string }

func (f *flexString) UnmarshalJSON(b []byte) error {
	f.v = nil
	text, ok := scalarText(b)
	if !ok {
		return nil
	}
	f.v = &text
	return nil
}

// scalarText returns the text of a JSON string or number.
func scalarText(b []byte) (string, bool) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return "", false
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return "", false
		}
		return strings.TrimSpace(s), true
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return string(b), true
	}
	return "", false
}
