package flows

import (
	"github.com/shopspring/decimal"
)

// FlowRecord is one trading date of institutional flows as served to the dashboard.
// JSON names are the frontend contract and must not change.
type FlowRecord struct {
	RunDate             string   `json:"RUN_DT"`
	DIIBuy              Amount   `json:"DII_BUY"`
	DIISell             Amount   `json:"DII_SELL"`
	DIINet              Amount   `json:"DII_NET"`
	FIIBuy              Amount   `json:"FII_BUY"`
	FIISell             Amount   `json:"FII_SELL"`
	FIINet              Amount   `json:"FII_NET"`
	UpdatedAt           *string  `json:"U_TS"`
	InsertedAt          *string  `json:"I_TS"`
	InsertedAtIST       *string  `json:"I_TS_IST"`
	UpdatedAtIST        *string  `json:"U_TS_IST"`
	LatencyHours        *float64 `json:"LATENCY_HOURS"`
	AvailabilitySeconds *float64 `json:"AVAILABILITY_SECONDS"`
}

// Net reduces a full record to the minimal projection.
func (r FlowRecord) Net() NetFlowRecord {
	return NetFlowRecord{RunDate: r.RunDate, DIINet: r.DIINet, FIINet: r.FIINet}
}

// NetFlowRecord is the minimal projection.
type NetFlowRecord struct {
	RunDate string `json:"RUN_DT"`
	DIINet  Amount `json:"DII_NET"`
	FIINet  Amount `json:"FII_NET"`
}

// Amount is a nullable currency value encoded as a bare JSON number.
type Amount struct {
	decimal.NullDecimal
}

// NewAmount wraps a known value.
func NewAmount(d decimal.Decimal) Amount {
	return Amount{decimal.NullDecimal{Decimal: d, Valid: true}}
}

// MarshalJSON emits the exact decimal digits, or null.
func (a Amount) MarshalJSON() ([]byte, error) {
	if !a.Valid {
		return []byte("null"), nil
	}
	return []byte(a.Decimal.String()), nil
}

// String renders the amount for tables and CSV; NULL renders empty.
func (a Amount) String() string {
	if !a.Valid {
		return ""
	}
	return a.Decimal.StringFixed(2)
}

// Float returns the amount as float64, zero when NULL.
func (a Amount) Float() float64 {
	if !a.Valid {
		return 0
	}
	return a.Decimal.InexactFloat64()
}
