package task

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// DateLayout is the canonical date representation on the wire and in the store.
const DateLayout = "2006-01-02"

// RawRecord is one row of the remote dataset: a single (debtor, revenue code,
// assessment) amount. Several raw records usually belong to one debtor.
type RawRecord struct {
	IPN         Code   `json:"ipn"`
	Name        string `json:"name"`
	Date        Date   `json:"date"`
	RevenueCode Code   `json:"revenue_code"`
	TaxDebt     Amount `json:"tax_debt"`
}

// Code is an identifier the worker may send either as a JSON string or as a
// bare number (tax ids and revenue codes are both digit strings).
type Code string

func (c *Code) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*c = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = Code(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("code: %w", err)
	}
	*c = Code(n.String())
	return nil
}

// Date is a calendar date. It accepts "2006-01-02" and RFC 3339 timestamps
// (the worker serializes SQL dates either way) and always marshals as
// "2006-01-02".
type Date struct {
	t time.Time
}

// NewDate truncates t to its calendar date.
func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a wire date.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, nil
	}
	for _, layout := range []string{DateLayout, time.RFC3339, time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return NewDate(t), nil
		}
	}
	return Date{}, fmt.Errorf("invalid date %q", s)
}

// MustDate is ParseDate for literals; it panics on error.
func MustDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Date) IsZero() bool      { return d.t.IsZero() }
func (d Date) Time() time.Time   { return d.t }
func (d Date) Equal(o Date) bool { return d.t.Equal(o.t) }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date: %w", err)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Amount is an exact decimal money amount.
//
// The worker sends amounts as JSON numbers or numeric strings; both are
// parsed without going through float64. null and "" decode as zero.
type Amount struct {
	d apd.Decimal
}

// ParseAmount parses a decimal string such as "1234.56".
func ParseAmount(s string) (Amount, error) {
	var a Amount
	if err := a.set(s); err != nil {
		return Amount{}, err
	}
	return a, nil
}

// MustAmount is ParseAmount for literals; it panics on error.
func MustAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a *Amount) set(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		a.d.SetInt64(0)
		return nil
	}
	if _, _, err := a.d.SetString(s); err != nil {
		return fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if a.d.Form != apd.Finite {
		return fmt.Errorf("invalid amount %q: not finite", s)
	}
	return nil
}

// Decimal exposes the underlying value for arithmetic.
func (a *Amount) Decimal() *apd.Decimal { return &a.d }

// Cmp compares two amounts numerically (-1, 0, +1).
func (a Amount) Cmp(o Amount) int { return a.d.Cmp(&o.d) }

// String renders the amount in plain notation, never with an exponent.
func (a Amount) String() string { return a.d.Text('f') }

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		a.d.SetInt64(0)
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		return a.set(s)
	}
	return a.set(string(b))
}

// sumContext keeps 34 significant digits, enough for any ledger total. A sum
// that would need rounding is an error, never a silently changed total.
var sumContext = func() *apd.Context {
	c := apd.BaseContext.WithPrecision(34)
	c.Traps |= apd.Inexact
	return c
}()

// Add returns a+o without modifying either operand.
func (a Amount) Add(o Amount) (Amount, error) {
	var out Amount
	if _, err := sumContext.Add(&out.d, &a.d, &o.d); err != nil {
		return Amount{}, fmt.Errorf("add %s + %s: %w", a, o, err)
	}
	return out, nil
}
