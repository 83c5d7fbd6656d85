package payout

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/production"
)

// =============================================================================
// WIRE FORM
// =============================================================================
//
//	{
//	  "allocation": [
//	    {"type": "expenses_first"},
//	    {"type": "percentage", "value": "10", "label": "house"},
//	    {"type": "remainder", "label": "performers"}
//	  ],
//	  "distribution": {"method": "equal", "default_shares": "1"},
//	  "performer_overrides": {"p-17": {"shares": "2"}, "group:g-3": {"amount": "150"}}
//	}
//
// Override keys without a kind prefix refer to people.

type RulesDocument struct {
	Allocation         []StepDocument              `json:"allocation"`
	Distribution       MethodDocument              `json:"distribution"`
	PerformerOverrides map[string]OverrideDocument `json:"performer_overrides,omitempty"`
}

type StepDocument struct {
	Type  string           `json:"type"`
	Value *decimal.Decimal `json:"value,omitempty"`
	Label string           `json:"label,omitempty"`
}

type MethodDocument struct {
	Method        string           `json:"method"`
	DefaultShares *decimal.Decimal `json:"default_shares,omitempty"`
	Rate          *decimal.Decimal `json:"rate,omitempty"`
	Minimum       *decimal.Decimal `json:"minimum,omitempty"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
}

type OverrideDocument struct {
	Shares  *decimal.Decimal `json:"shares,omitempty"`
	Rate    *decimal.Decimal `json:"rate,omitempty"`
	Minimum *decimal.Decimal `json:"minimum,omitempty"`
	Amount  *decimal.Decimal `json:"amount,omitempty"`
}

// =============================================================================
// DECODE
// =============================================================================

// ParseRules decodes and validates a JSON rules document.
func ParseRules(data []byte) (Rules, error) {
	var doc RulesDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return Rules{}, &generic.RulesError{Reason: err.Error()}
	}
	return doc.Rules()
}

// Rules converts the wire form into validated rules.
func (doc RulesDocument) Rules() (Rules, error) {
	var r Rules

	for i, s := range doc.Allocation {
		path := fmt.Sprintf("allocation[%d]", i)
		switch s.Type {
		case StepExpensesFirst:
			r.Allocation = append(r.Allocation, ExpensesFirst{})
		case StepPercentage:
			if s.Value == nil {
				return Rules{}, &generic.RulesError{Path: path + ".value", Reason: "required"}
			}
			label := s.Label
			if label == "" {
				label = StepPercentage
			}
			r.Allocation = append(r.Allocation, Percentage{Value: *s.Value, Label: label})
		case StepRemainder:
			label := s.Label
			if label == "" {
				label = "performers"
			}
			r.Allocation = append(r.Allocation, Remainder{Label: label})
		default:
			return Rules{}, &generic.RulesError{Path: path + ".type", Reason: fmt.Sprintf("unknown step %q", s.Type)}
		}
	}

	m := doc.Distribution
	switch m.Method {
	case MethodEqual:
		r.Distribution = Equal{DefaultShares: orDefault(m.DefaultShares, decimal.NewFromInt(1))}
	case MethodShares:
		r.Distribution = Shares{DefaultShares: orDefault(m.DefaultShares, decimal.NewFromInt(1))}
	case MethodPerTicket:
		if m.Rate == nil {
			return Rules{}, &generic.RulesError{Path: "distribution.rate", Reason: "required"}
		}
		r.Distribution = PerTicket{Rate: *m.Rate}
	case MethodPerTicketGuaranteed:
		if m.Rate == nil || m.Minimum == nil {
			return Rules{}, &generic.RulesError{Path: "distribution", Reason: "rate and minimum are required"}
		}
		r.Distribution = PerTicketGuaranteed{Rate: *m.Rate, Minimum: *m.Minimum}
	case MethodFlatFee:
		if m.Amount == nil {
			return Rules{}, &generic.RulesError{Path: "distribution.amount", Reason: "required"}
		}
		r.Distribution = FlatFee{Amount: *m.Amount}
	case MethodNoPay:
		r.Distribution = NoPay{}
	case "":
		return Rules{}, &generic.RulesError{Path: "distribution.method", Reason: "required"}
	default:
		return Rules{}, &generic.RulesError{Path: "distribution.method", Reason: fmt.Sprintf("unknown method %q", m.Method)}
	}

	if len(doc.PerformerOverrides) > 0 {
		r.PerformerOverrides = make(map[generic.PayeeRef]PerformerOverride, len(doc.PerformerOverrides))
		for key, o := range doc.PerformerOverrides {
			ref, err := overrideKey(key)
			if err != nil {
				return Rules{}, &generic.RulesError{Path: "performer_overrides." + key, Reason: err.Error()}
			}
			r.PerformerOverrides[ref] = PerformerOverride(o)
		}
	}

	if err := r.Validate(); err != nil {
		return Rules{}, err
	}
	return r, nil
}

func overrideKey(key string) (generic.PayeeRef, error) {
	if !strings.Contains(key, ":") {
		return production.PersonRef(key), nil
	}
	return generic.ParsePayeeRef(key)
}

func orDefault(v *decimal.Decimal, def decimal.Decimal) decimal.Decimal {
	if v == nil {
		return def
	}
	return *v
}

// =============================================================================
// ENCODE
// =============================================================================

// Document converts rules into their wire form.
func (r Rules) Document() RulesDocument {
	doc := RulesDocument{Allocation: make([]StepDocument, 0, len(r.Allocation))}
	for _, step := range r.Allocation {
		switch s := step.(type) {
		case ExpensesFirst:
			doc.Allocation = append(doc.Allocation, StepDocument{Type: StepExpensesFirst})
		case Percentage:
			v := s.Value
			doc.Allocation = append(doc.Allocation, StepDocument{Type: StepPercentage, Value: &v, Label: s.Label})
		case Remainder:
			doc.Allocation = append(doc.Allocation, StepDocument{Type: StepRemainder, Label: s.Label})
		}
	}

	switch m := r.Distribution.(type) {
	case Equal:
		doc.Distribution = MethodDocument{Method: MethodEqual, DefaultShares: ptr(m.DefaultShares)}
	case Shares:
		doc.Distribution = MethodDocument{Method: MethodShares, DefaultShares: ptr(m.DefaultShares)}
	case PerTicket:
		doc.Distribution = MethodDocument{Method: MethodPerTicket, Rate: ptr(m.Rate)}
	case PerTicketGuaranteed:
		doc.Distribution = MethodDocument{Method: MethodPerTicketGuaranteed, Rate: ptr(m.Rate), Minimum: ptr(m.Minimum)}
	case FlatFee:
		doc.Distribution = MethodDocument{Method: MethodFlatFee, Amount: ptr(m.Amount)}
	case NoPay:
		doc.Distribution = MethodDocument{Method: MethodNoPay}
	}

	if len(r.PerformerOverrides) > 0 {
		doc.PerformerOverrides = make(map[string]OverrideDocument, len(r.PerformerOverrides))
		refs := make([]generic.PayeeRef, 0, len(r.PerformerOverrides))
		for ref := range r.PerformerOverrides {
			refs = append(refs, ref)
		}
		sort.Slice(refs, func(i, j int) bool { return refs[i].String() < refs[j].String() })
		for _, ref := range refs {
			doc.PerformerOverrides[ref.String()] = OverrideDocument(r.PerformerOverrides[ref])
		}
	}
	return doc
}

func ptr(d decimal.Decimal) *decimal.Decimal { return &d }

// MarshalJSON stores rules as their wire document.
func (r Rules) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Document())
}

// UnmarshalJSON rejects unknown steps and methods with ErrInvalidRulesDocument.
func (r *Rules) UnmarshalJSON(data []byte) error {
	parsed, err := ParseRules(data)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
