/*
payee.go - Polymorphic payee references and kind registration

PURPOSE:
  A line item can pay a person or a group (a duo, a band). Instead of a
  loose (type, id) pair, a payee is an explicit PayeeRef whose kind must
  be registered. Concrete entities implement the small Payee capability
  interface so callers can show a name and a payment handle without
  knowing which kind they hold.

HOW IT WORKS:
  1. Domain packages define concrete payee types (production.Person, ...)
  2. They register their kind on init()
  3. Storage parses "kind:id" strings back into PayeeRefs via the registry

USAGE:
  ref, err := generic.ParsePayeeRef("person:p-17")
  payee, err := directory.Payee(ctx, ref)
  fmt.Println(payee.DisplayName())

SEE ALSO:
  - production/people.go: Person and Group implementations
  - store/sqlite/production.go: PayeeDirectory implementation
*/
package generic

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// =============================================================================
// PAYEE REFERENCE
// =============================================================================

type PayeeKind string

type PayeeRef struct {
	Kind PayeeKind
	ID   string
}

func (r PayeeRef) IsZero() bool { return r.Kind == "" && r.ID == "" }

// String renders the reference as "kind:id".
func (r PayeeRef) String() string {
	if r.IsZero() {
		return ""
	}
	return string(r.Kind) + ":" + r.ID
}

// ParsePayeeRef parses "kind:id". The kind must be registered.
func ParsePayeeRef(s string) (PayeeRef, error) {
	if s == "" {
		return PayeeRef{}, nil
	}
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return PayeeRef{}, fmt.Errorf("malformed payee reference %q", s)
	}
	if !IsPayeeKindRegistered(PayeeKind(kind)) {
		return PayeeRef{}, fmt.Errorf("unknown payee kind %q", kind)
	}
	return PayeeRef{Kind: PayeeKind(kind), ID: id}, nil
}

// MarshalText lets PayeeRef be used as a JSON string and map key.
func (r PayeeRef) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *PayeeRef) UnmarshalText(b []byte) error {
	ref, err := ParsePayeeRef(string(b))
	if err != nil {
		return err
	}
	*r = ref
	return nil
}

// =============================================================================
// PAYEE CAPABILITY
// =============================================================================

// PaymentHandle is one way to pay someone (e.g. venmo "@sam").
type PaymentHandle struct {
	Method string
	Handle string
}

// Payee is implemented by every concrete entity a line item can pay.
type Payee interface {
	Ref() PayeeRef
	DisplayName() string
	PaymentHandles() []PaymentHandle
}

// PreferredHandle returns the first payment handle, if any.
func PreferredHandle(p Payee) (PaymentHandle, bool) {
	handles := p.PaymentHandles()
	if len(handles) == 0 {
		return PaymentHandle{}, false
	}
	return handles[0], true
}

// PayeeDirectory resolves references to concrete payees.
type PayeeDirectory interface {
	Payee(ctx context.Context, ref PayeeRef) (Payee, error)
}

// =============================================================================
// KIND REGISTRY
// =============================================================================

var (
	payeeKinds = make(map[PayeeKind]struct{})
	registryMu sync.RWMutex
)

// RegisterPayeeKind adds a payee kind to the global registry.
// Call this from domain package init() functions.
func RegisterPayeeKind(kind PayeeKind) {
	registryMu.Lock()
	defer registryMu.Unlock()
	payeeKinds[kind] = struct{}{}
}

func IsPayeeKindRegistered(kind PayeeKind) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := payeeKinds[kind]
	return ok
}

// ListPayeeKinds returns the registered kinds, sorted.
func ListPayeeKinds() []PayeeKind {
	registryMu.RLock()
	defer registryMu.RUnlock()
	result := make([]PayeeKind, 0, len(payeeKinds))
	for k := range payeeKinds {
		result = append(result, k)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}
