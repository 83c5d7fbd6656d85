package production

import "github.com/warp/payout-engine/generic"

// =============================================================================
// PAYEE KINDS
// =============================================================================

const (
	PayeePerson generic.PayeeKind = "person"
	PayeeGroup  generic.PayeeKind = "group"
)

func init() {
	generic.RegisterPayeeKind(PayeePerson)
	generic.RegisterPayeeKind(PayeeGroup)
}

// PersonRef is shorthand for a person payee reference.
func PersonRef(id string) generic.PayeeRef {
	return generic.PayeeRef{Kind: PayeePerson, ID: id}
}

// GroupRef is shorthand for a group payee reference.
func GroupRef(id string) generic.PayeeRef {
	return generic.PayeeRef{Kind: PayeeGroup, ID: id}
}

// =============================================================================
// PERSON
// =============================================================================

type Person struct {
	ID      string
	Name    string
	Email   string
	Handles []generic.PaymentHandle
}

func (p Person) Ref() generic.PayeeRef                   { return PersonRef(p.ID) }
func (p Person) DisplayName() string                     { return p.Name }
func (p Person) PaymentHandles() []generic.PaymentHandle { return p.Handles }

// =============================================================================
// GROUP - Performers paid as one unit (a duo, a band)
// =============================================================================

type Group struct {
	ID        string
	Name      string
	MemberIDs []string
	Handles   []generic.PaymentHandle
}

func (g Group) Ref() generic.PayeeRef                   { return GroupRef(g.ID) }
func (g Group) DisplayName() string                     { return g.Name }
func (g Group) PaymentHandles() []generic.PaymentHandle { return g.Handles }

// =============================================================================
// GUEST - Walk-on performers without an account
// =============================================================================

// Guest adapts a guest roster entry to the Payee capability.
type Guest struct {
	Name   string
	Handle string
}

func (g Guest) Ref() generic.PayeeRef { return generic.PayeeRef{} }
func (g Guest) DisplayName() string   { return g.Name }
func (g Guest) PaymentHandles() []generic.PaymentHandle {
	if g.Handle == "" {
		return nil
	}
	return []generic.PaymentHandle{{Method: "guest", Handle: g.Handle}}
}
