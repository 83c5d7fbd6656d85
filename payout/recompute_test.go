package payout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/warp/payout-engine/production"
)

func TestNeedsRecalculation(t *testing.T) {
	before := confirmed("500", "50", 40)
	changed := confirmed("600", "50", 40)
	unconfirmed := changed
	unconfirmed.Confirmed = false

	awaiting := ShowPayout{Status: StatusAwaitingPayout}

	cases := []struct {
		name   string
		p      ShowPayout
		after  production.Financials
		expect bool
	}{
		{"changed totals", awaiting, changed, true},
		{"same totals", awaiting, before, false},
		{"unconfirmed totals", awaiting, unconfirmed, false},
		{"draft", ShowPayout{Status: StatusDraft}, changed, false},
		{"paid", ShowPayout{Status: StatusPaid}, changed, false},
		{"non-paying", ShowPayout{Status: StatusAwaitingPayout, NonPaying: true}, changed, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.expect, NeedsRecalculation(c.p, before, c.after))
		})
	}
}

func TestRosterChanged(t *testing.T) {
	items := []LineItem{
		{Payee: production.PersonRef("alex"), Source: SourceCalculated},
		{Payee: production.PersonRef("sam"), Source: SourceCalculated},
		{Payee: production.PersonRef("jordan"), Source: SourceMissingCast},
	}

	// GIVEN: A roster matching the calculated items
	// THEN: Extra manual items do not make it stale
	assert.False(t, RosterChanged(items, roster("alex", "sam")))

	// WHEN: Someone joins
	assert.True(t, RosterChanged(items, roster("alex", "sam", "riley")))

	// WHEN: A calculated payee leaves
	assert.True(t, RosterChanged(items, roster("alex")))

	// Guests are matched by name
	guest := production.RosterEntry{IsGuest: true, GuestName: "Dana", Position: 3}
	withGuest := append(items, LineItem{IsGuest: true, GuestName: "Dana", Source: SourceCalculated})
	assert.False(t, RosterChanged(withGuest, append(roster("alex", "sam"), guest)))
}
