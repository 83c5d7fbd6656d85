package payout

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/production"
)

// =============================================================================
// SCHEME MANAGEMENT
// =============================================================================

// SchemeInput creates or replaces a scheme's editable fields.
type SchemeInput struct {
	ProductionID production.ProductionID // empty for a shared scheme
	Name         string
	Description  string
	Rules        Rules
	IsDefault    bool
}

func (in SchemeInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return &generic.RulesError{Path: "name", Reason: "required"}
	}
	return in.Rules.Validate()
}

func (s *Service) GetScheme(ctx context.Context, id SchemeID) (Scheme, error) {
	return s.Store.GetScheme(ctx, id)
}

// ListSchemes returns the production's schemes followed by shared ones.
func (s *Service) ListSchemes(ctx context.Context, productionID production.ProductionID) ([]Scheme, error) {
	return s.Store.ListSchemes(ctx, productionID)
}

// DefaultScheme returns the production default, else the shared default.
func (s *Service) DefaultScheme(ctx context.Context, productionID production.ProductionID) (Scheme, bool, error) {
	schemes, err := s.Store.ListSchemes(ctx, productionID)
	if err != nil {
		return Scheme{}, false, err
	}
	var shared *Scheme
	for i := range schemes {
		sc := schemes[i]
		if !sc.IsDefault {
			continue
		}
		if productionID != "" && sc.ProductionID == productionID {
			return sc, true, nil
		}
		if sc.IsShared() && shared == nil {
			shared = &schemes[i]
		}
	}
	if shared != nil {
		return *shared, true, nil
	}
	return Scheme{}, false, nil
}

func (s *Service) CreateScheme(ctx context.Context, in SchemeInput) (Scheme, error) {
	if err := in.validate(); err != nil {
		return Scheme{}, err
	}
	now := s.now()
	sc := Scheme{
		ID:           SchemeID(generic.NewID("sch")),
		ProductionID: in.ProductionID,
		Name:         in.Name,
		Description:  in.Description,
		IsDefault:    in.IsDefault,
		Rules:        in.Rules,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := s.Store.WithTx(ctx, func(ctx context.Context) error {
		if sc.IsDefault {
			if err := s.clearDefault(ctx, sc.ProductionID, sc.ID); err != nil {
				return err
			}
		}
		return s.Store.SaveScheme(ctx, sc)
	})
	if err != nil {
		return Scheme{}, err
	}
	return sc, nil
}

// UpdateScheme replaces a scheme's fields. Payouts pinned to it pick up
// the new rules on their next calculation; use ApplySchemeChange to
// recalculate right away.
func (s *Service) UpdateScheme(ctx context.Context, id SchemeID, in SchemeInput) (Scheme, error) {
	if err := in.validate(); err != nil {
		return Scheme{}, err
	}
	var sc Scheme
	err := s.Store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		sc, err = s.Store.GetScheme(ctx, id)
		if err != nil {
			return err
		}
		sc.Name = in.Name
		sc.Description = in.Description
		sc.Rules = in.Rules
		sc.IsDefault = in.IsDefault
		sc.UpdatedAt = s.now()
		if sc.IsDefault {
			if err := s.clearDefault(ctx, sc.ProductionID, sc.ID); err != nil {
				return err
			}
		}
		return s.Store.SaveScheme(ctx, sc)
	})
	return sc, err
}

// SetDefaultScheme makes a scheme the single default of its scope.
func (s *Service) SetDefaultScheme(ctx context.Context, id SchemeID) (Scheme, error) {
	var sc Scheme
	err := s.Store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		sc, err = s.Store.GetScheme(ctx, id)
		if err != nil {
			return err
		}
		if err := s.clearDefault(ctx, sc.ProductionID, sc.ID); err != nil {
			return err
		}
		sc.IsDefault = true
		sc.UpdatedAt = s.now()
		return s.Store.SaveScheme(ctx, sc)
	})
	return sc, err
}

func (s *Service) clearDefault(ctx context.Context, productionID production.ProductionID, keep SchemeID) error {
	schemes, err := s.Store.ListSchemes(ctx, productionID)
	if err != nil {
		return err
	}
	for _, sc := range schemes {
		if sc.ID == keep || !sc.IsDefault || sc.ProductionID != productionID {
			continue
		}
		sc.IsDefault = false
		sc.UpdatedAt = s.now()
		if err := s.Store.SaveScheme(ctx, sc); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// SCHEME CHANGE
// =============================================================================

// SchemeChange reports what ApplySchemeChange touched.
type SchemeChange struct {
	Pinned       []production.ShowID
	Recalculated []production.ShowID
	Skipped      map[production.ShowID]string
}

// ApplySchemeChange pins a scheme on a show, clearing its override rules.
// A paid show is refused; reopen it first. With propagateForward, later
// shows of the same production that are still on the prior scheme and not
// paid move along. Shows awaiting payout are recalculated in the same
// transaction as the pins. A show that cannot be calculated (unconfirmed
// totals, empty roster) is skipped, not fatal; any other failure rolls the
// whole change back.
func (s *Service) ApplySchemeChange(ctx context.Context, showID production.ShowID, schemeID SchemeID, propagateForward bool, by string) (SchemeChange, error) {
	change := SchemeChange{Skipped: make(map[production.ShowID]string)}
	var events []Event

	err := s.Store.WithTx(ctx, func(ctx context.Context) error {
		var recalc []production.ShowID

		show, err := s.Shows.GetShow(ctx, showID)
		if err != nil {
			return err
		}
		sc, err := s.Store.GetScheme(ctx, schemeID)
		if err != nil {
			return err
		}
		if !sc.IsShared() && sc.ProductionID != show.ProductionID {
			return &generic.RulesError{Path: "scheme_id", Reason: "scheme belongs to another production"}
		}

		p, err := s.ensure(ctx, show)
		if err != nil {
			return err
		}
		if p.Status == StatusPaid {
			return &generic.TransitionError{Subject: "show payout " + string(showID), From: string(StatusPaid), To: "scheme " + string(schemeID)}
		}
		_, prior, err := s.ResolveRules(ctx, ShowPayout{ShowID: p.ShowID, ProductionID: p.ProductionID, SchemeID: p.SchemeID})
		if err != nil {
			return err
		}

		p.SchemeID = schemeID
		p.OverrideRules = nil
		p.UpdatedAt = s.now()
		if err := s.Store.SavePayout(ctx, p); err != nil {
			return err
		}
		change.Pinned = append(change.Pinned, showID)
		if p.Status == StatusAwaitingPayout {
			recalc = append(recalc, showID)
		}

		if propagateForward && prior != schemeID {
			if err := s.propagateScheme(ctx, show, prior, schemeID, &change, &recalc); err != nil {
				return err
			}
		}

		for _, id := range recalc {
			_, evs, err := s.calculate(ctx, id, by)
			if errors.Is(err, generic.ErrInsufficientData) || errors.Is(err, generic.ErrNoPerformers) {
				log.Printf("[Payout] Scheme change: skipping show %s: %v", id, err)
				change.Skipped[id] = err.Error()
				continue
			}
			if err != nil {
				return err
			}
			events = append(events, evs...)
			change.Recalculated = append(change.Recalculated, id)
		}
		return nil
	})
	if err != nil {
		return SchemeChange{}, err
	}

	log.Printf("[Payout] Scheme %s applied from show %s: pinned=%d recalculated=%d", schemeID, showID, len(change.Pinned), len(change.Recalculated))
	s.notify(events)
	return change, nil
}

// propagateScheme moves later shows still on prior to schemeID. Paid
// shows and shows with override rules keep what they have.
func (s *Service) propagateScheme(ctx context.Context, show production.Show, prior, schemeID SchemeID, change *SchemeChange, recalc *[]production.ShowID) error {
	later, err := s.Shows.ListShows(ctx, production.ShowFilter{ProductionID: show.ProductionID})
	if err != nil {
		return err
	}
	for _, other := range later {
		if other.ID == show.ID || !other.Date.After(show.Date) {
			continue
		}
		op, err := s.ensure(ctx, other)
		if err != nil {
			return err
		}
		if op.Status == StatusPaid || op.OverrideRules != nil {
			continue
		}
		_, current, err := s.ResolveRules(ctx, op)
		if err != nil {
			return err
		}
		if current != prior {
			continue
		}
		op.SchemeID = schemeID
		op.UpdatedAt = s.now()
		if err := s.Store.SavePayout(ctx, op); err != nil {
			return err
		}
		change.Pinned = append(change.Pinned, other.ID)
		if op.Status == StatusAwaitingPayout {
			*recalc = append(*recalc, other.ID)
		}
	}
	return nil
}
