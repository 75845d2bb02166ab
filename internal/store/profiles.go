package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kabelnet/ispbot/internal/models"
	"github.com/kabelnet/ispbot/internal/util"
	"golang.org/x/sync/singleflight"
)

// ProfileDirectory resolves messaging identities to customer profiles with
// their open tickets. Concurrent lookups for the same sender share one query.
type ProfileDirectory struct {
	customers CustomerRepo
	tickets   TicketRepo
	group     singleflight.Group
}

// NewProfileDirectory creates a ProfileDirectory.
func NewProfileDirectory(customers CustomerRepo, tickets TicketRepo) *ProfileDirectory {
	return &ProfileDirectory{customers: customers, tickets: tickets}
}

// LookupUserProfile returns (nil, nil) when the sender is not a customer.
func (p *ProfileDirectory) LookupUserProfile(ctx context.Context, userID string) (*models.Profile, error) {
	phone, err := util.CanonicalPhone(userID)
	if err != nil {
		slog.Debug("ProfileDirectory.LookupUserProfile: identity is not a phone number", "user_id", userID)
		return nil, nil
	}

	v, err, shared := p.group.Do(phone, func() (any, error) {
		prof, err := p.customers.GetCustomerByPhone(ctx, phone)
		if errors.Is(err, ErrNotFound) {
			return (*models.Profile)(nil), nil
		}
		if err != nil {
			return nil, err
		}
		if prof.OpenTickets, err = p.tickets.ListOpenTickets(ctx, prof.CustomerID); err != nil {
			return nil, err
		}
		return prof, nil
	})
	if err != nil {
		return nil, fmt.Errorf("lookup profile for %s: %w", phone, err)
	}
	prof, _ := v.(*models.Profile)
	if prof == nil {
		return nil, nil
	}
	if shared {
		// Callers may mutate their copy.
		cp := *prof
		return &cp, nil
	}
	return prof, nil
}
