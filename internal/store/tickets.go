package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/kabelnet/ispbot/internal/models"
	"github.com/kabelnet/ispbot/internal/util"
)

// ticketSummaryLen bounds the description excerpt shown in ticket listings.
const ticketSummaryLen = 40

// TicketRepo persists support tickets.
type TicketRepo interface {
	// CreateTicket stores a new open ticket, generating its ID when empty.
	CreateTicket(ctx context.Context, t models.Ticket) (models.Ticket, error)
	GetTicket(ctx context.Context, id string) (*models.Ticket, error)
	ListOpenTickets(ctx context.Context, customerID string) ([]models.TicketRef, error)
	// CancelTicket returns ErrNotFound unless the ticket is open and owned by customerID.
	CancelTicket(ctx context.Context, customerID, ticketID string) error
}

func (d *DB) CreateTicket(ctx context.Context, t models.Ticket) (models.Ticket, error) {
	if t.ID == "" {
		t.ID = util.GenerateTicketID()
	}
	now := time.Now().UTC()
	t.Status = models.TicketStatusOpen
	t.CreatedAt, t.UpdatedAt = now, now

	_, err := d.exec(ctx, `
		INSERT INTO tickets (id, customer_id, category, description, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.CustomerID, t.Category, t.Description, string(t.Status), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return t, fmt.Errorf("create ticket for %s: %w", t.CustomerID, err)
	}
	slog.Info("DB.CreateTicket: ticket created", "ticket_id", t.ID, "customer_id", t.CustomerID, "category", t.Category)
	return t, nil
}

func (d *DB) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	var t models.Ticket
	var status string
	err := d.queryRow(ctx, `
		SELECT id, customer_id, category, description, status, created_at, updated_at
		FROM tickets WHERE id = ?`, id).
		Scan(&t.ID, &t.CustomerID, &t.Category, &t.Description, &status, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket %s: %w", id, err)
	}
	t.Status = models.TicketStatus(status)
	return &t, nil
}

func (d *DB) ListOpenTickets(ctx context.Context, customerID string) ([]models.TicketRef, error) {
	rows, err := d.query(ctx, `
		SELECT id, category, description, created_at FROM tickets
		WHERE customer_id = ? AND status = ? ORDER BY created_at, id`,
		customerID, string(models.TicketStatusOpen))
	if err != nil {
		return nil, fmt.Errorf("list open tickets for %s: %w", customerID, err)
	}
	defer rows.Close()

	var out []models.TicketRef
	for rows.Next() {
		var ref models.TicketRef
		var desc string
		if err := rows.Scan(&ref.ID, &ref.Category, &desc, &ref.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		ref.Summary = summarize(desc, ticketSummaryLen)
		out = append(out, ref)
	}
	return out, rows.Err()
}

func (d *DB) CancelTicket(ctx context.Context, customerID, ticketID string) error {
	res, err := d.exec(ctx, `
		UPDATE tickets SET status = ?, updated_at = ?
		WHERE id = ? AND customer_id = ? AND status = ?`,
		string(models.TicketStatusCancelled), time.Now().UTC(), ticketID, customerID, string(models.TicketStatusOpen))
	if err != nil {
		return fmt.Errorf("cancel ticket %s: %w", ticketID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("cancel ticket rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	slog.Info("DB.CancelTicket: ticket cancelled", "ticket_id", ticketID, "customer_id", customerID)
	return nil
}

func summarize(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max-1]) + "…"
}
