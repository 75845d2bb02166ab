package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kabelnet/ispbot/internal/models"
	"github.com/kabelnet/ispbot/internal/util"
)

// TopUpStatusPending marks a top-up request awaiting payment.
const TopUpStatusPending = "pending"

// TopUpRepo persists balance top-up requests.
type TopUpRepo interface {
	CreateTopUpRequest(ctx context.Context, r models.TopUpRequest) (models.TopUpRequest, error)
	ListTopUpRequests(ctx context.Context, customerID string) ([]models.TopUpRequest, error)
}

func (d *DB) CreateTopUpRequest(ctx context.Context, r models.TopUpRequest) (models.TopUpRequest, error) {
	if r.Amount <= 0 {
		return r, fmt.Errorf("top-up amount must be positive")
	}
	if r.Reference == "" {
		r.Reference = util.GenerateTopUpReference()
	}
	r.Status = TopUpStatusPending
	r.CreatedAt = time.Now().UTC()

	_, err := d.exec(ctx, `
		INSERT INTO topup_requests (reference, customer_id, amount, status, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		r.Reference, r.CustomerID, r.Amount, r.Status, r.CreatedAt)
	if err != nil {
		return r, fmt.Errorf("create top-up request for %s: %w", r.CustomerID, err)
	}
	slog.Info("DB.CreateTopUpRequest: request created", "reference", r.Reference, "customer_id", r.CustomerID, "amount", r.Amount)
	return r, nil
}

func (d *DB) ListTopUpRequests(ctx context.Context, customerID string) ([]models.TopUpRequest, error) {
	rows, err := d.query(ctx, `
		SELECT reference, customer_id, amount, status, created_at FROM topup_requests
		WHERE customer_id = ? ORDER BY created_at DESC`, customerID)
	if err != nil {
		return nil, fmt.Errorf("list top-up requests for %s: %w", customerID, err)
	}
	defer rows.Close()

	var out []models.TopUpRequest
	for rows.Next() {
		var r models.TopUpRequest
		if err := rows.Scan(&r.Reference, &r.CustomerID, &r.Amount, &r.Status, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan top-up request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
