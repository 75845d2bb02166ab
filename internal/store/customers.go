package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kabelnet/ispbot/internal/models"
)

// CustomerRepo persists customer accounts and their devices.
type CustomerRepo interface {
	// UpsertCustomer creates or replaces a customer, including its device list.
	UpsertCustomer(ctx context.Context, p models.Profile) error
	// GetCustomer returns ErrNotFound when no customer has the ID.
	GetCustomer(ctx context.Context, id string) (*models.Profile, error)
	// GetCustomerByPhone returns ErrNotFound when no customer has the canonical phone.
	GetCustomerByPhone(ctx context.Context, phone string) (*models.Profile, error)
	ListCustomers(ctx context.Context) ([]models.Profile, error)
}

const customerColumns = `id, name, phone, package, monthly_fee, balance, due_day`

func (d *DB) UpsertCustomer(ctx context.Context, p models.Profile) error {
	if p.CustomerID == "" || p.Phone == "" {
		return fmt.Errorf("customer requires id and phone")
	}
	now := time.Now().UTC()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert customer: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, d.q(`
		INSERT INTO customers (id, name, phone, package, monthly_fee, balance, due_day, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, phone = excluded.phone, package = excluded.package,
			monthly_fee = excluded.monthly_fee, balance = excluded.balance,
			due_day = excluded.due_day, updated_at = excluded.updated_at`),
		p.CustomerID, p.Name, p.Phone, p.Package, p.MonthlyFee, p.Balance, p.DueDay, now, now)
	if err != nil {
		return fmt.Errorf("upsert customer %s: %w", p.CustomerID, err)
	}

	if _, err := tx.ExecContext(ctx, d.q(`DELETE FROM devices WHERE customer_id = ?`), p.CustomerID); err != nil {
		return fmt.Errorf("clear devices for %s: %w", p.CustomerID, err)
	}
	for i, dev := range p.Devices {
		_, err := tx.ExecContext(ctx, d.q(`
			INSERT INTO devices (id, customer_id, label, serial, position) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET customer_id = excluded.customer_id, label = excluded.label,
				serial = excluded.serial, position = excluded.position`),
			dev.ID, p.CustomerID, dev.Label, dev.Serial, i)
		if err != nil {
			return fmt.Errorf("insert device %s: %w", dev.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit customer %s: %w", p.CustomerID, err)
	}
	slog.Debug("DB.UpsertCustomer succeeded", "customer_id", p.CustomerID, "devices", len(p.Devices))
	return nil
}

func (d *DB) GetCustomer(ctx context.Context, id string) (*models.Profile, error) {
	return d.getCustomer(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = ?`, id)
}

func (d *DB) GetCustomerByPhone(ctx context.Context, phone string) (*models.Profile, error) {
	return d.getCustomer(ctx, `SELECT `+customerColumns+` FROM customers WHERE phone = ?`, phone)
}

func (d *DB) getCustomer(ctx context.Context, query string, arg string) (*models.Profile, error) {
	var p models.Profile
	err := d.queryRow(ctx, query, arg).Scan(
		&p.CustomerID, &p.Name, &p.Phone, &p.Package, &p.MonthlyFee, &p.Balance, &p.DueDay)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}
	if p.Devices, err = d.listDevices(ctx, p.CustomerID); err != nil {
		return nil, err
	}
	return &p, nil
}

func (d *DB) listDevices(ctx context.Context, customerID string) ([]models.Device, error) {
	rows, err := d.query(ctx, `SELECT id, label, serial FROM devices WHERE customer_id = ? ORDER BY position, id`, customerID)
	if err != nil {
		return nil, fmt.Errorf("list devices for %s: %w", customerID, err)
	}
	defer rows.Close()

	var out []models.Device
	for rows.Next() {
		var dev models.Device
		if err := rows.Scan(&dev.ID, &dev.Label, &dev.Serial); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		out = append(out, dev)
	}
	return out, rows.Err()
}

func (d *DB) ListCustomers(ctx context.Context) ([]models.Profile, error) {
	rows, err := d.query(ctx, `SELECT `+customerColumns+` FROM customers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	var out []models.Profile
	for rows.Next() {
		var p models.Profile
		if err := rows.Scan(&p.CustomerID, &p.Name, &p.Phone, &p.Package, &p.MonthlyFee, &p.Balance, &p.DueDay); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		out = append(out, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate customers: %w", err)
	}

	for i := range out {
		if out[i].Devices, err = d.listDevices(ctx, out[i].CustomerID); err != nil {
			return nil, err
		}
	}
	return out, nil
}
