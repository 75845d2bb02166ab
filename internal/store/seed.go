package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/kabelnet/ispbot/internal/models"
	"github.com/kabelnet/ispbot/internal/util"
	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Customers []models.Profile `yaml:"customers"`
}

// ParseSeed decodes a YAML customer list and canonicalizes phone numbers.
func ParseSeed(data []byte) ([]models.Profile, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	seen := make(map[string]bool, len(f.Customers))
	for i := range f.Customers {
		c := &f.Customers[i]
		if c.CustomerID == "" {
			return nil, fmt.Errorf("seed customer %d has no customer_id", i)
		}
		if seen[c.CustomerID] {
			return nil, fmt.Errorf("seed customer %s listed twice", c.CustomerID)
		}
		seen[c.CustomerID] = true
		phone, err := util.CanonicalPhone(c.Phone)
		if err != nil {
			return nil, fmt.Errorf("seed customer %s: %w", c.CustomerID, err)
		}
		c.Phone = phone
		for _, d := range c.Devices {
			if d.ID == "" {
				return nil, fmt.Errorf("seed customer %s has a device without id", c.CustomerID)
			}
		}
	}
	return f.Customers, nil
}

// SeedFile loads customers from a YAML file into repo. Existing customers are updated.
func SeedFile(ctx context.Context, repo CustomerRepo, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed file %s: %w", path, err)
	}
	customers, err := ParseSeed(data)
	if err != nil {
		return 0, fmt.Errorf("seed file %s: %w", path, err)
	}
	for _, c := range customers {
		if err := repo.UpsertCustomer(ctx, c); err != nil {
			return 0, err
		}
	}
	slog.Info("store.SeedFile: customers loaded", "path", path, "count", len(customers))
	return len(customers), nil
}
