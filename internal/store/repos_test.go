package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/kabelnet/ispbot/internal/models"
)

func sampleCustomer() models.Profile {
	return models.Profile{
		CustomerID: "CUST-001",
		Name:       "Budi",
		Phone:      "6281234567890",
		Package:    "Home 20 Mbps",
		MonthlyFee: 200_000,
		Balance:    50_000,
		DueDay:     10,
		Devices: []models.Device{
			{ID: "ZTE-0001", Label: "Rumah", Serial: "ZTEG0001"},
			{ID: "ZTE-0002", Label: "Toko"},
		},
	}
}

func TestCustomerRepo(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	if err := s.UpsertCustomer(ctx, sampleCustomer()); err != nil {
		t.Fatalf("UpsertCustomer failed: %v", err)
	}

	got, err := s.GetCustomerByPhone(ctx, "6281234567890")
	if err != nil {
		t.Fatalf("GetCustomerByPhone failed: %v", err)
	}
	if got.Name != "Budi" || got.MonthlyFee != 200_000 || got.DueDay != 10 {
		t.Errorf("unexpected customer: %+v", got)
	}
	if len(got.Devices) != 2 || got.Devices[0].ID != "ZTE-0001" || got.Devices[1].Label != "Toko" {
		t.Errorf("unexpected devices: %+v", got.Devices)
	}

	updated := sampleCustomer()
	updated.Balance = 400_000
	updated.Devices = updated.Devices[1:]
	if err := s.UpsertCustomer(ctx, updated); err != nil {
		t.Fatalf("second UpsertCustomer failed: %v", err)
	}
	got, err = s.GetCustomer(ctx, "CUST-001")
	if err != nil {
		t.Fatalf("GetCustomer failed: %v", err)
	}
	if got.Balance != 400_000 || len(got.Devices) != 1 {
		t.Errorf("update not applied: %+v", got)
	}

	if _, err := s.GetCustomerByPhone(ctx, "6289999999999"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	all, err := s.ListCustomers(ctx)
	if err != nil {
		t.Fatalf("ListCustomers failed: %v", err)
	}
	if len(all) != 1 || len(all[0].Devices) != 1 {
		t.Errorf("unexpected list: %+v", all)
	}

	if err := s.UpsertCustomer(ctx, models.Profile{CustomerID: "X"}); err == nil {
		t.Error("expected error for customer without phone")
	}
}

func TestTicketRepo(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	tk, err := s.CreateTicket(ctx, models.Ticket{
		CustomerID:  "CUST-001",
		Category:    "internet",
		Description: strings.Repeat("Internet sering putus setiap malam. ", 3),
	})
	if err != nil {
		t.Fatalf("CreateTicket failed: %v", err)
	}
	if !strings.HasPrefix(tk.ID, "TK-") || tk.Status != models.TicketStatusOpen {
		t.Errorf("unexpected ticket: %+v", tk)
	}

	open, err := s.ListOpenTickets(ctx, "CUST-001")
	if err != nil {
		t.Fatalf("ListOpenTickets failed: %v", err)
	}
	if len(open) != 1 || open[0].ID != tk.ID {
		t.Fatalf("unexpected open tickets: %+v", open)
	}
	if n := len([]rune(open[0].Summary)); n != ticketSummaryLen {
		t.Errorf("summary length = %d, want %d", n, ticketSummaryLen)
	}

	if err := s.CancelTicket(ctx, "CUST-OTHER", tk.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("cancel by other customer: expected ErrNotFound, got %v", err)
	}
	if err := s.CancelTicket(ctx, "CUST-001", tk.ID); err != nil {
		t.Fatalf("CancelTicket failed: %v", err)
	}
	if err := s.CancelTicket(ctx, "CUST-001", tk.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second cancel: expected ErrNotFound, got %v", err)
	}

	got, err := s.GetTicket(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetTicket failed: %v", err)
	}
	if got.Status != models.TicketStatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
	open, _ = s.ListOpenTickets(ctx, "CUST-001")
	if len(open) != 0 {
		t.Errorf("cancelled ticket still listed: %+v", open)
	}
}

func TestTopUpRepo(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	r, err := s.CreateTopUpRequest(ctx, models.TopUpRequest{CustomerID: "CUST-001", Amount: 150_000})
	if err != nil {
		t.Fatalf("CreateTopUpRequest failed: %v", err)
	}
	if !strings.HasPrefix(r.Reference, "TOP-") || r.Status != TopUpStatusPending {
		t.Errorf("unexpected request: %+v", r)
	}

	list, err := s.ListTopUpRequests(ctx, "CUST-001")
	if err != nil {
		t.Fatalf("ListTopUpRequests failed: %v", err)
	}
	if len(list) != 1 || list[0].Amount != 150_000 {
		t.Errorf("unexpected list: %+v", list)
	}

	if _, err := s.CreateTopUpRequest(ctx, models.TopUpRequest{CustomerID: "CUST-001"}); err == nil {
		t.Error("expected error for zero amount")
	}
}

func TestProfileDirectory(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	if err := s.UpsertCustomer(ctx, sampleCustomer()); err != nil {
		t.Fatalf("UpsertCustomer failed: %v", err)
	}
	if _, err := s.CreateTicket(ctx, models.Ticket{CustomerID: "CUST-001", Category: "device", Description: "Lampu LOS merah"}); err != nil {
		t.Fatalf("CreateTicket failed: %v", err)
	}
	dir := NewProfileDirectory(s, s)

	for _, id := range []string{"6281234567890", "+62 812-3456-7890", "081234567890"} {
		p, err := dir.LookupUserProfile(ctx, id)
		if err != nil {
			t.Fatalf("LookupUserProfile(%q) failed: %v", id, err)
		}
		if p == nil || p.CustomerID != "CUST-001" || len(p.OpenTickets) != 1 {
			t.Errorf("LookupUserProfile(%q) = %+v", id, p)
		}
	}

	for _, id := range []string{"6289999999999", "not-a-phone"} {
		p, err := dir.LookupUserProfile(ctx, id)
		if err != nil || p != nil {
			t.Errorf("LookupUserProfile(%q) = %+v, %v; want nil, nil", id, p, err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := dir.LookupUserProfile(ctx, "6281234567890")
			if err != nil || p == nil {
				t.Errorf("concurrent lookup failed: %v", err)
			}
		}()
	}
	wg.Wait()
}

const seedYAML = `
customers:
  - customer_id: CUST-001
    name: Budi
    phone: "0812-3456-7890"
    package: Home 20 Mbps
    monthly_fee: 200000
    balance: 50000
    due_day: 10
    devices:
      - id: ZTE-0001
        label: Rumah
  - customer_id: CUST-002
    name: Sari
    phone: "+62 813 1111 2222"
`

func TestParseSeed(t *testing.T) {
	customers, err := ParseSeed([]byte(seedYAML))
	if err != nil {
		t.Fatalf("ParseSeed failed: %v", err)
	}
	if len(customers) != 2 {
		t.Fatalf("got %d customers, want 2", len(customers))
	}
	if customers[0].Phone != "6281234567890" || customers[1].Phone != "6281311112222" {
		t.Errorf("phones not canonical: %q %q", customers[0].Phone, customers[1].Phone)
	}
	if len(customers[0].Devices) != 1 || customers[0].Devices[0].Label != "Rumah" {
		t.Errorf("devices not parsed: %+v", customers[0].Devices)
	}

	bad := []string{
		"customers:\n  - name: NoID\n    phone: '081234567890'\n",
		"customers:\n  - customer_id: A\n    phone: '12'\n",
		"customers:\n  - customer_id: A\n    phone: '081234567890'\n  - customer_id: A\n    phone: '081234567891'\n",
		"customers:\n  - customer_id: A\n    phone: '081234567890'\n    devices:\n      - label: x\n",
	}
	for _, b := range bad {
		if _, err := ParseSeed([]byte(b)); err == nil {
			t.Errorf("ParseSeed accepted invalid seed:\n%s", b)
		}
	}
}

func TestSeedFile(t *testing.T) {
	s := newTestSQLiteStore(t)
	path := filepath.Join(t.TempDir(), "customers.yaml")
	if err := os.WriteFile(path, []byte(seedYAML), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	n, err := SeedFile(context.Background(), s, path)
	if err != nil {
		t.Fatalf("SeedFile failed: %v", err)
	}
	if n != 2 {
		t.Errorf("seeded %d, want 2", n)
	}
	if _, err := s.GetCustomerByPhone(context.Background(), "6281311112222"); err != nil {
		t.Errorf("seeded customer not found: %v", err)
	}
}
