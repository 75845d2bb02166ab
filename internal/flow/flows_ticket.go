package flow

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/kabelnet/ispbot/internal/models"
)

const (
	stepTicketCategory    models.StepID = "ticket.select_category"
	stepTicketDescription models.StepID = "ticket.await_description"
	stepCancelTicket      models.StepID = "cancel_ticket.select_ticket"
)

const (
	MinTicketDescription = 10
	MaxTicketDescription = 500
	ticketIdleTimeout    = 15 * time.Minute
)

type ticketCategory struct {
	Key   string
	Label string
}

var ticketCategories = []ticketCategory{
	{Key: "internet", Label: "Internet mati / lambat"},
	{Key: "billing", Label: "Tagihan & pembayaran"},
	{Key: "device", Label: "Router / perangkat"},
	{Key: "other", Label: "Lainnya"},
}

func categoryLabel(key string) string {
	for _, c := range ticketCategories {
		if c.Key == key {
			return c.Label
		}
	}
	return key
}

func createTicketFlow() Flow {
	labels := make([]string, len(ticketCategories))
	keys := make([]string, len(ticketCategories))
	for i, c := range ticketCategories {
		labels[i], keys[i] = c.Label, c.Key
	}

	return Flow{
		ID:          models.FlowCreateTicket,
		Title:       "Lapor Gangguan",
		IdleTimeout: ticketIdleTimeout,
		EntrySteps:  []models.StepID{stepTicketCategory},
		Start: func(ctx context.Context, in StepInput) (Outcome, error) {
			return Outcome{
				Next:  stepTicketCategory,
				Reply: "Pilih kategori laporan dengan membalas angkanya:\n" + numbered(labels),
			}, nil
		},
		Steps: []Step{
			{
				ID:   stepTicketCategory,
				Next: []models.StepID{stepTicketDescription},
				Handle: func(ctx context.Context, in StepInput) (Outcome, error) {
					i, ok := choose(in, keys)
					if !ok {
						return Outcome{}, invalid("Kategori tidak dikenali. Balas dengan angka 1 sampai %d.", len(keys))
					}
					return Outcome{
						Next:  stepTicketDescription,
						Patch: map[models.DataKey]string{models.DataKeyCategory: keys[i]},
						Reply: fmt.Sprintf("Kategori: *%s*.\nCeritakan kendala Anda (%d-%d karakter).",
							labels[i], MinTicketDescription, MaxTicketDescription),
					}, nil
				},
			},
			{
				ID:        stepTicketDescription,
				Protected: true,
				Validate:  validateDescription,
				Handle: func(ctx context.Context, in StepInput) (Outcome, error) {
					return Outcome{Action: &ActionRequest{
						Name: models.ActionCreateTicket,
						Params: map[string]string{
							"customer_id": in.Session.Get(models.DataKeyCustomerID),
							"category":    in.Session.Get(models.DataKeyCategory),
							"description": in.Raw,
						},
					}}, nil
				},
			},
		},
		Pending: func(req ActionRequest, s models.Session) string {
			return "⏳ Membuat tiket laporan..."
		},
		Succeeded: func(req ActionRequest, s models.Session, res models.ActionResult) string {
			return withNote(fmt.Sprintf("✅ Laporan diterima.\nNomor tiket: *%s*\nKategori: %s\n\nTim kami akan segera menindaklanjuti.",
				res.Data["ticket_id"], categoryLabel(req.Params["category"])), res)
		},
		Failed: failedReply,
	}
}

func validateDescription(in StepInput) error {
	n := utf8.RuneCountInString(in.Raw)
	switch {
	case n < MinTicketDescription:
		return invalid("Deskripsi terlalu singkat. Jelaskan kendala Anda minimal %d karakter.", MinTicketDescription)
	case n > MaxTicketDescription:
		return invalid("Deskripsi terlalu panjang (%d karakter). Maksimal %d karakter.", n, MaxTicketDescription)
	}
	return nil
}

func cancelTicketFlow() Flow {
	return Flow{
		ID:          models.FlowCancelTicket,
		Title:       "Batalkan Tiket",
		IdleTimeout: ticketIdleTimeout,
		EntrySteps:  []models.StepID{stepCancelTicket},
		Start: func(ctx context.Context, in StepInput) (Outcome, error) {
			if len(in.Profile.OpenTickets) == 0 {
				return Outcome{Reply: "Anda tidak memiliki tiket aktif yang bisa dibatalkan."}, nil
			}
			return Outcome{
				Next:  stepCancelTicket,
				Reply: "Pilih tiket yang ingin dibatalkan:\n" + numbered(ticketLabels(in.Profile.OpenTickets)),
			}, nil
		},
		Steps: []Step{
			{
				ID: stepCancelTicket,
				Handle: func(ctx context.Context, in StepInput) (Outcome, error) {
					tickets := in.Profile.OpenTickets
					if len(tickets) == 0 {
						return Outcome{Reply: "Tiket tersebut sudah tidak aktif."}, nil
					}
					keys := make([]string, len(tickets))
					for i, tk := range tickets {
						keys[i] = tk.ID
					}
					i, ok := choose(in, keys)
					if !ok {
						return Outcome{}, invalid("Pilihan tidak dikenali. Balas dengan angka 1 sampai %d atau nomor tiket.", len(tickets))
					}
					return Outcome{
						Patch: map[models.DataKey]string{models.DataKeyTicketID: tickets[i].ID},
						Action: &ActionRequest{
							Name: models.ActionCancelTicket,
							Params: map[string]string{
								"customer_id": in.Session.Get(models.DataKeyCustomerID),
								"ticket_id":   tickets[i].ID,
							},
						},
					}, nil
				},
			},
		},
		Succeeded: func(req ActionRequest, s models.Session, res models.ActionResult) string {
			return withNote(fmt.Sprintf("✅ Tiket *%s* telah dibatalkan.", req.Params["ticket_id"]), res)
		},
		Failed: failedReply,
	}
}
