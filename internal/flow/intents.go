package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/kabelnet/ispbot/internal/intent"
	"github.com/kabelnet/ispbot/internal/models"
)

var infoTitles = map[models.IntentID]string{
	intent.CheckBill:     "Cek Tagihan & Saldo",
	intent.AccountStatus: "Info Akun & Perangkat",
	intent.ListTickets:   "Daftar Tiket Saya",
}

// runIntent answers a global keyword. Informational intents never touch the
// session; a flow intent replaces any unprotected session with a new flow.
func (e *Engine) runIntent(ctx context.Context, t *turn, s models.Session, has bool, in intent.Intent) string {
	e.logEvent(t.userID, models.EventIntent, s.FlowID, s.Step, map[string]string{"intent": string(in.ID)})

	if in.StartsFlow() {
		if has {
			e.sessions.Delete(t.userID)
			e.logEvent(t.userID, models.EventFlowReplaced, s.FlowID, s.Step, map[string]string{"by": string(in.Flow)})
			slog.Info("Engine.runIntent: replacing active flow", "user_id", t.userID, "old", s.FlowID, "new", in.Flow)
		}
		return e.startFlow(ctx, t, in.Flow)
	}

	text := e.informational(ctx, t, in.ID)
	if has {
		title := string(s.FlowID)
		if f, ok := e.registry.Flow(s.FlowID); ok {
			title = f.Title
		}
		text = joinReplies(text, replyPendingReminder(title))
	}
	return text
}

func (e *Engine) informational(ctx context.Context, t *turn, id models.IntentID) string {
	switch id {
	case intent.CheckBill, intent.AccountStatus, intent.ListTickets:
	default:
		return e.menuText(t.displayName)
	}

	p, err := e.loadProfile(ctx, t)
	if err != nil {
		return profileErrorReply(err)
	}
	switch id {
	case intent.CheckBill:
		return billText(p)
	case intent.AccountStatus:
		return accountText(p)
	default:
		return ticketsText(p)
	}
}

// menuText lists every intent that has a menu shortcut, ordered by shortcut.
func (e *Engine) menuText(name string) string {
	var b strings.Builder
	if name != "" {
		fmt.Fprintf(&b, "Halo *%s*! 👋\n", name)
	} else {
		b.WriteString("Halo! 👋\n")
	}
	b.WriteString("Silakan pilih layanan dengan membalas angka atau kata kunci:\n")
	for _, in := range menuEntries(e.matcher.Intents()) {
		title := infoTitles[in.ID]
		if f, ok := e.registry.Flow(in.Flow); ok {
			title = f.Title
		}
		if title == "" {
			continue
		}
		fmt.Fprintf(&b, "\n%s. %s", in.Shortcut, title)
	}
	b.WriteString("\n\nKetik *batal* kapan saja untuk membatalkan proses.")
	return b.String()
}

// menuEntries returns the intents with a shortcut, numeric shortcuts first in
// numeric order.
func menuEntries(all []intent.Intent) []intent.Intent {
	var out []intent.Intent
	for _, in := range all {
		if in.Shortcut != "" {
			out = append(out, in)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, errA := strconv.Atoi(out[i].Shortcut)
		b, errB := strconv.Atoi(out[j].Shortcut)
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil || errB == nil:
			return errA == nil
		default:
			return out[i].Shortcut < out[j].Shortcut
		}
	})
	return out
}

func billText(p *models.Profile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📄 *Informasi Tagihan*\nNama: %s\nPaket: %s\nBiaya bulanan: Rp%s\nSaldo: Rp%s",
		p.Name, p.Package, formatRupiah(p.MonthlyFee), formatRupiah(p.Balance))
	if p.DueDay > 0 {
		fmt.Fprintf(&b, "\nJatuh tempo: tanggal %d setiap bulan", p.DueDay)
	}
	if p.Balance < p.MonthlyFee {
		fmt.Fprintf(&b, "\n\nSaldo Anda kurang Rp%s dari biaya bulanan. Ketik *topup* untuk isi saldo.",
			formatRupiah(p.MonthlyFee-p.Balance))
	}
	return b.String()
}

func accountText(p *models.Profile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "👤 *Info Akun*\nNama: %s\nID Pelanggan: %s\nPaket: %s", p.Name, p.CustomerID, p.Package)
	if len(p.Devices) == 0 {
		b.WriteString("\n\nBelum ada perangkat terdaftar.")
		return b.String()
	}
	b.WriteString("\n\nPerangkat:\n")
	b.WriteString(numbered(deviceLabels(p.Devices)))
	return b.String()
}

func ticketsText(p *models.Profile) string {
	if len(p.OpenTickets) == 0 {
		return "Anda tidak memiliki tiket aktif. Ketik *lapor* untuk membuat tiket baru."
	}
	return "🎫 *Tiket Aktif*\n" + numbered(ticketLabels(p.OpenTickets))
}

func deviceLabels(ds []models.Device) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Label
		if d.Label == "" {
			out[i] = d.ID
		}
	}
	return out
}

func ticketLabels(ts []models.TicketRef) []string {
	out := make([]string, len(ts))
	for i, tk := range ts {
		out[i] = fmt.Sprintf("%s (%s) %s", tk.ID, tk.Category, tk.Summary)
	}
	return out
}
