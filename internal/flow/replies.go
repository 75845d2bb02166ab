package flow

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	replyCancelled         = "✅ Proses dibatalkan. Ketik *menu* untuk melihat layanan lainnya."
	replyCancelledInFlight = "Proses dibatalkan. Permintaan Anda sudah terlanjur dikirim ke sistem dan mungkin tetap dijalankan. Ketik *menu* untuk melihat layanan lainnya."
	replyNothingToCancel   = "Tidak ada proses yang sedang berjalan. Ketik *menu* untuk melihat layanan."
	replyBusy              = "⏳ Permintaan Anda sebelumnya masih diproses. Mohon tunggu sebentar."
	replyStartOver         = "Maaf, terjadi kesalahan pada sesi Anda. Silakan mulai lagi dengan mengetik *menu*."
	replyTemporaryError    = "Maaf, sistem sedang mengalami gangguan. Silakan coba beberapa saat lagi."
	replyNotRegistered     = "Nomor Anda belum terdaftar sebagai pelanggan. Silakan hubungi admin untuk pendaftaran."
	replyNotUnderstood     = "Maaf, saya tidak mengerti pesan Anda. Ketik *menu* untuk melihat daftar layanan."
	replyNoDevice          = "Belum ada perangkat yang terdaftar pada akun Anda. Silakan hubungi admin."
	replyActionUnavailable = "layanan sedang tidak dapat dihubungi"
	hintCancel             = "Ketik *batal* untuk membatalkan."
	hintMenu               = "Ketik *menu* untuk melihat daftar layanan."
)

// retryHintAfter is the number of rejected inputs after which the reply reminds
// the user how to leave the flow.
const retryHintAfter = 3

func replyExpired(title string) string {
	return fmt.Sprintf("⌛ Sesi *%s* sebelumnya telah berakhir karena tidak ada balasan.", title)
}

func replyPendingReminder(title string) string {
	return fmt.Sprintf("_Anda masih memiliki proses *%s* yang belum selesai. Lanjutkan, atau ketik *batal*._", title)
}

func replyActionFailed(reason string) string {
	if reason == "" {
		reason = "alasan tidak diketahui"
	}
	return fmt.Sprintf("❌ Permintaan gagal diproses: %s.\nSilakan coba lagi dari *menu*.", strings.TrimSuffix(reason, "."))
}

// joinReplies joins non-empty reply parts with a blank line.
func joinReplies(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}

// numbered renders a 1-based numbered list.
func numbered(items []string) string {
	var b strings.Builder
	for i, it := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(it)
	}
	return b.String()
}

// formatRupiah renders an amount with dot thousands separators: 1500000 -> "1.500.000".
func formatRupiah(n int64) string {
	s := strconv.FormatInt(n, 10)
	sign := ""
	if n < 0 {
		sign, s = "-", s[1:]
	}
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "." + s[i:]
	}
	return sign + s
}
