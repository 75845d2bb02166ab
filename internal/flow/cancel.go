package flow

// cancelPhrases are honored at every step of every flow, before any other routing.
var cancelPhrases = map[string]struct{}{
	"batal":      {},
	"batalkan":   {},
	"cancel":     {},
	"stop":       {},
	"keluar":     {},
	"exit":       {},
	"berhenti":   {},
	"gak jadi":   {},
	"ga jadi":    {},
	"tidak jadi": {},
	"nggak jadi": {},
	"ndak jadi":  {},
}

// IsCancelPhrase reports whether normalized input is a universal cancellation phrase.
func IsCancelPhrase(normalized string) bool {
	_, ok := cancelPhrases[normalized]
	return ok
}

// CancelPhrases lists the recognised cancellation phrases.
func CancelPhrases() []string {
	out := make([]string, 0, len(cancelPhrases))
	for p := range cancelPhrases {
		out = append(out, p)
	}
	return out
}
