package flow

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/kabelnet/ispbot/internal/intent"
	"github.com/kabelnet/ispbot/internal/models"
)

const stepTopUpAmount models.StepID = "topup.await_amount"

// Top-up bounds in rupiah.
const (
	MinTopUp int64 = 10_000
	MaxTopUp int64 = 5_000_000
)

var errBadAmount = errors.New("unrecognised amount")

var amountMultipliers = []struct {
	suffix string
	factor float64
}{
	{"juta", 1_000_000},
	{"jt", 1_000_000},
	{"ribu", 1_000},
	{"rb", 1_000},
	{"k", 1_000},
}

// ParseAmount reads a rupiah amount such as "50000", "50.000", "Rp 50.000",
// "50rb", "50k" or "1,5jt".
func ParseAmount(s string) (int64, error) {
	v := strings.ReplaceAll(intent.Normalize(s), " ", "")
	v = strings.TrimPrefix(v, "rp")
	v = strings.TrimSuffix(v, ",-")
	if v == "" {
		return 0, errBadAmount
	}

	for _, m := range amountMultipliers {
		if !strings.HasSuffix(v, m.suffix) {
			continue
		}
		num := strings.ReplaceAll(strings.TrimSuffix(v, m.suffix), ",", ".")
		f, err := strconv.ParseFloat(num, 64)
		if err != nil || f <= 0 || math.IsInf(f, 0) || math.IsNaN(f) {
			return 0, errBadAmount
		}
		return int64(math.Round(f * m.factor)), nil
	}

	digits := strings.NewReplacer(".", "", ",", "").Replace(v)
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || n <= 0 {
		return 0, errBadAmount
	}
	return n, nil
}

func validateAmount(in StepInput) error {
	n, err := ParseAmount(in.Raw)
	if err != nil {
		return invalid("Nominal tidak dikenali. Contoh: *50000*, *50.000* atau *50rb*.")
	}
	if n < MinTopUp || n > MaxTopUp {
		return invalid("Nominal top up harus antara %s dan %s.", rupiah(MinTopUp), rupiah(MaxTopUp))
	}
	return nil
}

func topUpFlow() Flow {
	return Flow{
		ID:          models.FlowTopUp,
		Title:       "Top Up Saldo",
		IdleTimeout: 10 * time.Minute,
		EntrySteps:  []models.StepID{stepTopUpAmount},
		Start: func(ctx context.Context, in StepInput) (Outcome, error) {
			return Outcome{
				Next: stepTopUpAmount,
				Reply: fmt.Sprintf("Saldo Anda saat ini %s.\nKirim nominal top up (%s - %s), contoh: *100000* atau *100rb*.",
					rupiah(in.Profile.Balance), rupiah(MinTopUp), rupiah(MaxTopUp)),
			}, nil
		},
		Steps: []Step{
			{
				ID:        stepTopUpAmount,
				Protected: true,
				Validate:  validateAmount,
				Handle: func(ctx context.Context, in StepInput) (Outcome, error) {
					n, err := ParseAmount(in.Raw)
					if err != nil {
						return Outcome{}, invalid("Nominal tidak dikenali.")
					}
					amount := strconv.FormatInt(n, 10)
					return Outcome{
						Patch: map[models.DataKey]string{models.DataKeyAmount: amount},
						Action: &ActionRequest{
							Name: models.ActionTopUpRequest,
							Params: map[string]string{
								"customer_id": in.Session.Get(models.DataKeyCustomerID),
								"amount":      amount,
							},
						},
					}, nil
				},
			},
		},
		Succeeded: func(req ActionRequest, s models.Session, res models.ActionResult) string {
			n, _ := strconv.ParseInt(req.Params["amount"], 10, 64)
			return withNote(fmt.Sprintf("✅ Permintaan top up %s dibuat.\nNomor referensi: *%s*",
				rupiah(n), res.Data["reference"]), res)
		},
		Failed: failedReply,
	}
}
