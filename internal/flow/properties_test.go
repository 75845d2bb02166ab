package flow

import (
	"maps"
	"slices"
	"strings"
	"testing"

	"github.com/kabelnet/ispbot/internal/intent"
	"github.com/kabelnet/ispbot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// keywordCorpus returns every phrase and shortcut in the default keyword table.
func keywordCorpus(t *testing.T) []string {
	t.Helper()
	m, err := intent.NewDefaultMatcher()
	require.NoError(t, err)
	var out []string
	for _, in := range m.Intents() {
		out = append(out, in.Phrases...)
		if in.Shortcut != "" {
			out = append(out, in.Shortcut)
		}
	}
	return out
}

func TestEveryStepIsReachableInTests(t *testing.T) {
	reg, err := NewDefaultRegistry()
	require.NoError(t, err)
	assert.ElementsMatch(t, reg.StepIDs(), slices.Collect(maps.Keys(pathTo)))
	assert.ElementsMatch(t, reg.StepIDs(), slices.Collect(maps.Keys(invalidInput)))
}

func TestProtectedStepsNeverRerouteKeywords(t *testing.T) {
	h := newHarness(t)
	corpus := keywordCorpus(t)

	for _, f := range h.engine.Registry().Flows() {
		for _, st := range f.Steps {
			if !st.Protected {
				continue
			}
			s := models.Session{FlowID: f.ID, Step: st.ID}
			for _, phrase := range corpus {
				route, _ := h.engine.arbitrate(s, true, intent.Normalize(phrase))
				assert.Equal(t, RouteStep, route, "step %s rerouted %q", st.ID, phrase)
			}
		}
	}
}

func TestProtectedStepsTreatMenuAsData(t *testing.T) {
	for _, step := range []models.StepID{stepWiFiNameAwait, stepWiFiPasswordAwait, stepTicketDescription, stepTopUpAmount, stepRebootConfirm} {
		t.Run(string(step), func(t *testing.T) {
			h := newHarness(t)
			h.enter(t, userMulti, step, pathTo[step]...)
			intents := countKind(h.events.Kinds(), models.EventIntent)

			reply := h.send(userMulti, "menu")
			assert.NotContains(t, reply, "Silakan pilih layanan")
			assert.Equal(t, intents, countKind(h.events.Kinds(), models.EventIntent))
		})
	}

	h := newHarness(t)
	h.enter(t, userMulti, stepWiFiPasswordAwait, pathTo[stepWiFiPasswordAwait]...)
	h.send(userMulti, "menu12345")
	calls := h.devices.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "menu12345", calls[0].Params["password"])
}

func TestCancellationFromEveryStep(t *testing.T) {
	for step, path := range pathTo {
		for _, phrase := range CancelPhrases() {
			variants := []string{
				phrase,
				strings.ToUpper(phrase),
				"  " + strings.ReplaceAll(phrase, " ", "   ") + " ",
				phrase + "!",
				strings.ToUpper(phrase[:1]) + phrase[1:] + ".",
			}
			for _, msg := range variants {
				h := newHarness(t)
				h.enter(t, userMulti, step, path...)

				reply := h.send(userMulti, msg)

				assert.Equal(t, replyCancelled, reply, "step %s phrase %q", step, msg)
				_, ok := h.session(userMulti)
				assert.False(t, ok, "step %s phrase %q left a session", step, msg)
				assert.Empty(t, h.devices.Calls())
			}
		}
	}
}

func TestCancelPhrasesAreNotKeywords(t *testing.T) {
	m, err := intent.NewDefaultMatcher()
	require.NoError(t, err)
	for _, p := range CancelPhrases() {
		_, hit := m.Match(p, false)
		assert.False(t, hit, "cancel phrase %q is also a keyword", p)
	}
}

// invalidInput is rejected by every step.
var invalidInput = map[models.StepID]string{
	stepWiFiNameSelect:     "9",
	stepWiFiNameAwait:      strings.Repeat("n", MaxSSIDLength+1),
	stepWiFiPasswordSelect: "9",
	stepWiFiPasswordAwait:  "pendek",
	stepRebootSelect:       "9",
	stepRebootConfirm:      "mungkin",
	stepTicketCategory:     "9",
	stepTicketDescription:  "rusak",
	stepTopUpAmount:        "banyak",
	stepCancelTicket:       "9",
}

func TestValidationFailureIsIdempotent(t *testing.T) {
	for step, bad := range invalidInput {
		t.Run(string(step), func(t *testing.T) {
			h := newHarness(t)
			h.enter(t, userMulti, step, pathTo[step]...)
			before, _ := h.session(userMulti)

			first := h.send(userMulti, bad)
			second := h.send(userMulti, bad)

			after, ok := h.session(userMulti)
			require.True(t, ok)
			assert.Equal(t, before.Step, after.Step)
			assert.Equal(t, before.FlowID, after.FlowID)
			assert.Equal(t, before.Context, after.Context)
			assert.Equal(t, before.Retries+2, after.Retries)
			assert.Equal(t, first, second)
			assert.Empty(t, h.devices.Calls())
		})
	}
}

func countKind(kinds []models.EventKind, k models.EventKind) int {
	n := 0
	for _, x := range kinds {
		if x == k {
			n++
		}
	}
	return n
}
