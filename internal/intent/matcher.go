// Package intent maps normalized free text to global keyword intents.
package intent

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/kabelnet/ispbot/internal/models"
	"gopkg.in/yaml.v3"
)

// Well-known informational intents.
const (
	MainMenu      models.IntentID = "main_menu"
	CheckBill     models.IntentID = "check_bill"
	AccountStatus models.IntentID = "account_status"
	ListTickets   models.IntentID = "list_tickets"
)

// ErrEmptyTable is returned when a keyword table defines no intents.
var ErrEmptyTable = errors.New("intent table has no intents")

//go:embed keywords.yaml
var defaultTable []byte

// Intent is one entry of the keyword table. Flow is set for intents that start a flow.
type Intent struct {
	ID       models.IntentID `yaml:"id"`
	Flow     models.FlowID   `yaml:"flow"`
	Shortcut string          `yaml:"shortcut"`
	Phrases  []string        `yaml:"phrases"`
}

// StartsFlow reports whether the intent begins a multi-step flow.
func (i Intent) StartsFlow() bool { return i.Flow != "" }

type table struct {
	Intents []Intent `yaml:"intents"`
}

// Matcher resolves exact phrase matches over normalized input.
type Matcher struct {
	phrases   map[string]Intent
	shortcuts map[string]Intent
	intents   []Intent
}

// NewDefaultMatcher builds a Matcher from the embedded keyword table.
func NewDefaultMatcher() (*Matcher, error) {
	return Parse(defaultTable)
}

// LoadFile builds a Matcher from a YAML keyword table on disk.
func LoadFile(path string) (*Matcher, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keyword table %s: %w", path, err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("keyword table %s: %w", path, err)
	}
	slog.Info("Matcher.LoadFile: loaded keyword table", "path", path, "intents", len(m.intents))
	return m, nil
}

// Parse builds a Matcher from YAML. Duplicate phrases or shortcuts are rejected.
func Parse(data []byte) (*Matcher, error) {
	var t table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse keyword table: %w", err)
	}
	if len(t.Intents) == 0 {
		return nil, ErrEmptyTable
	}

	m := &Matcher{
		phrases:   make(map[string]Intent),
		shortcuts: make(map[string]Intent),
		intents:   t.Intents,
	}
	for _, in := range t.Intents {
		if in.ID == "" {
			return nil, fmt.Errorf("intent with phrases %v has no id", in.Phrases)
		}
		for _, p := range in.Phrases {
			key := Normalize(p)
			if key == "" {
				continue
			}
			if prev, dup := m.phrases[key]; dup {
				return nil, fmt.Errorf("phrase %q used by both %s and %s", key, prev.ID, in.ID)
			}
			m.phrases[key] = in
		}
		if in.Shortcut != "" {
			key := Normalize(in.Shortcut)
			if prev, dup := m.shortcuts[key]; dup {
				return nil, fmt.Errorf("shortcut %q used by both %s and %s", key, prev.ID, in.ID)
			}
			m.shortcuts[key] = in
		}
	}
	slog.Debug("Matcher.Parse: keyword table ready", "intents", len(m.intents), "phrases", len(m.phrases))
	return m, nil
}

// Match looks up a normalized message. Menu shortcuts are only honored when the
// user has no active session, since a bare number is usually flow data otherwise.
func (m *Matcher) Match(normalized string, hasSession bool) (Intent, bool) {
	if in, ok := m.phrases[normalized]; ok {
		return in, true
	}
	if !hasSession {
		if in, ok := m.shortcuts[normalized]; ok {
			return in, true
		}
	}
	return Intent{}, false
}

// Intents returns the table in declaration order.
func (m *Matcher) Intents() []Intent {
	return append([]Intent(nil), m.intents...)
}

// ForFlow returns the start intent of a flow, if any.
func (m *Matcher) ForFlow(id models.FlowID) (Intent, bool) {
	for _, in := range m.intents {
		if in.Flow == id {
			return in, true
		}
	}
	return Intent{}, false
}
