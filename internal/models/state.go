// Package models defines per-user conversation session state.
package models

import (
	"maps"
	"time"
)

// Session is the per-user record of the current flow position and its working data.
// A user with no Session has no active flow.
type Session struct {
	UserID    string             `json:"user_id"`
	FlowID    FlowID             `json:"flow_id"`
	Step      StepID             `json:"step"`
	Context   map[DataKey]string `json:"context,omitempty"`
	Retries   int                `json:"retries"`
	Executing bool               `json:"executing"`
	ExecToken string             `json:"-"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Clone returns a deep copy so callers never share the context map.
func (s Session) Clone() Session {
	out := s
	if s.Context != nil {
		out.Context = maps.Clone(s.Context)
	}
	return out
}

// Get returns a context value, or "" when absent.
func (s Session) Get(key DataKey) string {
	if s.Context == nil {
		return ""
	}
	return s.Context[key]
}

// Merge applies a context patch. Empty values delete the key.
func (s *Session) Merge(patch map[DataKey]string) {
	if len(patch) == 0 {
		return
	}
	if s.Context == nil {
		s.Context = make(map[DataKey]string, len(patch))
	}
	for k, v := range patch {
		if v == "" {
			delete(s.Context, k)
			continue
		}
		s.Context[k] = v
	}
}
