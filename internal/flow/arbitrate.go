package flow

import (
	"github.com/kabelnet/ispbot/internal/intent"
	"github.com/kabelnet/ispbot/internal/models"
)

// Route is the handling path chosen for one inbound message.
type Route int

const (
	RouteFallback Route = iota
	RouteCancel
	RouteNothingToCancel
	RouteBusy
	RouteUnknownStep
	RouteStep
	RouteIntent
	RouteExpired
)

func (r Route) String() string {
	switch r {
	case RouteCancel:
		return "cancel"
	case RouteNothingToCancel:
		return "nothing_to_cancel"
	case RouteBusy:
		return "busy"
	case RouteUnknownStep:
		return "unknown_step"
	case RouteStep:
		return "step"
	case RouteIntent:
		return "intent"
	case RouteExpired:
		return "expired"
	default:
		return "fallback"
	}
}

// arbitrate decides who consumes a message. Cancellation is checked first and
// always wins. A protected step then takes the input unconditionally; otherwise
// global intents get the first look and the active step gets the rest.
func (e *Engine) arbitrate(s models.Session, has bool, normalized string) (Route, intent.Intent) {
	if IsCancelPhrase(normalized) {
		if has {
			return RouteCancel, intent.Intent{}
		}
		return RouteNothingToCancel, intent.Intent{}
	}

	if has {
		if s.Executing {
			return RouteBusy, intent.Intent{}
		}
		f, st, ok := e.registry.Step(s.Step)
		if !ok || f.ID != s.FlowID {
			return RouteUnknownStep, intent.Intent{}
		}
		if st.Protected {
			return RouteStep, intent.Intent{}
		}
	}

	if in, ok := e.matcher.Match(normalized, has); ok {
		return RouteIntent, in
	}
	if has {
		return RouteStep, intent.Intent{}
	}
	return RouteFallback, intent.Intent{}
}
