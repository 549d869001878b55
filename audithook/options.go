package audithook

import "github.com/zakops/gatekeep/audit"

// Option configures an Extension.
type Option func(*Extension)

// WithEventTypes restricts the extension to append only the listed event
// types. By default all hook-driven types are enabled.
func WithEventTypes(types ...audit.EventType) Option {
	return func(e *Extension) {
		e.enabled = make(map[audit.EventType]bool, len(types))
		for _, t := range types {
			e.enabled[t] = true
		}
	}
}
