package providers

import "time"

// Set maps canonical provider names to backends.
type Set map[string]Provider

// Get returns the provider for a canonical name, nil when unconfigured.
func (s Set) Get(name string) Provider {
	return s[name]
}

// NewSet builds the CLI-backed provider set from command lines keyed by
// canonical provider name. Unlisted providers are simply absent.
func NewSet(commands map[string][]string) Set {
	timeouts := map[string]time.Duration{
		"planner":    PlannerTimeout,
		"coder":      CoderTimeout,
		"researcher": ResearcherTimeout,
	}
	set := make(Set, len(commands))
	for name, cmdline := range commands {
		if len(cmdline) == 0 {
			continue
		}
		timeout, ok := timeouts[name]
		if !ok {
			timeout = PlannerTimeout
		}
		set[name] = NewCLI(name, cmdline[0], cmdline[1:], timeout)
	}
	return set
}
