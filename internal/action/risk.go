package action

import "strings"

// Risk is the effective risk level of an action.
// L0 = pure read, L1 = benign write, L2 = sensitive, L3 = file-write/destructive.
type Risk int

const (
	RiskL0 Risk = iota
	RiskL1
	RiskL2
	RiskL3
)

func (r Risk) String() string {
	switch r {
	case RiskL0:
		return "L0"
	case RiskL1:
		return "L1"
	case RiskL2:
		return "L2"
	case RiskL3:
		return "L3"
	}
	return "L0"
}

// ParseRisk accepts "L0".."L3" (case-insensitive) and bare digits "0".."3".
func ParseRisk(s string) (Risk, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "L0", "0":
		return RiskL0, true
	case "L1", "1":
		return RiskL1, true
	case "L2", "2":
		return RiskL2, true
	case "L3", "3":
		return RiskL3, true
	}
	return RiskL0, false
}

// ClampRisk bounds r to the valid L0..L3 range.
func ClampRisk(r Risk) Risk {
	if r < RiskL0 {
		return RiskL0
	}
	if r > RiskL3 {
		return RiskL3
	}
	return r
}
