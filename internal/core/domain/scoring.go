package domain

import "fmt"

type RiskLevel string

const (
	Critical RiskLevel = "Critical"
	High     RiskLevel = "High"
	Medium   RiskLevel = "Medium"
	Low      RiskLevel = "Low"
)

// ClassifyRisk maps a risk score to its severity band.
// This is a pure domain function with no I/O dependencies.
//
// Thresholds are inclusive lower bounds checked highest-first:
// 90 Critical, 70 High, 40 Medium. Everything else, including
// negative and out-of-range scores, is Low.
func ClassifyRisk(score int) RiskLevel {
	switch {
	case score >= 90:
		return Critical
	case score >= 70:
		return High
	case score >= 40:
		return Medium
	default:
		return Low
	}
}

func (l RiskLevel) String() string { return string(l) }

// Band is the colour bucket the dashboard paints the risk badge with.
func (l RiskLevel) Band() string {
	switch l {
	case Critical:
		return "red"
	case High:
		return "orange"
	case Medium:
		return "yellow"
	default:
		return "green"
	}
}

// Filter selects records for a view: FilterAll or one canonical type.
type Filter string

const FilterAll Filter = "All"

// ParseFilter validates a filter coming from a client. Empty means All.
func ParseFilter(s string) (Filter, error) {
	switch s {
	case "", string(FilterAll):
		return FilterAll, nil
	case string(Phishing), string(Malware), string(Spam):
		return Filter(s), nil
	default:
		return "", fmt.Errorf("unknown threat filter %q", s)
	}
}
