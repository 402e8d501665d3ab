// Package market tracks which (market, outcome) pairs are accepting orders.
// The core does not create, resolve or pay out markets; it only consumes the
// lifecycle status reported by the market collaborator.
package market

type Status uint8

const (
	Active Status = iota
	Paused
	Resolved
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Paused:
		return "paused"
	case Resolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// Market is one prediction market with a fixed set of outcome tokens.
// A binary market has outcomes ["Yes", "No"]; categorical markets carry one
// outcome token per candidate result.
type Market struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Outcomes []string `json:"outcomes"`
	Status   Status   `json:"status"`
}

// Accepting reports whether new orders may enter this market's books.
func (m *Market) Accepting() bool { return m.Status == Active }

// HasOutcome reports whether the outcome index exists for this market.
func (m *Market) HasOutcome(idx uint32) bool { return int(idx) < len(m.Outcomes) }
