package match

import "github.com/okian/potally/internal/domain/model"

// Verdict is the outcome of evaluating one message.
type Verdict int

// Verdicts, in evaluation order.
const (
	Counted Verdict = iota
	SkippedSelf
	SkippedCommand
	NoMatch
)

func (v Verdict) String() string {
	switch v {
	case Counted:
		return "counted"
	case SkippedSelf:
		return "self"
	case SkippedCommand:
		return "command"
	case NoMatch:
		return "no_match"
	default:
		return "unknown"
	}
}

// Policy decides whether a message adds to its author's tally.
// Live ingestion and resync evaluate messages with the same Policy.
type Policy struct {
	Matcher       *Matcher
	CommandPrefix string
	// SelfID is the bot's own user id; its messages never count.
	SelfID string
}

// Evaluate applies the exclusion rules and then the token match.
func (p Policy) Evaluate(msg model.Message) Verdict {
	if p.SelfID != "" && msg.Author.ID == p.SelfID {
		return SkippedSelf
	}
	if msg.IsCommand(p.CommandPrefix) {
		return SkippedCommand
	}
	// A tally needs an owner; authorless messages are never counted.
	if msg.Author.ID == "" || p.Matcher == nil || !p.Matcher.Matches(msg.Content) {
		return NoMatch
	}
	return Counted
}
