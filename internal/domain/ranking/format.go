package ranking

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Formatter renders chat replies for a token.
type Formatter struct {
	Token string
}

func (f Formatter) title() string {
	return cases.Title(language.English).String(f.Token)
}

// Leaderboard renders a resolved Result as a chat message.
func (f Formatter) Leaderboard(res Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s Leaderboard (Top %d)**\n", f.title(), res.Limit)
	for _, e := range res.Entries {
		name := e.DisplayName
		if name == "" {
			name = UnknownName(e.UserID)
		}
		fmt.Fprintf(&b, "#%d: %s with %d %s(s)\n", e.Rank, name, e.Count, f.Token)
	}
	b.WriteString("\n")
	b.WriteString(f.Trailer(res))
	return b.String()
}

// Trailer renders the requester's own standing line.
func (f Formatter) Trailer(res Result) string {
	if res.Ranked() {
		return fmt.Sprintf("Your rank: #%d with %d %s(s).", res.RequesterRank, res.RequesterCount, f.Token)
	}
	return fmt.Sprintf("You are not on the leaderboard yet. You have %d %s(s).", res.RequesterCount, f.Token)
}

// SelfCount renders the reply to a bare count command.
func (f Formatter) SelfCount(mention string, count int64) string {
	return fmt.Sprintf("%s, your current %s count is %d.", mention, f.Token, count)
}

// UserCount renders the reply to a count command naming another user.
func (f Formatter) UserCount(name string, count int64) string {
	return fmt.Sprintf("%s has a %s count of %d.", name, f.Token, count)
}
