package bot

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"primeboard/internal/services/leaderboard"
	"primeboard/pkg/tgui"
)

// messageRuneLimit is Telegram's per-message text limit.
const messageRuneLimit = 4096

// capMessage keeps a rendered message under the Telegram length limit.
// Oversized messages are cut back to the last complete line so the HTML
// tags stay balanced.
func capMessage(h tgui.H) tgui.H {
	s := string(h)
	if utf8.RuneCountInString(s) <= messageRuneLimit {
		return h
	}
	s = tgui.TruncRunes(s, messageRuneLimit-1)
	if i := strings.LastIndexByte(s, '\n'); i > 0 {
		s = s[:i]
	}
	return tgui.Raw(s)
}

const helpText = `Commands:
/register <codename> <ENL|RES> — create or update your agent profile
/submit <stats> — record stats: paste your Ingress Prime export, or use ap=12345; hacks=678
/leaderboard [span] [metric] [ENL|RES] — show a ranked board (span: all, daily, weekly, monthly)
/myrank [span] [metric] — your position on a board
/help — this message`

func renderHelp() tgui.H {
	return tgui.JoinH("\n", tgui.B("Ingress stats bot"), tgui.Esc(helpText))
}

// renderBoard formats a leaderboard result as Telegram HTML. Codenames
// are user input and always escaped.
func renderBoard(res leaderboard.Result) tgui.H {
	title := boardTitle(res.Key)
	if res.Unavailable {
		return tgui.JoinH("\n", tgui.B(title), tgui.Esc("Leaderboard is unavailable right now, try again later."))
	}
	if len(res.Rows) == 0 {
		return tgui.JoinH("\n", tgui.B(title), tgui.Esc("No submissions yet."))
	}

	parts := make([]tgui.H, 0, len(res.Rows)+1)
	parts = append(parts, tgui.B(title))
	for i, row := range res.Rows {
		line := tgui.JoinH(" ",
			tgui.Esc(fmt.Sprintf("%d.", i+1)),
			tgui.Code(row.Codename),
			tgui.Esc(fmt.Sprintf("[%s]", row.Faction)),
			tgui.Esc("— "+formatValue(row.Value, res.Key.Metric)),
		)
		parts = append(parts, line)
	}
	return tgui.JoinH("\n", parts...)
}

func boardTitle(k leaderboard.Key) string {
	var b strings.Builder
	b.WriteString("Leaderboard")
	if k.Span != leaderboard.SpanAll {
		fmt.Fprintf(&b, " (%s)", k.Span)
	}
	if k.Metric != leaderboard.PrimaryMetric {
		fmt.Fprintf(&b, " by %s", strings.ToUpper(k.Metric))
	}
	if k.Faction != "" {
		fmt.Fprintf(&b, " [%s]", k.Faction)
	}
	return b.String()
}

func formatValue(v int64, metric string) string {
	unit := "AP"
	if metric != leaderboard.PrimaryMetric {
		unit = strings.ToUpper(metric)
	}
	return groupDigits(v) + " " + unit
}

// groupDigits renders 1234567 as "1,234,567".
func groupDigits(v int64) string {
	s := fmt.Sprintf("%d", v)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
