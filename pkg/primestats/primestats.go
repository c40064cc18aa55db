// Package primestats parses the whitespace-separated stat export lines
// produced by Ingress Prime ("copy stats" output). Each line carries the
// time span, agent identity, a timestamp, level, AP figures and a long
// positional tail of secondary metrics.
package primestats

import (
	"regexp"
	"strconv"
	"strings"
)

// Entry is one parsed stat line.
type Entry struct {
	TimeSpan   string
	Codename   string
	Faction    string // "ENL" or "RES"
	Date       string // yyyy-mm-dd
	Time       string // HH:MM or HH:MM:SS
	Level      int
	LifetimeAP int64
	CurrentAP  int64
	// CycleName and CyclePoints come from an optional "+<Cycle>" token.
	CycleName   string
	CyclePoints int64
	// Metrics maps secondary stat names to int64 values (or the raw
	// string when a column is not numeric). Only columns present on the
	// line appear.
	Metrics map[string]any
	Raw     string
}

// metricColumns names the positional tail, starting at column 8 of a
// normalized line (time span counted as one token).
var metricColumns = []string{
	"unique_portals_visited",
	"unique_portals_drone_visited",
	"furthest_drone_distance",
	"portals_discovered",
	"xm_collected",
	"opr_agreements",
	"portal_scans_uploaded",
	"uniques_scout_controlled",
	"resonators_deployed",
	"links_created",
	"control_fields_created",
	"mind_units_captured",
	"longest_link_ever_created",
	"largest_control_field",
	"xm_recharged",
	"portals_captured",
	"unique_portals_captured",
	"mods_deployed",
	"hacks",
	"drone_hacks",
	"glyph_hack_points",
	"completed_hackstreaks",
	"longest_sojourner_streak",
	"resonators_destroyed",
	"portals_neutralized",
	"enemy_links_destroyed",
	"enemy_fields_destroyed",
	"battle_beacon_combatant",
	"drones_returned",
	"machina_links_destroyed",
	"machina_resonators_destroyed",
	"machina_portals_neutralized",
	"machina_portals_reclaimed",
	"max_time_portal_held",
	"max_time_link_maintained",
	"max_link_length_x_days",
	"max_time_field_held",
	"largest_field_mus_x_days",
	"forced_drone_recalls",
	"distance_walked",
	"kinetic_capsules_completed",
	"unique_missions_completed",
	"research_bounties_completed",
	"research_days_completed",
	"mission_days_attended",
	"nl1331_meetups_attended",
	"first_saturday_events",
	"second_sunday_events",
	"delta_tokens",
	"delta_reso_points",
	"delta_field_points",
	"agents_recruited",
	"recursions",
	"months_subscribed",
}

var (
	headerRe = regexp.MustCompile(`Time Span|Agent Name|Date \(yyyy-mm-dd\)`)
	dateRe   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	timeRe   = regexp.MustCompile(`^\d{2}:\d{2}(:\d{2})?$`)
)

// Parse reads a whole pasted export, skipping the header line when
// present and any line that does not parse. It never fails: a paste with
// no valid lines yields an empty slice.
func Parse(text string) []Entry {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) > 0 && headerRe.MatchString(lines[0]) {
		lines = lines[1:]
	}

	var out []Entry
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if e, ok := ParseLine(line); ok {
			out = append(out, e)
		}
	}
	return out
}

// ParseLine parses a single stat line. ok is false for anything that is
// not a well-formed export line.
func ParseLine(line string) (Entry, bool) {
	parts := strings.Fields(line)
	// time_span, name, faction, date, time, level, lifetime_ap, current_ap
	if len(parts) < 8 {
		return Entry{}, false
	}

	e := Entry{Raw: line}

	// "ALL TIME" is a two-token span; fold it into one so the rest of the
	// columns line up with the other spans.
	if parts[0] == "ALL" && parts[1] == "TIME" {
		if len(parts) < 9 {
			return Entry{}, false
		}
		e.TimeSpan = "ALL TIME"
		parts = parts[1:]
	} else {
		e.TimeSpan = parts[0]
	}

	e.Codename = parts[1]
	e.Date = parts[3]
	e.Time = parts[4]
	if !dateRe.MatchString(e.Date) || !timeRe.MatchString(e.Time) {
		return Entry{}, false
	}

	var ok bool
	if e.Faction, ok = normalizeFaction(parts[2]); !ok {
		return Entry{}, false
	}

	lvl, ok := parseNum(parts[5])
	if !ok {
		return Entry{}, false
	}
	e.Level = int(lvl)
	if e.LifetimeAP, ok = parseNum(parts[6]); !ok {
		return Entry{}, false
	}
	if e.CurrentAP, ok = parseNum(parts[7]); !ok {
		return Entry{}, false
	}

	e.CycleName, e.CyclePoints = extractCycle(parts)

	for i, name := range metricColumns {
		col := 8 + i
		if col >= len(parts) {
			break
		}
		if v, ok := parseNum(parts[col]); ok {
			setMetric(&e, name, v)
		} else {
			setMetric(&e, name, parts[col])
		}
	}
	return e, true
}

// parseNum reads an integer token, tolerating comma grouping ("12,345,678")
// as some locales paste it.
func parseNum(tok string) (int64, bool) {
	v, err := strconv.ParseInt(strings.ReplaceAll(tok, ",", ""), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func normalizeFaction(raw string) (string, bool) {
	switch strings.ToLower(raw) {
	case "enlightened", "enl":
		return "ENL", true
	case "resistance", "res":
		return "RES", true
	default:
		return "", false
	}
}

// extractCycle finds an optional "+<Name> <points>" token pair.
func extractCycle(parts []string) (string, int64) {
	for i, p := range parts {
		if strings.HasPrefix(p, "+") && len(p) > 1 {
			var pts int64
			if i+1 < len(parts) {
				pts, _ = parseNum(parts[i+1])
			}
			return p[1:], pts
		}
	}
	return "", 0
}

func setMetric(e *Entry, name string, v any) {
	if e.Metrics == nil {
		e.Metrics = map[string]any{}
	}
	e.Metrics[name] = v
}
