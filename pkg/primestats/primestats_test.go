package primestats

import (
	"strings"
	"testing"
)

const allTimeLine = "ALL TIME AgentName Enlightened 2023-11-01 12:34:56 16 12345678 9012345 " +
	"100 200 300 400 500 600 700 800 900 1000 1100 1200 1300 1400 1500 1600 1700 1800 1900 " +
	"2000 2100 2200 2300 2400 2500 2600 2700 2800 2900 3000 3100 3200 3300 3400 3500 3600 " +
	"3700 3800 3900 4000 4100 4200 4300 4400 4500 4600 4700 4800 4900 5000 5100 5200 5300 " +
	"5400 5500 5600 5700 +Theta 1500"

const headerLine = "Time Span Agent Name Agent Faction Date (yyyy-mm-dd) Time (hh:mm:ss) " +
	"Level Lifetime AP Current AP Unique Portals Visited Hacks"

func TestParseLineAllTime(t *testing.T) {
	e, ok := ParseLine(allTimeLine)
	if !ok {
		t.Fatal("line did not parse")
	}
	if e.TimeSpan != "ALL TIME" {
		t.Errorf("TimeSpan = %q", e.TimeSpan)
	}
	if e.Codename != "AgentName" || e.Faction != "ENL" {
		t.Errorf("identity = %q/%q", e.Codename, e.Faction)
	}
	if e.Date != "2023-11-01" || e.Time != "12:34:56" {
		t.Errorf("timestamp = %q %q", e.Date, e.Time)
	}
	if e.Level != 16 || e.LifetimeAP != 12345678 || e.CurrentAP != 9012345 {
		t.Errorf("figures = %d/%d/%d", e.Level, e.LifetimeAP, e.CurrentAP)
	}
	if e.CycleName != "Theta" || e.CyclePoints != 1500 {
		t.Errorf("cycle = %q/%d", e.CycleName, e.CyclePoints)
	}
	// The positional tail counts up in hundreds in this fixture.
	if v := e.Metrics["unique_portals_visited"]; v != int64(100) {
		t.Errorf("unique_portals_visited = %v", v)
	}
	if v := e.Metrics["xm_collected"]; v != int64(500) {
		t.Errorf("xm_collected = %v", v)
	}
	if v := e.Metrics["hacks"]; v != int64(1900) {
		t.Errorf("hacks = %v", v)
	}
}

func TestParseLineWeekSpan(t *testing.T) {
	e, ok := ParseLine("WEEK AgentTwo RES 2023-11-01 08:15 14 1000000 50000 10 20")
	if !ok {
		t.Fatal("line did not parse")
	}
	if e.TimeSpan != "WEEK" || e.Faction != "RES" {
		t.Errorf("span/faction = %q/%q", e.TimeSpan, e.Faction)
	}
	if e.CurrentAP != 50000 {
		t.Errorf("CurrentAP = %d", e.CurrentAP)
	}
	if len(e.Metrics) != 2 || e.Metrics["unique_portals_drone_visited"] != int64(20) {
		t.Errorf("metrics = %v", e.Metrics)
	}
}

func TestParseLineCommaGroupedNumbers(t *testing.T) {
	e, ok := ParseLine("WEEK AgentTwo RES 2023-11-01 08:15 14 12,345,678 50,000 1,000 20")
	if !ok {
		t.Fatal("comma-grouped line did not parse")
	}
	if e.LifetimeAP != 12345678 || e.CurrentAP != 50000 {
		t.Errorf("AP figures = %d/%d", e.LifetimeAP, e.CurrentAP)
	}
	if v := e.Metrics["unique_portals_visited"]; v != int64(1000) {
		t.Errorf("unique_portals_visited = %v", v)
	}
}

func TestParseLineRejectsMalformed(t *testing.T) {
	bad := []string{
		"",
		"This is not a valid stat line",
		"ALL TIME AgentName Enlightened 12:34:56 16 12345678 9012345",       // missing date
		"WEEK AgentName Klingon 2023-11-01 12:34:56 16 12345678 9012345",    // bad faction
		"WEEK AgentName Enlightened 2023-11-01 12:34:56 lvl 12345678 9000",  // bad level
		"WEEK AgentName Enlightened 2023/11/01 12:34:56 16 12345678 9000",   // bad date format
	}
	for _, line := range bad {
		if _, ok := ParseLine(line); ok {
			t.Errorf("parsed invalid line %q", line)
		}
	}
}

func TestParseSkipsHeaderAndBadLines(t *testing.T) {
	text := strings.Join([]string{
		headerLine,
		allTimeLine,
		"garbage in the middle",
		"ALL TIME Agent2 Resistance 2023-11-01 12:34:56 16 87654321 1234567 100 200",
	}, "\n")

	entries := Parse(text)
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Codename != "AgentName" || entries[1].Codename != "Agent2" {
		t.Fatalf("wrong agents: %q, %q", entries[0].Codename, entries[1].Codename)
	}
	if entries[1].Faction != "RES" {
		t.Fatalf("faction not normalized: %q", entries[1].Faction)
	}
}

func TestParseEmptyInput(t *testing.T) {
	if got := Parse("   \n \n"); len(got) != 0 {
		t.Fatalf("expected no entries, got %v", got)
	}
}

func TestNormalizeFaction(t *testing.T) {
	for raw, want := range map[string]string{
		"Enlightened": "ENL", "enl": "ENL", "ENL": "ENL",
		"Resistance": "RES", "res": "RES", "RES": "RES",
	} {
		got, ok := normalizeFaction(raw)
		if !ok || got != want {
			t.Errorf("normalizeFaction(%q) = %q, %v", raw, got, ok)
		}
	}
	if _, ok := normalizeFaction("Machina"); ok {
		t.Error("accepted unknown faction")
	}
}
