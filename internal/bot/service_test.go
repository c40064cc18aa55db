package bot

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"primeboard/internal/ingest"
	"primeboard/internal/services/leaderboard"
	"primeboard/internal/storage"
	"primeboard/internal/transport"
	"primeboard/pkg/logx"
)

type fakeSender struct {
	sent []string
	next int
}

func (f *fakeSender) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.sent = append(f.sent, text)
	f.next++
	return transport.MessageRef{ChatID: to.ChatID, MessageID: 1000 + f.next}, nil
}

func (f *fakeSender) last(t *testing.T) string {
	t.Helper()
	if len(f.sent) == 0 {
		t.Fatal("no reply sent")
	}
	return f.sent[len(f.sent)-1]
}

type fakeRegistry struct {
	agents      map[int64]storage.Agent
	submissions []int64
	metrics     []map[string]any
}

func (f *fakeRegistry) Register(ctx context.Context, telegramID int64, codename, faction string) (storage.Agent, error) {
	a := storage.Agent{ID: telegramID, TelegramID: telegramID, Codename: codename, Faction: strings.ToUpper(faction)}
	if f.agents == nil {
		f.agents = map[int64]storage.Agent{}
	}
	f.agents[telegramID] = a
	return a, nil
}

func (f *fakeRegistry) Agent(ctx context.Context, telegramID int64) (storage.Agent, bool, error) {
	a, ok := f.agents[telegramID]
	return a, ok, nil
}

func (f *fakeRegistry) Submit(ctx context.Context, telegramID int64, ap int64, metrics map[string]any) (storage.Agent, error) {
	a, ok := f.agents[telegramID]
	if !ok {
		return storage.Agent{}, ingest.ErrNotRegistered
	}
	f.submissions = append(f.submissions, ap)
	f.metrics = append(f.metrics, metrics)
	return a, nil
}

type fakeBoards struct {
	res leaderboard.Result
}

func (f *fakeBoards) Read(ctx context.Context, k leaderboard.Key, limit int) (leaderboard.Result, error) {
	res := f.res
	res.Key = k
	return res, nil
}

type fakeJanitor struct {
	chats []int64
	ids   [][]int
}

func (f *fakeJanitor) ScheduleDeletion(ctx context.Context, chatID int64, messageIDs ...int) error {
	f.chats = append(f.chats, chatID)
	f.ids = append(f.ids, messageIDs)
	return nil
}

func testBot(t *testing.T) (*Service, *fakeSender, *fakeRegistry, *fakeBoards, *fakeJanitor) {
	t.Helper()
	sender := &fakeSender{}
	reg := &fakeRegistry{}
	boards := &fakeBoards{}
	jan := &fakeJanitor{}
	return New(Config{}, sender, reg, boards, jan, logx.Nop()), sender, reg, boards, jan
}

func msg(text string) transport.Message {
	return transport.Message{ID: 7, ChatID: 100, FromID: 42, Text: text}
}

func groupMsg(text string) transport.Message {
	m := msg(text)
	m.ChatID = -100500
	m.IsGroup = true
	return m
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in        string
		cmd, args string
		ok        bool
	}{
		{"/help", "help", "", true},
		{"/register Nova ENL", "register", "Nova ENL", true},
		{"/leaderboard@StatsBot weekly", "leaderboard", "weekly", true},
		{"hello there", "", "", false},
		{"/", "", "", false},
	}
	for _, tt := range tests {
		cmd, args, ok := parseCommand(tt.in)
		if cmd != tt.cmd || args != tt.args || ok != tt.ok {
			t.Errorf("parseCommand(%q) = %q, %q, %v", tt.in, cmd, args, ok)
		}
	}
}

func TestParseKeyValueSubmission(t *testing.T) {
	ap, metrics, err := parseKeyValueSubmission("ap=1,234,567; hacks=42; note=solo run")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ap != 1234567 {
		t.Errorf("ap = %d", ap)
	}
	if metrics["hacks"] != int64(42) || metrics["note"] != "solo run" {
		t.Errorf("metrics = %v", metrics)
	}

	if _, _, err := parseKeyValueSubmission("hacks=42"); err == nil {
		t.Error("missing ap accepted")
	}
	if _, _, err := parseKeyValueSubmission("ap=lots"); err == nil {
		t.Error("non-numeric ap accepted")
	}
	if _, _, err := parseKeyValueSubmission("just words"); err == nil {
		t.Error("non key=value accepted")
	}
}

func TestParseBoardKey(t *testing.T) {
	key, err := parseBoardKey("weekly hacks")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if key.Span != leaderboard.SpanWeekly || key.Metric != "hacks" || key.Faction != "" {
		t.Fatalf("key = %+v", key)
	}

	key, err = parseBoardKey("enl")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if key.Faction != "ENL" || key.Metric != leaderboard.PrimaryMetric || key.Span != leaderboard.SpanAll {
		t.Fatalf("key = %+v", key)
	}

	if _, err := parseBoardKey("hacks RES"); err == nil {
		t.Fatal("faction+secondary metric accepted")
	}
}

func TestRegisterCommand(t *testing.T) {
	svc, sender, reg, _, _ := testBot(t)
	ctx := context.Background()

	svc.HandleMessage(ctx, msg("/register Nova enl"))
	if _, ok := reg.agents[42]; !ok {
		t.Fatal("agent not registered")
	}
	if !strings.Contains(sender.last(t), "Nova") {
		t.Fatalf("confirmation missing codename: %q", sender.last(t))
	}

	svc.HandleMessage(ctx, msg("/register onlyname"))
	if !strings.Contains(sender.last(t), "Usage:") {
		t.Fatalf("expected usage reply, got %q", sender.last(t))
	}
}

func TestSubmitRequiresRegistration(t *testing.T) {
	svc, sender, _, _, _ := testBot(t)
	svc.HandleMessage(context.Background(), msg("/submit ap=100"))
	if !strings.Contains(sender.last(t), "/register") {
		t.Fatalf("expected register hint, got %q", sender.last(t))
	}
}

func TestSubmitInGroupSchedulesDeletion(t *testing.T) {
	svc, sender, reg, _, jan := testBot(t)
	ctx := context.Background()

	svc.HandleMessage(ctx, groupMsg("/register Nova ENL"))
	svc.HandleMessage(ctx, groupMsg("/submit ap=5000; hacks=3"))

	if len(reg.submissions) != 1 || reg.submissions[0] != 5000 {
		t.Fatalf("submissions = %v", reg.submissions)
	}
	if !strings.Contains(sender.last(t), "5,000 AP") {
		t.Fatalf("confirmation = %q", sender.last(t))
	}
	if len(jan.ids) != 1 {
		t.Fatalf("deletions scheduled = %d, want 1", len(jan.ids))
	}
	// Both the request and the confirmation are scheduled.
	if len(jan.ids[0]) != 2 || jan.ids[0][0] != 7 {
		t.Fatalf("scheduled ids = %v", jan.ids[0])
	}
	if jan.chats[0] != -100500 {
		t.Fatalf("scheduled chat = %d", jan.chats[0])
	}
}

func TestSubmitInPrivateSkipsDeletion(t *testing.T) {
	svc, _, _, _, jan := testBot(t)
	ctx := context.Background()
	svc.HandleMessage(ctx, msg("/register Nova ENL"))
	svc.HandleMessage(ctx, msg("/submit ap=100"))
	if len(jan.ids) != 0 {
		t.Fatalf("deletion scheduled for private chat: %v", jan.ids)
	}
}

func TestSubmitAcceptsPrimePaste(t *testing.T) {
	svc, sender, reg, _, _ := testBot(t)
	ctx := context.Background()
	svc.HandleMessage(ctx, msg("/register AgentName ENL"))

	paste := "ALL TIME AgentName Enlightened 2023-11-01 12:34:56 16 12345678 9012345 100 200 300 400 500"
	svc.HandleMessage(ctx, msg("/submit "+paste))

	if len(reg.submissions) != 1 || reg.submissions[0] != 12345678 {
		t.Fatalf("submissions = %v, want lifetime AP", reg.submissions)
	}
	if reg.metrics[0]["xm_collected"] != int64(500) {
		t.Fatalf("metrics = %v", reg.metrics[0])
	}
	if !strings.Contains(sender.last(t), "12,345,678 AP") {
		t.Fatalf("confirmation = %q", sender.last(t))
	}
}

func TestBarePasteInPrivateCountsAsSubmission(t *testing.T) {
	svc, _, reg, _, _ := testBot(t)
	ctx := context.Background()
	svc.HandleMessage(ctx, msg("/register AgentName ENL"))

	svc.HandleMessage(ctx, msg("ALL TIME AgentName Enlightened 2023-11-01 12:34:56 16 12345678 9012345"))
	if len(reg.submissions) != 1 {
		t.Fatalf("bare paste not ingested: %v", reg.submissions)
	}

	// Ordinary chatter is not a submission.
	svc.HandleMessage(ctx, msg("good morning agents"))
	if len(reg.submissions) != 1 {
		t.Fatalf("chatter ingested: %v", reg.submissions)
	}
}

func TestLeaderboardCommandRendersRows(t *testing.T) {
	svc, sender, _, boards, _ := testBot(t)
	boards.res = leaderboard.Result{
		Rows: []storage.AggregateRow{
			{Codename: "B", Faction: "RES", Value: 150},
			{Codename: "C<script>", Faction: "ENL", Value: 150},
			{Codename: "A", Faction: "ENL", Value: 100},
		},
		Generation: 3,
	}

	svc.HandleMessage(context.Background(), msg("/leaderboard"))
	out := sender.last(t)
	if !strings.Contains(out, "<b>Leaderboard</b>") {
		t.Fatalf("missing title: %q", out)
	}
	if strings.Index(out, ">B<") > strings.Index(out, "C&lt;script&gt;") {
		t.Fatalf("row order lost: %q", out)
	}
	if strings.Contains(out, "<script>") {
		t.Fatalf("codename not escaped: %q", out)
	}
}

func TestLeaderboardUnavailable(t *testing.T) {
	svc, sender, _, boards, _ := testBot(t)
	boards.res = leaderboard.Result{Unavailable: true}

	svc.HandleMessage(context.Background(), msg("/leaderboard daily"))
	if !strings.Contains(sender.last(t), "unavailable") {
		t.Fatalf("expected unavailable notice, got %q", sender.last(t))
	}
}

func TestMyRank(t *testing.T) {
	svc, sender, _, boards, _ := testBot(t)
	ctx := context.Background()
	svc.HandleMessage(ctx, msg("/register Nova ENL"))

	boards.res = leaderboard.Result{
		Rows: []storage.AggregateRow{
			{AgentID: 9, Codename: "Other", Faction: "RES", Value: 900},
			{AgentID: 42, Codename: "Nova", Faction: "ENL", Value: 500},
		},
	}
	svc.HandleMessage(ctx, msg("/myrank"))
	if !strings.Contains(sender.last(t), "#2") {
		t.Fatalf("expected rank 2, got %q", sender.last(t))
	}

	// A different agent sharing the codename must not shadow the caller.
	boards.res = leaderboard.Result{
		Rows: []storage.AggregateRow{
			{AgentID: 9, Codename: "Nova", Faction: "RES", Value: 900},
			{AgentID: 42, Codename: "Nova", Faction: "ENL", Value: 500},
		},
	}
	svc.HandleMessage(ctx, msg("/myrank"))
	if !strings.Contains(sender.last(t), "#2") {
		t.Fatalf("expected id-exact rank 2, got %q", sender.last(t))
	}

	boards.res = leaderboard.Result{
		Rows: []storage.AggregateRow{{AgentID: 9, Codename: "Other", Faction: "RES", Value: 900}},
	}
	svc.HandleMessage(ctx, msg("/myrank weekly"))
	if !strings.Contains(sender.last(t), "outside the top") {
		t.Fatalf("expected outside-top reply, got %q", sender.last(t))
	}
}

func TestCapMessageKeepsTagsBalanced(t *testing.T) {
	rows := make([]storage.AggregateRow, 200)
	for i := range rows {
		rows[i] = storage.AggregateRow{
			AgentID:  int64(i + 1),
			Codename: strings.Repeat("x", 40) + fmt.Sprintf("%03d", i),
			Faction:  "ENL",
			Value:    int64(1000000 - i),
		}
	}
	body := renderBoard(leaderboard.Result{
		Key:  leaderboard.Key{Metric: "ap", Span: leaderboard.SpanAll},
		Rows: rows,
	})
	if utf8.RuneCountInString(string(body)) <= messageRuneLimit {
		t.Fatal("fixture not oversized")
	}

	capped := string(capMessage(body))
	if n := utf8.RuneCountInString(capped); n > messageRuneLimit {
		t.Fatalf("capped message is %d runes", n)
	}
	for _, tag := range []string{"code", "b"} {
		open := strings.Count(capped, "<"+tag+">")
		closed := strings.Count(capped, "</"+tag+">")
		if open != closed {
			t.Fatalf("unbalanced <%s>: %d open, %d closed", tag, open, closed)
		}
	}
	if strings.HasSuffix(capped, "\n") {
		t.Fatalf("trailing newline left on cut: %q", capped[len(capped)-20:])
	}

	// A short message passes through untouched.
	short := renderBoard(leaderboard.Result{Key: leaderboard.Key{Metric: "ap"}, Rows: rows[:2]})
	if string(capMessage(short)) != string(short) {
		t.Fatal("short message was modified")
	}
}

func TestGroupDigits(t *testing.T) {
	for v, want := range map[int64]string{
		0:        "0",
		999:      "999",
		1000:     "1,000",
		1234567:  "1,234,567",
		-9876543: "-9,876,543",
	} {
		if got := groupDigits(v); got != want {
			t.Errorf("groupDigits(%d) = %q, want %q", v, got, want)
		}
	}
}
