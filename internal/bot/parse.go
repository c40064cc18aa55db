package bot

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// parseCommand splits "/cmd@BotName rest of line" into the bare command
// and its argument tail. ok is false for non-command text.
func parseCommand(text string) (cmd, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, tail, _ := strings.Cut(text[1:], " ")
	if head == "" {
		return "", "", false
	}
	if at := strings.IndexByte(head, '@'); at >= 0 {
		head = head[:at]
	}
	return strings.ToLower(head), strings.TrimSpace(tail), true
}

var submissionSplit = regexp.MustCompile(`[;\n]+|\s{2,}`)

// parseKeyValueSubmission reads the manual "/submit ap=12345; hacks=678"
// format: key=value pairs separated by semicolons, newlines, or runs of
// whitespace. The ap key is required; everything else lands in metrics
// with numeric values parsed as integers where possible.
func parseKeyValueSubmission(payload string) (int64, map[string]any, error) {
	data := map[string]string{}
	for _, seg := range submissionSplit.Split(payload, -1) {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		k, v, found := strings.Cut(seg, "=")
		k, v = strings.TrimSpace(strings.ToLower(k)), strings.TrimSpace(v)
		if !found || k == "" || v == "" {
			return 0, nil, fmt.Errorf("entries must be key=value pairs, got %q", seg)
		}
		data[k] = v
	}

	apRaw, ok := data["ap"]
	if !ok {
		return 0, nil, fmt.Errorf("missing ap value")
	}
	delete(data, "ap")
	ap, err := strconv.ParseInt(strings.ReplaceAll(apRaw, ",", ""), 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("ap must be an integer, got %q", apRaw)
	}

	var metrics map[string]any
	for k, v := range data {
		if metrics == nil {
			metrics = map[string]any{}
		}
		if n, err := strconv.ParseInt(strings.ReplaceAll(v, ",", ""), 10, 64); err == nil {
			metrics[k] = n
		} else {
			metrics[k] = v
		}
	}
	return ap, metrics, nil
}
