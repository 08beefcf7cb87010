// Package analyzer is the proxy pipeline that turns a raw collected
// item into a structured model response: render the prompt, call an
// AI client, clean and parse the reply, and record the full exchange
// (spec §4.7).
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"intelhub/internal/aiclient"
	"intelhub/internal/conversation"
	"intelhub/internal/hubtypes"
	"intelhub/internal/obs"
)

const analysisTemperature = 0
const defaultMaxOutputTokens = 8192

// Variant selects which specialized prompt structure is in play. The
// pipeline steps are identical; only the rendered table differs.
type Variant string

const (
	VariantDefault        Variant = ""
	VariantAggressive     Variant = "aggressive"
	VariantRecommendation Variant = "recommendation"
)

// Result is a parsed model response plus the bookkeeping the hub needs
// to act on it.
type Result struct {
	Fields      map[string]any
	Warning     string
	RecordIndex int64

	// RateKeysInOrder is RATE's key-emission order in the raw model
	// response, for the rate-class max computation's tie-break rule
	// (spec invariant 5). Empty when the response carried no RATE field.
	RateKeysInOrder []string
}

// Proxy assembles prompts, drives the AI client manager, and records
// every exchange.
type Proxy struct {
	manager         *aiclient.Manager
	recorder        *conversation.Recorder
	maxOutputTokens int
	log             obs.Logger
}

// New returns a Proxy. maxOutputTokens <= 0 uses the ~8k default budget.
func New(manager *aiclient.Manager, recorder *conversation.Recorder, maxOutputTokens int, log obs.Logger) *Proxy {
	if maxOutputTokens <= 0 {
		maxOutputTokens = defaultMaxOutputTokens
	}
	if log == nil {
		log = obs.NewNoopLogger()
	}
	return &Proxy{manager: manager, recorder: recorder, maxOutputTokens: maxOutputTokens, log: log}
}

// BuildUserMessage renders an item's metadata as "- key: value" lines
// followed by its body under a "## content" header (spec §4.7 step 1).
func BuildUserMessage(metadata map[string]any, body string) string {
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "- %s: %v\n", k, metadata[k])
	}
	sb.WriteString("\n## content\n")
	sb.WriteString(body)
	return sb.String()
}

// metadataOf extracts the non-body fields of a collected item as the
// flat map BuildUserMessage renders into "- key: value" lines.
func metadataOf(item hubtypes.CollectedItem) map[string]any {
	m := map[string]any{"informant": item.Informant}
	if item.Title != "" {
		m["title"] = item.Title
	}
	if len(item.Authors) > 0 {
		m["authors"] = strings.Join(item.Authors, ", ")
	}
	if item.PubTime != nil {
		m["pub_time"] = item.PubTime.Format("2006-01-02T15:04:05Z07:00")
	}
	for k, v := range item.Extra {
		m[k] = v
	}
	return m
}

// Analyze runs the default analysis prompt against a freshly collected
// item.
func (p *Proxy) Analyze(ctx context.Context, leaseOwner, systemPrompt string, item hubtypes.CollectedItem) (Result, error) {
	user := BuildUserMessage(metadataOf(item), item.Content)
	return p.exchange(ctx, leaseOwner, VariantDefault, systemPrompt, user)
}

// Aggressive runs the aggressive-variant prompt, which additionally
// takes a markdown table of prior exchange history.
func (p *Proxy) Aggressive(ctx context.Context, leaseOwner, systemPrompt string, item hubtypes.CollectedItem, historyTable string) (Result, error) {
	user := BuildUserMessage(metadataOf(item), item.Content) + "\n\n## history\n" + historyTable
	return p.exchange(ctx, leaseOwner, VariantAggressive, systemPrompt, user)
}

// Recommendation runs the recommendation-variant prompt over a
// markdown table of archived items.
func (p *Proxy) Recommendation(ctx context.Context, leaseOwner, systemPrompt, archivedTable string) (Result, error) {
	user := "## archived items\n" + archivedTable
	return p.exchange(ctx, leaseOwner, VariantRecommendation, systemPrompt, user)
}

func (p *Proxy) exchange(ctx context.Context, leaseOwner string, variant Variant, systemPrompt, userMessage string) (Result, error) {
	messages := []aiclient.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userMessage},
	}

	// Parsing runs as the manager's validate step so an unparseable
	// body is retried inside the same 3-attempt budget as an HTTP
	// failure (spec §4.3/§4.6 step 6-7) rather than dropped on the
	// first bad response.
	var fields map[string]any
	var warning string
	var rateKeysInOrder []string
	validate := func(resp aiclient.Response) error {
		cleaned := cleanAssistantText(resp.Content)
		f, w, parseErr := parseLenient(cleaned)
		if parseErr != nil {
			return fmt.Errorf("%w: %v", hubtypes.ErrTransientProvider, parseErr)
		}
		fields, warning = f, w
		rateKeysInOrder = rateKeyOrder(cleaned)
		return nil
	}

	resp, err := p.manager.Chat(ctx, leaseOwner, messages, analysisTemperature, p.maxOutputTokens, validate)
	if err != nil {
		return Result{}, err
	}

	rec, recErr := p.recorder.Record(ctx, conversation.Exchange{
		Variant:      string(variant),
		SystemPrompt: systemPrompt,
		UserMessage:  userMessage,
		Response:     resp.Content,
		Warning:      warning,
	})
	if recErr != nil {
		p.log.Warn("analyzer: failed to record exchange", map[string]any{"error": recErr.Error()})
	}

	return Result{Fields: fields, Warning: warning, RecordIndex: rec.Index, RateKeysInOrder: rateKeysInOrder}, nil
}

var (
	thinkBlockRe  = regexp.MustCompile(`(?s)<think>.*?</think>`)
	answerWrapRe  = regexp.MustCompile(`(?s)<answer>(.*?)</answer>`)
	codeFenceRe   = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
)

// cleanAssistantText strips <think> blocks, unwraps <answer>...</answer>,
// and strips a surrounding triple-backtick code fence (spec §4.7 step 4).
func cleanAssistantText(raw string) string {
	s := thinkBlockRe.ReplaceAllString(raw, "")
	if m := answerWrapRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	s = strings.TrimSpace(s)
	if m := codeFenceRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	return strings.TrimSpace(s)
}

// parseLenient attempts a strict JSON parse first; on failure it tries
// the lenient repair pass and, if that succeeds, returns warning
// "json_repaired" (spec §4.7 step 5).
func parseLenient(text string) (fields map[string]any, warning string, err error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(text), &m); err == nil {
		return m, "", nil
	}
	repaired, ok := repairJSON(text)
	if !ok {
		return nil, "", fmt.Errorf("unparseable model response")
	}
	if err := json.Unmarshal([]byte(repaired), &m); err != nil {
		return nil, "", fmt.Errorf("repaired text still invalid: %w", err)
	}
	return m, "json_repaired", nil
}

// rateKeyOrder re-walks the same text parseLenient just parsed (strict
// or repaired) to recover RATE's key-emission order, which a decode
// into map[string]any already discarded. Returns nil if there is no
// RATE field or the text can't be parsed this way, in which case
// callers fall back to a deterministic order of their own (spec
// invariant 5's tie-break only matters when there is a tie to break).
func rateKeyOrder(text string) []string {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		repaired, ok := repairJSON(text)
		if !ok {
			return nil
		}
		if err := json.Unmarshal([]byte(repaired), &raw); err != nil {
			return nil
		}
	}
	rateRaw, ok := raw["RATE"]
	if !ok {
		return nil
	}
	_, keys, err := hubtypes.DecodeOrderedRate(rateRaw)
	if err != nil {
		return nil
	}
	return keys
}
