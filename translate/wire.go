package translate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Wire shape
// ---------------------------------------------------------------------------

// Group is the texts of one namespace inside a request or response.
type Group struct {
	Namespace string   `json:"m"`
	Texts     []string `json:"texts"`
}

// Payload is the JSON document exchanged with the model in the user and
// assistant messages: {"items":[{"m":"modid","texts":[...]}]}.
type Payload struct {
	Items []Group `json:"items"`
}

// EncodedRequest is a batch grouped by namespace.
type EncodedRequest = Payload

// DecodedResponse is the model's reply in the same grouped shape. Groups may
// come back in any order; texts within a group are positional.
type DecodedResponse = Payload

// Slot addresses a text inside the grouped wire shape.
type Slot struct {
	Namespace string
	Index     int
}

// PositionMap maps a grouped wire slot back to the item's original input
// index. It is rebuilt for every batch.
type PositionMap map[Slot]int

// GroupSizes returns how many texts were sent per namespace.
func (pm PositionMap) GroupSizes() map[string]int {
	sizes := make(map[string]int)
	for s := range pm {
		if s.Index+1 > sizes[s.Namespace] {
			sizes[s.Namespace] = s.Index + 1
		}
	}
	return sizes
}

// Encode groups a batch by namespace, keeping first-seen namespace order and
// item order within each namespace.
func Encode(b Batch) (EncodedRequest, PositionMap) {
	var req EncodedRequest
	pm := make(PositionMap, len(b.Items))
	groupIdx := make(map[string]int)

	for _, it := range b.Items {
		gi, ok := groupIdx[it.Namespace]
		if !ok {
			gi = len(req.Items)
			groupIdx[it.Namespace] = gi
			req.Items = append(req.Items, Group{Namespace: it.Namespace})
		}
		g := &req.Items[gi]
		pm[Slot{Namespace: it.Namespace, Index: len(g.Texts)}] = it.Index
		g.Texts = append(g.Texts, it.Text)
	}
	return req, pm
}

// marshalPayload renders a payload compactly without HTML escaping, so
// markup such as <color> reaches the model verbatim.
func marshalPayload(p Payload) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// ---------------------------------------------------------------------------
// Response parsing
// ---------------------------------------------------------------------------

var markdownCodeBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// errNullText marks a response text that was null or missing.
var errNullText = errors.New("null translation")

// parsePayload extracts the grouped payload from the assistant's message
// content. Code fences and surrounding prose are stripped, and stray
// backslashes are escaped before decoding.
func parsePayload(content string) (DecodedResponse, error) {
	content = strings.TrimSpace(content)

	if m := markdownCodeBlock.FindStringSubmatch(content); len(m) > 1 {
		content = m[1]
	}

	startIdx := strings.Index(content, "{")
	endIdx := strings.LastIndex(content, "}")
	if startIdx >= 0 && endIdx > startIdx {
		content = content[startIdx : endIdx+1]
	}

	content = fixInvalidEscapes(content)

	var raw struct {
		Items []struct {
			Namespace *string   `json:"m"`
			Texts     []*string `json:"texts"`
		} `json:"items"`
	}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return DecodedResponse{}, fmt.Errorf("parsing translation payload: %w\nResponse: %s", err, truncate(content, 300))
	}
	if raw.Items == nil {
		return DecodedResponse{}, fmt.Errorf("translation payload has no \"items\" field: %s", truncate(content, 300))
	}

	resp := DecodedResponse{Items: make([]Group, 0, len(raw.Items))}
	for gi, g := range raw.Items {
		if g.Namespace == nil {
			return DecodedResponse{}, fmt.Errorf("group %d has no \"m\" field", gi)
		}
		texts := make([]string, len(g.Texts))
		for i, t := range g.Texts {
			if t == nil {
				return DecodedResponse{}, fmt.Errorf("group %q text %d: %w", *g.Namespace, i, errNullText)
			}
			texts[i] = *t
		}
		resp.Items = append(resp.Items, Group{Namespace: *g.Namespace, Texts: texts})
	}
	return resp, nil
}

// fixInvalidEscapes doubles backslashes that do not start a valid JSON
// escape inside string literals. Models often echo mod text such as
// "§" sequences correctly but leave formatting backslashes bare.
func fixInvalidEscapes(jsonContent string) string {
	var fixed strings.Builder
	inQuote := false
	escaped := false

	for i := 0; i < len(jsonContent); i++ {
		c := jsonContent[i]

		if c == '"' && !escaped {
			inQuote = !inQuote
			fixed.WriteByte(c)
			continue
		}

		if inQuote && c == '\\' && !escaped {
			if i+1 < len(jsonContent) {
				switch jsonContent[i+1] {
				case '"', '\\', '/', 'b', 'f', 'n', 'r', 't', 'u':
					fixed.WriteByte(c)
					escaped = true
					continue
				}
			}
			fixed.WriteString("\\\\")
			continue
		}

		fixed.WriteByte(c)
		escaped = false
	}

	return fixed.String()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
