// Package parser turns raw model replies into keyed results. Replies are
// expected to carry a JSON object inside a fenced ```json block.
package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/zealscott/autoprofiler/internal/llm"
)

// ParseError reports a reply that does not satisfy the expected shape.
// Raw is the unparsed reply (or the provider error body for a context
// overflow) and is fed back to the model as corrective context.
type ParseError struct {
	Raw     string
	Message string
}

func (e *ParseError) Error() string { return e.Message }

// ContextOverflow reports whether the failure was the prompt exceeding
// the model's context window.
func (e *ParseError) ContextOverflow() bool {
	return llm.IsContextOverflow(e.Raw)
}

// Field is one key of the expected JSON object. Hint is shown to the
// model in the format instruction.
type Field struct {
	Name string
	Hint string
}

// Parser extracts a JSON object with the configured fields.
type Parser struct {
	Fields   []Field
	Required []string
}

// New returns a parser for fields with the named keys required.
func New(fields []Field, required ...string) *Parser {
	return &Parser{Fields: fields, Required: required}
}

// Result is a parsed reply.
type Result map[string]any

// String returns key as a string. Non-string values are rendered as JSON.
func (r Result) String(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// Decode re-marshals key into v.
func (r Result) Decode(key string, v any) error {
	b, err := json.Marshal(r[key])
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// FormatInstruction describes the expected reply to the model.
func (p *Parser) FormatInstruction() string {
	var b strings.Builder
	b.WriteString("Respond a JSON dictionary in a markdown's fenced code block as follows:\n```json\n{")
	for i, f := range p.Fields {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%q: %s", f.Name, f.Hint)
	}
	b.WriteString("}\n```")
	return b.String()
}

// Parse extracts the first ```json block (or the outermost {...} when no
// fenced block exists) and checks the required keys.
func (p *Parser) Parse(raw string) (Result, error) {
	body, ok := fencedJSON(raw)
	if !ok {
		body, ok = outermostObject(raw)
	}
	if !ok {
		return nil, &ParseError{
			Raw:     raw,
			Message: "The response is not a JSON dictionary in a markdown fenced code block (```json ... ```).",
		}
	}

	var out Result
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return nil, &ParseError{
			Raw:     raw,
			Message: fmt.Sprintf("Failed to decode the JSON dictionary from the response: %v.", err),
		}
	}

	var missing []string
	for _, k := range p.Required {
		if _, ok := out[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return nil, &ParseError{
			Raw:     raw,
			Message: fmt.Sprintf("Missing required field(s) %s in the JSON dictionary.", strings.Join(missing, ", ")),
		}
	}
	return out, nil
}

var md = goldmark.New()

// fencedJSON walks the markdown AST for the first fenced code block
// tagged json. An untagged block is used when no tagged one exists.
func fencedJSON(raw string) (string, bool) {
	src := []byte(raw)
	doc := md.Parser().Parse(text.NewReader(src))

	var tagged, untagged string
	var haveTagged, haveUntagged bool
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		block, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}
		lang := strings.ToLower(string(block.Language(src)))
		body := blockText(block, src)
		switch {
		case lang == "json" && !haveTagged:
			tagged, haveTagged = body, true
			return ast.WalkStop, nil
		case lang == "" && !haveUntagged:
			untagged, haveUntagged = body, true
		}
		return ast.WalkSkipChildren, nil
	})

	if haveTagged {
		return tagged, true
	}
	if haveUntagged && strings.HasPrefix(strings.TrimSpace(untagged), "{") {
		return untagged, true
	}
	return "", false
}

func blockText(block *ast.FencedCodeBlock, src []byte) string {
	var buf bytes.Buffer
	lines := block.Lines()
	for i := range lines.Len() {
		seg := lines.At(i)
		buf.Write(seg.Value(src))
	}
	return buf.String()
}

// outermostObject returns the text between the first '{' and the last '}'.
func outermostObject(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return raw[start : end+1], true
}

// OneOf returns a check that key holds one of the allowed strings.
func OneOf(key string, allowed ...string) func(Result) error {
	return func(r Result) error {
		v := strings.ToLower(strings.TrimSpace(r.String(key)))
		if slices.Contains(allowed, v) {
			r[key] = v
			return nil
		}
		return &ParseError{
			Message: fmt.Sprintf("The %q field should be one of [%s], not %q.", key, strings.Join(allowed, ", "), r.String(key)),
		}
	}
}

// IsList returns a check that key holds a JSON array.
func IsList(key string) func(Result) error {
	return func(r Result) error {
		if _, ok := r[key].([]any); ok {
			return nil
		}
		return &ParseError{
			Message: fmt.Sprintf("The %s should be a list of dict, not %s.", key, jsonKind(r[key])),
		}
	}
}

// IsObject returns a check that key holds a JSON object.
func IsObject(key string) func(Result) error {
	return func(r Result) error {
		if _, ok := r[key].(map[string]any); ok {
			return nil
		}
		return &ParseError{
			Message: fmt.Sprintf("The %s should be a dict, not %s.", key, jsonKind(r[key])),
		}
	}
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "list"
	case map[string]any:
		return "dict"
	default:
		return fmt.Sprintf("%T", v)
	}
}
