package enrich

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/duiduidodge/noon-feed-sub001/internal/llm"
)

const enrichmentSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["title", "summary", "tags", "sentiment", "market_impact"],
  "properties": {
    "title": {"type": "string", "minLength": 1, "maxLength": 90},
    "summary": {"type": "string", "minLength": 10, "maxLength": 1000},
    "tags": {
      "type": "array",
      "minItems": 1,
      "maxItems": 7,
      "items": {"type": "string", "minLength": 1, "maxLength": 40}
    },
    "sentiment": {"enum": ["bullish", "bearish", "neutral"]},
    "market_impact": {"enum": ["high", "medium", "low"]},
    "cautions": {"type": "array", "items": {"type": "string"}},
    "quotes": {"type": "array", "items": {"type": "string"}}
  },
  "additionalProperties": true
}`

var (
	compileOnce  sync.Once
	enrichSchema *jsonschema.Schema
	compileErr   error
)

var errNoJSONObject = errors.New("no JSON object in response")

// Schema returns the compiled enrichment schema.
func Schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("enrichment.json", strings.NewReader(enrichmentSchemaJSON)); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, err := compiler.Compile("enrichment.json")
		if err != nil {
			compileErr = fmt.Errorf("compile enrichment schema: %w", err)
			return
		}
		enrichSchema = schema
	})
	return enrichSchema, compileErr
}

// Validated is an LLM response that passed the schema.
type Validated struct {
	Title        string   `json:"title"`
	Summary      string   `json:"summary"`
	Tags         []string `json:"tags"`
	Sentiment    string   `json:"sentiment"`
	MarketImpact string   `json:"market_impact"`
	Cautions     []string `json:"cautions,omitempty"`
	Quotes       []string `json:"quotes,omitempty"`
}

// Result is either a Validated value or the reason parsing failed.
type Result struct {
	value  *Validated
	reason string
}

func Ok(v Validated) Result     { return Result{value: &v} }
func Err(reason string) Result  { return Result{reason: reason} }
func (r Result) IsOk() bool     { return r.value != nil }
func (r Result) Reason() string { return r.reason }

// Value returns the validated response and whether there is one.
func (r Result) Value() (Validated, bool) {
	if r.value == nil {
		return Validated{}, false
	}
	return *r.value, true
}

// ParseResponse runs extract, decode (with one repair pass) and validate.
// It never calls back into the model.
func ParseResponse(raw string) Result {
	body, err := extractObject(raw)
	if err != nil {
		return Err("extract: " + err.Error())
	}

	doc, err := decode(body)
	if err != nil {
		repaired := repairJSON(body)
		doc, err = decode(repaired)
		if err != nil {
			return Err("decode: " + err.Error())
		}
		body = repaired
	}

	v, err := validate(doc, body)
	if err != nil {
		return Err("validate: " + err.Error())
	}
	return Ok(v)
}

func extractObject(raw string) (string, error) {
	s := llm.StripCodeFences(raw)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", errNoJSONObject
	}
	return s[start : end+1], nil
}

func decode(body string) (interface{}, error) {
	var doc interface{}
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func validate(doc interface{}, body string) (Validated, error) {
	schema, err := Schema()
	if err != nil {
		return Validated{}, err
	}
	if err := schema.Validate(doc); err != nil {
		return Validated{}, err
	}

	var v Validated
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return Validated{}, err
	}
	v.Title = strings.TrimSpace(v.Title)
	v.Summary = strings.TrimSpace(v.Summary)
	v.Tags = normalizeTags(v.Tags, v.Title+" "+v.Summary)
	v.Cautions = compact(v.Cautions)
	v.Quotes = compact(v.Quotes)
	return v, nil
}

func compact(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// repairJSON fixes the two mistakes models make most: trailing commas and
// unquoted keys. String contents are left untouched.
func repairJSON(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)

	inString, escaped := false, false
	lastSignificant := byte(0)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
				lastSignificant = '"'
			}
			continue
		}

		switch {
		case c == '"':
			inString = true
			b.WriteByte(c)
		case c == ',':
			j := skipSpace(s, i+1)
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
			b.WriteByte(c)
			lastSignificant = c
		case isIdentStart(c) && (lastSignificant == '{' || lastSignificant == ','):
			j := i
			for j < len(s) && isIdentPart(s[j]) {
				j++
			}
			if k := skipSpace(s, j); k < len(s) && s[k] == ':' {
				b.WriteByte('"')
				b.WriteString(s[i:j])
				b.WriteByte('"')
				lastSignificant = '"'
				i = j - 1
				continue
			}
			b.WriteByte(c)
			lastSignificant = c
		default:
			b.WriteByte(c)
			if c != ' ' && c != '\n' && c != '\t' && c != '\r' {
				lastSignificant = c
			}
		}
	}
	return b.String()
}

func skipSpace(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\n' || s[i] == '\t' || s[i] == '\r') {
		i++
	}
	return i
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
