// Package profile holds the attribute inferences the agents exchange and
// the rules for validating and consolidating them.
package profile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Inference is one guess about one attribute of the subject. Several
// inferences may share a Type until they are deduplicated.
type Inference struct {
	Type       string     `json:"type" validate:"required"`
	Confidence Confidence `json:"confidence" validate:"gte=0"`
	Evidence   any        `json:"evidence"`
	Guess      any        `json:"guess" validate:"required"`
}

// GuessString renders Guess as text.
func (i Inference) GuessString() string {
	switch g := i.Guess.(type) {
	case string:
		return g
	case nil:
		return ""
	default:
		b, err := json.Marshal(g)
		if err != nil {
			return fmt.Sprint(g)
		}
		return string(b)
	}
}

// Confidence is a model-reported score. Models emit it as a number or as
// a numeric string ("4", "4/5", "0.8").
type Confidence float64

// UnmarshalJSON accepts numbers and numeric strings.
func (c *Confidence) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := parseScore(s)
		if err != nil {
			return err
		}
		*c = Confidence(v)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("confidence %s is not a number", data)
	}
	*c = Confidence(f)
	return nil
}

func parseScore(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "/"); i > 0 {
		s = strings.TrimSpace(s[:i])
	}
	s = strings.TrimSuffix(s, "%")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("confidence %q is not a number", s)
	}
	return f, nil
}

// ValidationError reports an inference entry that cannot be used.
type ValidationError struct {
	Index  int
	Entry  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("inference %d is malformed: %s", e.Index, e.Reason)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks a single inference.
func Validate(inf Inference) error {
	if err := validate.Struct(inf); err != nil {
		return err
	}
	if strings.TrimSpace(inf.Type) == "" {
		return fmt.Errorf("type is blank")
	}
	return nil
}

// Decode converts a parsed "results" value into inferences. Entries that
// are not objects or fail validation are returned as *ValidationError
// and left out of the result.
func Decode(results any) ([]Inference, []error) {
	list, ok := results.([]any)
	if !ok {
		return nil, []error{&ValidationError{Index: -1, Entry: results, Reason: fmt.Sprintf("results is %T, not a list", results)}}
	}

	var out []Inference
	var errs []error
	for i, entry := range list {
		inf, err := decodeOne(entry)
		if err != nil {
			errs = append(errs, &ValidationError{Index: i, Entry: entry, Reason: err.Error()})
			continue
		}
		out = append(out, inf)
	}
	return out, errs
}

func decodeOne(entry any) (Inference, error) {
	if _, ok := entry.(map[string]any); !ok {
		return Inference{}, fmt.Errorf("entry is %T, not a dict", entry)
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return Inference{}, err
	}
	var inf Inference
	if err := json.Unmarshal(raw, &inf); err != nil {
		return Inference{}, err
	}
	inf.Type = strings.TrimSpace(inf.Type)
	if err := Validate(inf); err != nil {
		return Inference{}, err
	}
	return inf, nil
}

// OfTypes returns the inferences whose Type is in types, in order.
func OfTypes(infs []Inference, types []string) []Inference {
	var out []Inference
	for _, inf := range infs {
		if slices.Contains(types, inf.Type) {
			out = append(out, inf)
		}
	}
	return out
}

// Types returns the distinct types in infs in first-seen order.
func Types(infs []Inference) []string {
	var out []string
	for _, inf := range infs {
		if !slices.Contains(out, inf.Type) {
			out = append(out, inf.Type)
		}
	}
	return out
}

// Dedupe keeps one inference per Type. Types appear in first-seen order;
// the kept record is the one with the highest confidence, and on equal
// confidence the later record.
func Dedupe(infs []Inference) []Inference {
	index := make(map[string]int)
	var out []Inference
	for _, inf := range infs {
		i, seen := index[inf.Type]
		if !seen {
			index[inf.Type] = len(out)
			out = append(out, inf)
			continue
		}
		if inf.Confidence >= out[i].Confidence {
			out[i] = inf
		}
	}
	return out
}
