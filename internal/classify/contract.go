package classify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	fieldIsVegan     = "isVegan"
	fieldIngredients = "ingredients"
	fieldExplanation = "explanation"
)

// ParseVerdict validates a raw service reply and coerces it into a Verdict.
// The reply may wrap its JSON object in prose or code fences. Every failure
// wraps ErrContractViolation; a missing isVegan is never read as false.
// A leading object with neither isVegan nor ingredients is skipped in
// favour of a later one that does, so {"model":"x"} {"isVegan":true,...}
// parses the second object.
func ParseVerdict(reply string) (Verdict, error) {
	obj, err := findObject(reply)
	if err != nil {
		return Verdict{}, err
	}

	isVegan, err := parseIsVegan(obj)
	if err != nil {
		return Verdict{}, err
	}

	ingredients, err := parseIngredients(obj)
	if err != nil {
		return Verdict{}, err
	}

	explanation, err := parseExplanation(obj)
	if err != nil {
		return Verdict{}, err
	}

	return Verdict{
		IsVegan:     isVegan,
		Ingredients: ingredients,
		Explanation: explanation,
	}, nil
}

func violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrContractViolation, fmt.Sprintf(format, args...))
}

// findObject returns the first syntactically valid JSON object in text that
// carries a verdict field, or the first valid object when none does.
// Valid objects with neither isVegan nor ingredients are skipped.
// Objects nested inside an accepted candidate are not considered separately.
func findObject(text string) (map[string]json.RawMessage, error) {
	var first map[string]json.RawMessage

	for i := 0; i < len(text); {
		start := strings.IndexByte(text[i:], '{')
		if start == -1 {
			break
		}
		start += i

		dec := json.NewDecoder(strings.NewReader(text[start:]))
		var obj map[string]json.RawMessage
		if err := dec.Decode(&obj); err != nil {
			i = start + 1
			continue
		}

		_, hasVerdict := obj[fieldIsVegan]
		_, hasIngredients := obj[fieldIngredients]
		if hasVerdict || hasIngredients {
			return obj, nil
		}
		if first == nil {
			first = obj
		}
		i = start + int(dec.InputOffset())
	}

	if first == nil {
		return nil, violation("no JSON object found in reply")
	}
	return first, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func parseIsVegan(obj map[string]json.RawMessage) (bool, error) {
	raw, ok := obj[fieldIsVegan]
	if !ok || isNull(raw) {
		return false, violation("missing %s", fieldIsVegan)
	}

	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes", "ja":
			return true, nil
		case "false", "no", "nej":
			return false, nil
		}
	}

	return false, violation("%s is not a boolean: %s", fieldIsVegan, string(raw))
}

func parseIngredients(obj map[string]json.RawMessage) ([]string, error) {
	raw, ok := obj[fieldIngredients]
	if !ok || isNull(raw) {
		return nil, violation("missing %s", fieldIngredients)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, violation("%s is not a list", fieldIngredients)
	}

	ingredients := make([]string, 0, len(items))
	for i, item := range items {
		var s string
		if isNull(item) || json.Unmarshal(item, &s) != nil {
			return nil, violation("%s[%d] is not a string", fieldIngredients, i)
		}
		if s = strings.TrimSpace(s); s != "" {
			ingredients = append(ingredients, s)
		}
	}
	return ingredients, nil
}

func parseExplanation(obj map[string]json.RawMessage) (*string, error) {
	raw, ok := obj[fieldExplanation]
	if !ok || isNull(raw) {
		return nil, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, violation("%s is not a string", fieldExplanation)
	}
	if s = strings.TrimSpace(s); s == "" {
		return nil, nil
	}
	return &s, nil
}
