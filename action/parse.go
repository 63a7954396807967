package action

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
)

var (
	// ErrNoJSONObject is returned when a model reply contains no JSON object.
	ErrNoJSONObject = errors.New("no JSON object in model reply")

	// ErrUnknownAction is returned for action names outside the vocabulary.
	ErrUnknownAction = errors.New("unknown action")

	// ErrInvalidParams is returned when required params are missing or ill-typed.
	ErrInvalidParams = errors.New("invalid action params")
)

const (
	// DefaultConfidence is used when the model's confidence cannot be read.
	DefaultConfidence = 0.75

	defaultEraseCount = 50
	defaultWaitMillis = 1000
	maxWaitMillis     = 10000
)

type wireDecision struct {
	Action           string                 `json:"action"`
	Params           map[string]interface{} `json:"params"`
	Reasoning        string                 `json:"reasoning"`
	ShouldScreenshot interface{}            `json:"shouldScreenshot"`
	Confidence       interface{}            `json:"confidence"`
}

// ParseDecision extracts the first JSON object from a model reply and turns
// it into a typed Decision. Anything other than a well-formed action from the
// vocabulary is an error, never a default.
func ParseDecision(reply string) (*Decision, error) {
	obj, err := ExtractJSONObject(reply)
	if err != nil {
		return nil, err
	}

	var w wireDecision
	if err := json.Unmarshal([]byte(obj), &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoJSONObject, err)
	}

	a, err := New(Kind(strings.TrimSpace(w.Action)), w.Params)
	if err != nil {
		return nil, err
	}

	return &Decision{
		Action:           a,
		Reasoning:        strings.TrimSpace(w.Reasoning),
		ShouldScreenshot: truthy(w.ShouldScreenshot),
		Confidence:       NormalizeConfidence(w.Confidence),
	}, nil
}

// New builds a typed action from a kind and loosely-typed params.
func New(kind Kind, params map[string]interface{}) (Action, error) {
	p := paramReader{kind: kind, params: params}
	switch kind {
	case KindTap:
		at, err := p.point("x", "y")
		return orNil(Tap{At: at}, err)
	case KindDoubleTap:
		at, err := p.point("x", "y")
		return orNil(DoubleTap{At: at}, err)
	case KindLongPress:
		at, err := p.point("x", "y")
		return orNil(LongPress{At: at}, err)
	case KindTapText:
		s, err := p.requiredString("text")
		return orNil(TapText{Text: s}, err)
	case KindTapElementByID:
		id, err := p.requiredInt("elementId")
		return orNil(TapElementByID{ElementID: id}, err)
	case KindTapResourceID:
		s, err := p.requiredString("resourceId")
		return orNil(TapResourceID{ResourceID: s}, err)
	case KindScroll:
		s, err := p.requiredString("direction")
		if err != nil {
			return nil, err
		}
		dir, ok := ParseDirection(s)
		if !ok {
			return nil, p.invalid("direction", "must be up, down, left or right")
		}
		return Scroll{Direction: dir}, nil
	case KindSwipe:
		return p.swipe()
	case KindInputText:
		s, err := p.requiredString("text")
		return orNil(InputText{Text: s}, err)
	case KindEraseText:
		n, err := p.optionalInt("count", defaultEraseCount)
		if err == nil && n <= 0 {
			err = p.invalid("count", "must be positive")
		}
		return orNil(EraseText{Count: n}, err)
	case KindHideKeyboard:
		return HideKeyboard{}, nil
	case KindBack:
		return Back{}, nil
	case KindOpenLink:
		s, err := p.requiredString("url")
		if err != nil {
			return nil, err
		}
		if u, perr := url.Parse(s); perr != nil || u.Scheme == "" {
			return nil, p.invalid("url", "must be an absolute URL or deep link")
		}
		return OpenLink{URL: s}, nil
	case KindPressKey:
		s, err := p.requiredString("key")
		return orNil(PressKey{Key: s}, err)
	case KindScreenshot:
		return Screenshot{}, nil
	case KindWait:
		ms, err := p.optionalInt("ms", defaultWaitMillis)
		if err != nil {
			return nil, err
		}
		return Wait{Millis: min(max(ms, 0), maxWaitMillis)}, nil
	case KindDone:
		return Done{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, kind)
	}
}

func orNil(a Action, err error) (Action, error) {
	if err != nil {
		return nil, err
	}
	return a, nil
}

// NormalizeConfidence reads a number or numeric string, clamps it to [0,1]
// and falls back to DefaultConfidence for anything unreadable.
func NormalizeConfidence(v interface{}) float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return DefaultConfidence
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return DefaultConfidence
		}
		f = n
	default:
		return DefaultConfidence
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return DefaultConfidence
	}
	return math.Min(1, math.Max(0, f))
}

// ExtractJSONObject returns the first balanced {...} object in s, ignoring
// braces inside JSON strings. Markdown fences around it are tolerated.
func ExtractJSONObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", ErrNoJSONObject
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", ErrNoJSONObject
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(t))
		return b
	case float64:
		return t != 0
	}
	return false
}

type paramReader struct {
	kind   Kind
	params map[string]interface{}
}

func (p paramReader) invalid(field, why string) error {
	return fmt.Errorf("%w: %s.%s %s", ErrInvalidParams, p.kind, field, why)
}

func (p paramReader) requiredString(field string) (string, error) {
	raw, ok := p.params[field]
	if !ok || raw == nil {
		return "", p.invalid(field, "is required")
	}
	s, ok := raw.(string)
	if !ok {
		return "", p.invalid(field, "must be a string")
	}
	if strings.TrimSpace(s) == "" {
		return "", p.invalid(field, "must not be empty")
	}
	return s, nil
}

func (p paramReader) number(field string) (float64, bool, error) {
	raw, ok := p.params[field]
	if !ok || raw == nil {
		return 0, false, nil
	}
	switch t := raw.(type) {
	case float64:
		return t, true, nil
	case int:
		return float64(t), true, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(t), "%"), 64)
		if err != nil {
			return 0, true, p.invalid(field, "must be a number")
		}
		return f, true, nil
	}
	return 0, true, p.invalid(field, "must be a number")
}

func (p paramReader) requiredInt(field string) (int, error) {
	f, present, err := p.number(field)
	if err != nil {
		return 0, err
	}
	if !present {
		return 0, p.invalid(field, "is required")
	}
	if f != math.Trunc(f) {
		return 0, p.invalid(field, "must be an integer")
	}
	return int(f), nil
}

func (p paramReader) optionalInt(field string, def int) (int, error) {
	f, present, err := p.number(field)
	if err != nil {
		return 0, err
	}
	if !present {
		return def, nil
	}
	return int(f), nil
}

func (p paramReader) percent(field string) (float64, error) {
	f, present, err := p.number(field)
	if err != nil {
		return 0, err
	}
	if !present {
		return 0, p.invalid(field, "is required")
	}
	if f < 0 || f > 100 {
		return 0, p.invalid(field, "must be a percentage between 0 and 100")
	}
	return f, nil
}

func (p paramReader) point(xField, yField string) (Point, error) {
	x, err := p.percent(xField)
	if err != nil {
		return Point{}, err
	}
	y, err := p.percent(yField)
	if err != nil {
		return Point{}, err
	}
	return Point{X: x, Y: y}, nil
}

func (p paramReader) swipe() (Action, error) {
	if _, ok := p.params["startX"]; ok {
		from, err := p.point("startX", "startY")
		if err != nil {
			return nil, err
		}
		to, err := p.point("endX", "endY")
		if err != nil {
			return nil, err
		}
		return Swipe{From: &from, To: &to}, nil
	}
	raw, ok := p.params["direction"]
	if !ok {
		return nil, p.invalid("direction", "is required unless startX/startY/endX/endY are given")
	}
	d, ok := ParseDirection(fmt.Sprint(raw))
	if !ok {
		return nil, p.invalid("direction", "must be up, down, left or right")
	}
	return Swipe{Direction: d}, nil
}
