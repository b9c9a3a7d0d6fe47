package summarizer

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// UnmarshalJSON akzeptiert jedes JSON-Objekt. Das Schema im Prompt ist nur ein
// Hinweis an das Modell: Felder in abweichender Form werden bestmöglich
// übernommen oder leer gelassen, statt die ganze Antwort zu verwerfen.
func (s *Summary) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	if fields == nil {
		return fmt.Errorf("summary is not a json object")
	}

	s.Summary = looseString(fields["summary"])
	s.KeyPoints = looseStrings(fields["key_points"])
	s.KeyNumbers = looseKeyNumbers(fields["key_numbers"])
	s.Topics = looseStrings(fields["topics"])
	s.Countries = looseStrings(fields["countries"])
	s.Dates = looseDates(fields["dates"])
	s.ImpactLevel = strings.ToLower(looseString(fields["impact_level"]))
	s.Confidence = looseFloat(fields["confidence"])
	return nil
}

func decodeAny(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

// looseString übernimmt Strings direkt und Zahlen oder Bools als Text.
func looseString(raw json.RawMessage) string {
	switch v := decodeAny(raw).(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}

func looseOptString(raw json.RawMessage) *string {
	s := looseString(raw)
	if s == "" {
		return nil
	}
	return &s
}

// looseStrings akzeptiert eine Liste oder einen einzelnen Wert.
func looseStrings(raw json.RawMessage) []string {
	var out []string
	add := func(v interface{}) {
		b, _ := json.Marshal(v)
		if s := looseString(b); s != "" {
			out = append(out, s)
		}
	}
	switch v := decodeAny(raw).(type) {
	case []interface{}:
		for _, e := range v {
			add(e)
		}
	case nil:
	default:
		add(v)
	}
	return out
}

func looseKeyNumbers(raw json.RawMessage) []KeyNumber {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]KeyNumber, 0, len(items))
	for _, item := range items {
		var f map[string]json.RawMessage
		if err := json.Unmarshal(item, &f); err != nil || f == nil {
			continue
		}
		out = append(out, KeyNumber{
			Metric:  looseString(f["metric"]),
			Value:   decodeAny(f["value"]),
			Unit:    decodeAny(f["unit"]),
			Context: looseString(f["context"]),
		})
	}
	return out
}

func looseDates(raw json.RawMessage) Dates {
	var f map[string]json.RawMessage
	if err := json.Unmarshal(raw, &f); err != nil || f == nil {
		return Dates{}
	}
	return Dates{
		Published: looseOptString(f["published"]),
		Horizon:   looseOptString(f["horizon"]),
		Other:     decodeAny(f["other"]),
	}
}

// looseFloat liest Zahlen und numerische Strings wie "0.8" oder "80%".
func looseFloat(raw json.RawMessage) *float64 {
	var f float64
	switch v := decodeAny(raw).(type) {
	case float64:
		f = v
	case string:
		s := strings.TrimSpace(v)
		percent := strings.HasSuffix(s, "%")
		parsed, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
		if err != nil {
			return nil
		}
		if percent {
			parsed /= 100
		}
		f = parsed
	default:
		return nil
	}
	return &f
}
