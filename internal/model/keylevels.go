package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// TimeframeLevels holds named support/resistance levels for one timeframe in
// the nested keyLevels shape.
type TimeframeLevels struct {
	Support    map[string]string `json:"support"`
	Resistance map[string]string `json:"resistance"`
}

// KeyLevels is a tagged union over the two shapes the upstream model emits:
// a flat {support: [...], resistance: [...]} pair, or a per-timeframe map of
// TimeframeLevels. Both are accepted and preserved as-is through JSON
// round-trips; neither is normalized into the other.
type KeyLevels struct {
	flat       bool
	Support    []string
	Resistance []string
	Timeframes map[string]TimeframeLevels
}

// FlatLevels builds a flat-shape KeyLevels value.
func FlatLevels(support, resistance []string) KeyLevels {
	return KeyLevels{flat: true, Support: support, Resistance: resistance}
}

// NestedLevels builds a per-timeframe KeyLevels value.
func NestedLevels(tf map[string]TimeframeLevels) KeyLevels {
	return KeyLevels{Timeframes: tf}
}

// Flat reports whether the value carries the flat support/resistance shape.
func (k *KeyLevels) Flat() bool {
	return k.flat
}

// IsZero reports whether the union holds neither shape.
func (k *KeyLevels) IsZero() bool {
	return !k.flat && len(k.Timeframes) == 0
}

func (k KeyLevels) MarshalJSON() ([]byte, error) {
	if k.flat {
		return json.Marshal(struct {
			Support    []string `json:"support"`
			Resistance []string `json:"resistance"`
		}{k.Support, k.Resistance})
	}
	if k.Timeframes == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(k.Timeframes)
}

func (k *KeyLevels) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("keyLevels: %w", err)
	}

	if looksFlat(raw) {
		support, err := levelList(raw["support"])
		if err != nil {
			return fmt.Errorf("keyLevels support: %w", err)
		}
		resistance, err := levelList(raw["resistance"])
		if err != nil {
			return fmt.Errorf("keyLevels resistance: %w", err)
		}
		*k = KeyLevels{flat: true, Support: support, Resistance: resistance}
		return nil
	}

	tfs := make(map[string]TimeframeLevels, len(raw))
	for name, msg := range raw {
		var tf struct {
			Support    map[string]json.RawMessage `json:"support"`
			Resistance map[string]json.RawMessage `json:"resistance"`
		}
		if err := json.Unmarshal(msg, &tf); err != nil {
			return fmt.Errorf("keyLevels %q: %w", name, err)
		}
		tfs[name] = TimeframeLevels{
			Support:    levelMap(tf.Support),
			Resistance: levelMap(tf.Resistance),
		}
	}
	*k = KeyLevels{Timeframes: tfs}
	return nil
}

// looksFlat decides the union arm: the flat shape has a support or resistance
// key whose value is a JSON array.
func looksFlat(raw map[string]json.RawMessage) bool {
	for _, key := range []string{"support", "resistance"} {
		if msg, ok := raw[key]; ok && len(msg) > 0 && msg[0] == '[' {
			return true
		}
	}
	return len(raw) == 0
}

// levelList decodes an array of string or numeric price levels into strings.
func levelList(msg json.RawMessage) ([]string, error) {
	if len(msg) == 0 {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(msg, &items); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, coerceLevel(item))
	}
	return out, nil
}

func levelMap(raw map[string]json.RawMessage) map[string]string {
	out := make(map[string]string, len(raw))
	for name, msg := range raw {
		out[name] = coerceLevel(msg)
	}
	return out
}

func coerceLevel(msg json.RawMessage) string {
	var s string
	if err := json.Unmarshal(msg, &s); err == nil {
		return s
	}
	var f float64
	if err := json.Unmarshal(msg, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return string(msg)
}

// SortedTimeframes returns the nested-shape timeframe names in stable order.
func (k *KeyLevels) SortedTimeframes() []string {
	names := make([]string, 0, len(k.Timeframes))
	for name := range k.Timeframes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
