// Package models contains domain models for emostate.
package models

import (
	"database/sql/driver"
	"fmt"
	"math"

	json "github.com/goccy/go-json"
)

// Emotion is one category of the fixed emotion set.
type Emotion int

// The declaration order is also the tie-break priority: when two categories
// carry the same weight, the one declared first is dominant.
const (
	Joy Emotion = iota
	Sadness
	Anger
	Anxiety
	Calm
	Excitement

	// NumEmotions is the size of the category set.
	NumEmotions = 6
)

// EmotionNone marks an undefined dominant emotion (empty window, new user).
const EmotionNone Emotion = -1

var emotionNames = [NumEmotions]string{"joy", "sadness", "anger", "anxiety", "calm", "excitement"}

// AllEmotions lists categories in priority order.
var AllEmotions = []Emotion{Joy, Sadness, Anger, Anxiety, Calm, Excitement}

// PositiveEmotions contribute positively to valence.
var PositiveEmotions = []Emotion{Joy, Calm, Excitement}

// NegativeEmotions contribute negatively to valence.
var NegativeEmotions = []Emotion{Sadness, Anger, Anxiety}

// String returns the lowercase category name.
func (e Emotion) String() string {
	if e < 0 || int(e) >= NumEmotions {
		return "none"
	}
	return emotionNames[e]
}

// Valid reports whether e is a member of the category set.
func (e Emotion) Valid() bool {
	return e >= 0 && int(e) < NumEmotions
}

// ParseEmotion maps a category name to its Emotion.
func ParseEmotion(name string) (Emotion, bool) {
	for i, n := range emotionNames {
		if n == name {
			return Emotion(i), true
		}
	}
	if name == "none" || name == "" {
		return EmotionNone, true
	}
	return EmotionNone, false
}

// MarshalText implements encoding.TextMarshaler.
func (e Emotion) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *Emotion) UnmarshalText(b []byte) error {
	v, ok := ParseEmotion(string(b))
	if !ok {
		return fmt.Errorf("unknown emotion %q", string(b))
	}
	*e = v
	return nil
}

// Distribution maps every emotion category to a non-negative weight.
// A valid distribution sums to 1.0.
type Distribution [NumEmotions]float64

// DistributionFromMap builds a Distribution from category names.
// Unknown names are reported as an error.
func DistributionFromMap(m map[string]float64) (Distribution, error) {
	var d Distribution
	for name, w := range m {
		e, ok := ParseEmotion(name)
		if !ok || !e.Valid() {
			return Distribution{}, fmt.Errorf("unknown emotion %q", name)
		}
		d[e] = w
	}
	return d, nil
}

// Map returns the distribution keyed by category name.
func (d Distribution) Map() map[string]float64 {
	m := make(map[string]float64, NumEmotions)
	for i, w := range d {
		m[emotionNames[i]] = w
	}
	return m
}

// Sum returns the total weight.
func (d Distribution) Sum() float64 {
	var s float64
	for _, w := range d {
		s += w
	}
	return s
}

// IsZero reports whether all weights are zero (undefined distribution).
func (d Distribution) IsZero() bool {
	for _, w := range d {
		if w != 0 {
			return false
		}
	}
	return true
}

// Normalized returns d scaled to sum to 1. A zero distribution stays zero.
func (d Distribution) Normalized() Distribution {
	s := d.Sum()
	if s <= 0 {
		return Distribution{}
	}
	var out Distribution
	for i, w := range d {
		out[i] = w / s
	}
	return out
}

// Dominant returns the argmax category. Ties resolve to the category declared
// first. A zero distribution has no dominant emotion.
func (d Distribution) Dominant() Emotion {
	best := EmotionNone
	bestW := 0.0
	for i, w := range d {
		if w > bestW {
			best = Emotion(i)
			bestW = w
		}
	}
	return best
}

// Valence is the sum of positive weights minus the sum of negative weights.
func (d Distribution) Valence() float64 {
	var v float64
	for _, e := range PositiveEmotions {
		v += d[e]
	}
	for _, e := range NegativeEmotions {
		v -= d[e]
	}
	return v
}

// Intensity is the total-variation distance from the uniform distribution,
// normalized to [0,1]. A one-hot distribution scores 1, uniform scores 0.
func (d Distribution) Intensity() float64 {
	if d.IsZero() {
		return 0
	}
	u := 1.0 / float64(NumEmotions)
	var tv float64
	for _, w := range d {
		if w > u {
			tv += w - u
		}
	}
	return math.Min(1, tv/(1-u))
}

// Cosine returns the cosine similarity of two distributions.
func (d Distribution) Cosine(o Distribution) float64 {
	var dot, na, nb float64
	for i := range d {
		dot += d[i] * o[i]
		na += d[i] * d[i]
		nb += o[i] * o[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// MarshalJSON encodes the distribution as a category-name map.
func (d Distribution) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Map())
}

// UnmarshalJSON decodes a category-name map.
func (d *Distribution) UnmarshalJSON(b []byte) error {
	var m map[string]float64
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	v, err := DistributionFromMap(m)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Scan implements sql.Scanner for Distribution.
func (d *Distribution) Scan(src interface{}) error {
	if src == nil {
		*d = Distribution{}
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type for Distribution: %T", src)
	}
	if len(data) == 0 {
		*d = Distribution{}
		return nil
	}
	return d.UnmarshalJSON(data)
}

// Value implements driver.Valuer for Distribution.
func (d Distribution) Value() (driver.Value, error) {
	b, err := d.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
