package models

import "time"

// Horizon is one of the three aggregation windows.
type Horizon int

const (
	HorizonST Horizon = iota
	HorizonMT
	HorizonLT

	// NumHorizons is the number of aggregation windows.
	NumHorizons = 3
)

// AllHorizons lists horizons from shortest to longest.
var AllHorizons = []Horizon{HorizonST, HorizonMT, HorizonLT}

func (h Horizon) String() string {
	switch h {
	case HorizonST:
		return "short_term"
	case HorizonMT:
		return "mid_term"
	case HorizonLT:
		return "long_term"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so horizons work as map keys.
func (h Horizon) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// WindowAggregate is the decay-weighted summary of one horizon window.
// When Empty is true the distribution is undefined and Dominant is EmotionNone.
type WindowAggregate struct {
	Oldest       time.Time     `json:"oldest,omitempty"`
	Newest       time.Time     `json:"newest,omitempty"`
	Horizon      Horizon       `json:"horizon"`
	Capacity     int           `json:"capacity"`
	Count        int           `json:"count"`
	Distribution Distribution  `json:"distribution"`
	Dominant     Emotion       `json:"dominant"`
	Confidence   float64       `json:"confidence"`
	Volatility   float64       `json:"volatility"`
	Span         time.Duration `json:"span"`
	Empty        bool          `json:"empty"`
}

// EmptyAggregate returns the undefined aggregate for a horizon.
func EmptyAggregate(h Horizon, capacity int) WindowAggregate {
	return WindowAggregate{
		Horizon:  h,
		Capacity: capacity,
		Dominant: EmotionNone,
		Empty:    true,
	}
}

// Fill is the share of the window capacity in use, in [0,1].
func (a WindowAggregate) Fill() float64 {
	if a.Capacity <= 0 || a.Empty {
		return 0
	}
	f := float64(a.Count) / float64(a.Capacity)
	if f > 1 {
		return 1
	}
	return f
}

// Aggregates holds one aggregate per horizon.
type Aggregates [NumHorizons]WindowAggregate

// Get returns the aggregate for h.
func (a Aggregates) Get(h Horizon) WindowAggregate {
	return a[h]
}

// AllEmpty reports whether no horizon has data.
func (a Aggregates) AllEmpty() bool {
	for _, agg := range a {
		if !agg.Empty {
			return false
		}
	}
	return true
}
