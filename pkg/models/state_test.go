package models

import (
	"testing"
	"time"
)

func TestParseTier(t *testing.T) {
	tests := []struct {
		in      string
		want    Tier
		wantErr bool
	}{
		{"ST", TierST, false},
		{"mt", TierMT, false},
		{"long_term", TierLT, false},
		{"dormant", TierDormant, false},
		{"", TierNone, false},
		{"forever", TierNone, true},
	}
	for _, tt := range tests {
		got, err := ParseTier(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseTier(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestTier_Rank(t *testing.T) {
	if !(TierST.Rank() < TierMT.Rank() && TierMT.Rank() < TierLT.Rank()) {
		t.Error("active tiers must escalate ST < MT < LT")
	}
	if TierDormant.Active() || TierNone.Active() {
		t.Error("dormant and none are not active tiers")
	}
	if DecayModelFor(TierST) != DecayExponential || DecayModelFor(TierMT) != DecaySigmoid || DecayModelFor(TierLT) != DecayAsymptotic {
		t.Error("unexpected decay model mapping")
	}
}

func TestStateRecord_StateAndClone(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := &StateRecord{
		UserID:          "u1",
		TopicID:         "work",
		Tier:            TierLT,
		EscalationMarks: EscalationMarks{{At: now, Emotion: Sadness}},
	}
	if rec.State() != TierLT {
		t.Errorf("State() = %v", rec.State())
	}
	rec.Dormant = true
	if rec.State() != TierDormant {
		t.Errorf("dormant State() = %v", rec.State())
	}
	if rec.Key() != (Key{UserID: "u1", TopicID: "work"}) {
		t.Errorf("Key() = %v", rec.Key())
	}

	c := rec.Clone()
	c.EscalationMarks[0].Emotion = Joy
	if rec.EscalationMarks[0].Emotion != Sadness {
		t.Error("Clone must not share escalation marks")
	}
	if (*StateRecord)(nil).Clone() != nil {
		t.Error("nil Clone must be nil")
	}
}

func TestEscalationMarks_SQL(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	in := EscalationMarks{{At: now, Emotion: Anger}}
	v, err := in.Value()
	if err != nil {
		t.Fatal(err)
	}
	var out EscalationMarks
	if err := out.Scan(v); err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || !out[0].At.Equal(now) || out[0].Emotion != Anger {
		t.Errorf("Scan(Value()) = %v", out)
	}

	v, err = EscalationMarks(nil).Value()
	if err != nil || v != "[]" {
		t.Errorf("nil Value() = %v, %v", v, err)
	}
	if err := out.Scan(nil); err != nil || out != nil {
		t.Errorf("Scan(nil) = %v, %v", out, err)
	}
}

func TestKey_StringRoundTrip(t *testing.T) {
	k := Key{UserID: "u1", TopicID: "family"}
	if ParseKey(k.String()) != k {
		t.Errorf("ParseKey(%q) = %v", k.String(), ParseKey(k.String()))
	}
	if ParseKey("u2/") != (Key{UserID: "u2"}) {
		t.Error("empty topic must round trip")
	}
}
