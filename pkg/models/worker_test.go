package models

import (
	"testing"
	"time"
)

func TestHealthState_Valid(t *testing.T) {
	tests := []struct {
		name  string
		state HealthState
		want  bool
	}{
		{"healthy", HealthHealthy, true},
		{"degraded", HealthDegraded, true},
		{"unavailable", HealthUnavailable, true},
		{"empty", HealthState(""), false},
		{"unknown", HealthState("zombie"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWorker_Has(t *testing.T) {
	w := &Worker{
		ID:           "scanner-1",
		Capabilities: []Capability{"security-scan", "code-analysis"},
	}

	if !w.Has("security-scan") {
		t.Error("Has(security-scan) = false, want true")
	}
	if w.Has("reasoning") {
		t.Error("Has(reasoning) = true, want false")
	}
}

func TestWorker_Clone_Independent(t *testing.T) {
	w := &Worker{
		ID:           "scanner-1",
		Capabilities: []Capability{"security-scan"},
		Health:       HealthHealthy,
		LastSeen:     time.Now(),
	}

	clone := w.Clone()
	clone.Capabilities[0] = "reasoning"
	clone.Health = HealthDegraded

	if w.Capabilities[0] != "security-scan" {
		t.Errorf("original capabilities mutated: %v", w.Capabilities)
	}
	if w.Health != HealthHealthy {
		t.Errorf("original health mutated: %v", w.Health)
	}
}
