package db

import (
	"encoding/json"
	"testing"
)

func TestPoolStats_JSON(t *testing.T) {
	stats := &PoolStats{
		TotalConns:      10,
		IdleConns:       5,
		AcquiredConns:   5,
		MaxConns:        20,
		AcquireCount:    100,
		AcquireDuration: "1.5s",
		Healthy:         true,
	}

	raw, err := json.Marshal(stats)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"total_conns", "idle_conns", "acquired_conns", "max_conns", "acquire_count", "acquire_duration", "healthy"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("expected key %q in JSON", key)
		}
	}
}
