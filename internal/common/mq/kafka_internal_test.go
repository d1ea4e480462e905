package mq

import (
	"testing"
	"time"
)

func TestKafkaMessageCodecRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := &Message{
		ID:         "sub-1",
		Body:       []byte(`{"status":"completed"}`),
		Headers:    map[string]string{"event_type": "verdict"},
		Timestamp:  ts,
		RetryCount: 2,
		MaxRetries: 5,
		Expiration: 3 * time.Second,
	}

	km := toKafkaMessage("codearena.verdicts", in)
	if string(km.Key) != "sub-1" {
		t.Fatalf("key = %q", km.Key)
	}
	out := fromKafkaMessage(km)

	if out.ID != in.ID || string(out.Body) != string(in.Body) {
		t.Fatalf("id/body mismatch: %+v", out)
	}
	if !out.Timestamp.Equal(ts) {
		t.Fatalf("timestamp = %v", out.Timestamp)
	}
	if out.RetryCount != 2 || out.MaxRetries != 5 || out.Expiration != 3*time.Second {
		t.Fatalf("retry metadata mismatch: %+v", out)
	}
	if out.Headers["event_type"] != "verdict" {
		t.Fatalf("custom header lost: %+v", out.Headers)
	}
	if _, leaked := out.Headers[headerID]; leaked {
		t.Fatal("reserved headers should not leak into Headers")
	}
}
