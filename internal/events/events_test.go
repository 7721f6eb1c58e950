package events

import (
	"encoding/json"
	"testing"
)

func TestConnectWithoutURLDisablesPublishing(t *testing.T) {
	p, err := Connect("")
	if err != nil {
		t.Fatalf("empty URL must not be an error: %v", err)
	}
	if p != nil {
		t.Fatal("empty URL should yield a nil publisher")
	}
	// The nil publisher is safe to use.
	p.Publish(Event{Kind: KindNew})
	p.Close()
}

func TestEventPayloadShape(t *testing.T) {
	evt := Event{
		Kind:       KindDeleted,
		BusinessID: "conn-1",
		ChatID:     100,
		MessageIDs: []int64{4, 5},
		Username:   "ann",
		Date:       1_700_000_000,
	}
	data, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if decoded["kind"] != KindDeleted || decoded["business_id"] != "conn-1" {
		t.Errorf("payload fields missing: %s", data)
	}
}
