// ABOUTME: Tests for change event encoding, decoding and tag validation
// ABOUTME: Every variant of the event taxonomy is exercised once

package model

import (
	"testing"
	"time"
)

func TestEventRoundTrip_AllVariants(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	events := []*ChangeEvent{
		{Type: EventChatMetaAndGroup, Timestamp: now},
		{Type: EventChatMetaAndGroup, ID: "c1", Timestamp: now},
		{Type: EventChatContent, ID: "c1", Timestamp: now},
		{Type: EventGeneration, ID: "c1", Status: GenerationStarted, Timestamp: now},
		{Type: EventGeneration, ID: "c1", Status: GenerationAbortRequest, Timestamp: now},
		{Type: EventSettings, Timestamp: now},
		{Type: EventMigration, Timestamp: now, Seq: 7},
	}
	for _, e := range events {
		data, err := EncodeEvent(e)
		if err != nil {
			t.Fatalf("%s: encode: %v", e.Type, err)
		}
		got, err := DecodeEvent(data)
		if err != nil {
			t.Fatalf("%s: decode: %v", e.Type, err)
		}
		if got.Type != e.Type || got.ID != e.ID || got.Status != e.Status || got.Seq != e.Seq {
			t.Errorf("%s: round trip mismatch: %+v != %+v", e.Type, got, e)
		}
		if !got.Timestamp.Equal(e.Timestamp) {
			t.Errorf("%s: timestamp mismatch", e.Type)
		}
	}
}

func TestEventValidate_Rejections(t *testing.T) {
	bad := []*ChangeEvent{
		{},
		{Type: "resync"},
		{Type: EventChatContent},
		{Type: EventGeneration, ID: "c1"},
		{Type: EventGeneration, ID: "c1", Status: "paused"},
	}
	for i, e := range bad {
		if err := e.Validate(); err == nil {
			t.Errorf("case %d: expected validation error for %+v", i, e)
		}
	}
}

func TestDecodeEvent_Malformed(t *testing.T) {
	if _, err := DecodeEvent([]byte(`{"type":`)); err == nil {
		t.Fatal("expected error for truncated JSON")
	}
}
