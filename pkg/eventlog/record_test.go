package eventlog

import (
	"testing"
	"time"
)

func TestNewRecord(t *testing.T) {
	record := NewRecord("sensors/kitchen", []byte("21.5"))

	if record.Topic != "sensors/kitchen" {
		t.Errorf("Expected topic sensors/kitchen, got %s", record.Topic)
	}
	if string(record.Payload) != "21.5" {
		t.Errorf("Expected payload 21.5, got %s", record.Payload)
	}
	if record.ID == "" {
		t.Error("Expected an ID to be assigned")
	}
	if record.Headers == nil {
		t.Error("Expected headers to be initialized")
	}
	if time.Since(record.Timestamp) > time.Second {
		t.Error("Expected timestamp to be recent")
	}
	if NewRecord("a", nil).ID == record.ID {
		t.Error("Expected distinct IDs")
	}
}

func TestRecord_Immutability(t *testing.T) {
	payload := []byte("original")
	headers := map[string]string{"key": "value"}

	record := NewRecordWithHeaders("test", payload, headers)

	payload[0] = 'X'
	headers["key"] = "modified"

	if string(record.Payload) != "original" {
		t.Errorf("Payload should be copied, got %s", record.Payload)
	}
	if record.Headers["key"] != "value" {
		t.Errorf("Headers should be copied, got %s", record.Headers["key"])
	}
}

func TestRecord_WithOffsetAndOrigin(t *testing.T) {
	original := NewRecord("test", []byte("payload"))

	derived := original.WithOffset(42).WithOrigin("node-1")

	if derived.Offset != 42 || derived.Origin != "node-1" {
		t.Errorf("Expected offset 42 and origin node-1, got %d and %s", derived.Offset, derived.Origin)
	}
	if original.Offset != 0 || original.Origin != "" {
		t.Error("Original should be unchanged")
	}
	if derived.ID != original.ID {
		t.Error("ID should be preserved")
	}
}

func TestRecord_Copy(t *testing.T) {
	original := NewRecordWithHeaders("test", []byte("payload"), map[string]string{"key": "value"})
	copied := original.Copy()

	copied.Payload[0] = 'X'
	copied.Headers["key"] = "changed"

	if string(original.Payload) != "payload" || original.Headers["key"] != "value" {
		t.Error("Copy should not share payload or headers")
	}
}
