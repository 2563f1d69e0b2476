package memory

import (
	"bytes"
	"context"
	"testing"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte(`{"job_id":"job-1"}`)
	uri, err := store.PutObject(context.Background(), "results/job-1.json", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://results/job-1.json" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = '['
	stored, contentType, ok := store.Object("results/job-1.json")
	if !ok || string(stored) != `{"job_id":"job-1"}` {
		t.Fatalf("expected stored copy to be immutable, got %q", stored)
	}
	if contentType != "application/json" {
		t.Fatalf("unexpected content type %q", contentType)
	}
	stored[0] = 'X'
	again, _, _ := store.Object("results/job-1.json")
	if again[0] != '{' {
		t.Fatal("expected Object to return a copy")
	}
	if _, _, ok := store.Object("missing"); ok {
		t.Fatal("expected missing object")
	}
}
