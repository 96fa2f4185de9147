package repository

import (
	"context"
	"testing"

	"github.com/chazu/bvm/vm"
)

func TestMemoryDraftRoundTrip(t *testing.T) {
	repo := NewMemory()
	ref := vm.Reference{RefTag: "doc-1", Version: "v1", Digest: "none"}
	doc := vm.Symbol("draft-body")

	if err := repo.SaveDraft(context.Background(), ref, doc); err != nil {
		t.Fatalf("SaveDraft error: %v", err)
	}
	got, err := repo.FetchDocument(context.Background(), ref)
	if err != nil {
		t.Fatalf("FetchDocument error: %v", err)
	}
	if !vm.Equal(got, doc) {
		t.Errorf("FetchDocument returned %v, want %v", got, doc)
	}
}

func TestMemoryCommitAssignsDigestAndClearsDraft(t *testing.T) {
	repo := NewMemory()
	ref := vm.Reference{RefTag: "doc-2", Version: "v1", Digest: "none"}
	doc := vm.Symbol("committed-body")

	if err := repo.SaveDraft(context.Background(), ref, doc); err != nil {
		t.Fatalf("SaveDraft error: %v", err)
	}
	committed, err := repo.CommitDocument(context.Background(), ref, doc)
	if err != nil {
		t.Fatalf("CommitDocument error: %v", err)
	}
	if committed.IsDraft() {
		t.Error("a committed reference should not report IsDraft")
	}
	if committed.Digest == "" || committed.Digest == "none" {
		t.Errorf("committed reference has no real digest: %v", committed)
	}

	got, err := repo.FetchDocument(context.Background(), committed)
	if err != nil {
		t.Fatalf("FetchDocument(committed) error: %v", err)
	}
	if !vm.Equal(got, doc) {
		t.Errorf("FetchDocument(committed) = %v, want %v", got, doc)
	}

	if _, err := repo.FetchDocument(context.Background(), ref); err == nil {
		t.Error("the draft should have been cleared once committed")
	}
}

func TestMemoryFetchMissingDocument(t *testing.T) {
	repo := NewMemory()
	if _, err := repo.FetchDocument(context.Background(), vm.Reference{RefTag: "missing", Version: "v1", Digest: "none"}); err == nil {
		t.Error("FetchDocument on a missing draft should error")
	}
}
