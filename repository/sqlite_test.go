package repository

import (
	"context"
	"testing"

	"github.com/chazu/bvm/vm"
)

func TestSQLiteDraftAndCommitRoundTrip(t *testing.T) {
	store, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite error: %v", err)
	}
	defer store.Close()

	ref := vm.Reference{RefTag: "doc-1", Version: "v1", Digest: "none"}
	doc := vm.NewList(vm.Symbol("a"), vm.NumberFromInt64(1))

	if err := store.SaveDraft(context.Background(), ref, doc); err != nil {
		t.Fatalf("SaveDraft error: %v", err)
	}
	got, err := store.FetchDocument(context.Background(), ref)
	if err != nil {
		t.Fatalf("FetchDocument(draft) error: %v", err)
	}
	if !vm.Equal(got, doc) {
		t.Errorf("FetchDocument(draft) = %v, want %v", got, doc)
	}

	committed, err := store.CommitDocument(context.Background(), ref, doc)
	if err != nil {
		t.Fatalf("CommitDocument error: %v", err)
	}
	got, err = store.FetchDocument(context.Background(), committed)
	if err != nil {
		t.Fatalf("FetchDocument(committed) error: %v", err)
	}
	if !vm.Equal(got, doc) {
		t.Errorf("FetchDocument(committed) = %v, want %v", got, doc)
	}
	if _, err := store.FetchDocument(context.Background(), ref); err == nil {
		t.Error("the draft row should have been deleted on commit")
	}
}

func TestSQLiteFetchMissingDocument(t *testing.T) {
	store, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite error: %v", err)
	}
	defer store.Close()

	if _, err := store.FetchDocument(context.Background(), vm.Reference{RefTag: "missing", Version: "v1", Digest: "deadbeef"}); err == nil {
		t.Error("FetchDocument on a missing commit should error")
	}
}
