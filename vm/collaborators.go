package vm

import "context"

// Citation identifies a document to fetch or store: a reference plus the
// document Value it resolves to, once resolved.
type Citation struct {
	Reference Reference
	Document  Value
}

// Repository is the external content-addressed document store LOAD
// DOCUMENT, STORE DOCUMENT, and STORE DRAFT dispatch to. The VM core never
// implements one directly -- spec.md §1 names persistent storage a
// Non-goal of the core itself -- but depends only on this interface, which
// the repository package satisfies with in-memory and SQLite-backed
// adapters for testing and demonstration.
//
// Grounded on the teacher's ServerOption-injected external-concern style,
// e.g. server.MaggieServer's compileFunc/syncPolicy fields: the core never
// concretely depends on the thing that does I/O.
type Repository interface {
	// FetchDocument resolves ref to its document. For a draft reference
	// (Digest == "none") the lookup is by tag+version; otherwise it is by
	// content digest.
	FetchDocument(ctx context.Context, ref Reference) (Value, error)

	// SaveDraft stores doc as a mutable draft under ref's tag+version,
	// overwriting any existing draft at that tag+version.
	SaveDraft(ctx context.Context, ref Reference, doc Value) error

	// CommitDocument stores doc immutably and returns the Reference with
	// its content digest populated.
	CommitDocument(ctx context.Context, ref Reference, doc Value) (Reference, error)
}

// Notary signs and verifies documents at commit time. Named per spec.md §6
// but never exercised by the core dispatch loop directly -- STORE DOCUMENT
// calls it through Repository's CommitDocument in a full deployment; it is
// named here so collaborator wiring has a home for it even though this
// module's Repository adapters do not call it.
type Notary interface {
	Sign(ctx context.Context, doc Value) (signature []byte, err error)
	Verify(ctx context.Context, doc Value, signature []byte) error
}

// IntrinsicTable resolves INVOKE's 1-based intrinsic index to a callable
// function whose arity is the instruction's modifier (0..3), per the
// resolved Open Question that intrinsic
// indexing (like every other table in this VM) is 1-based.
type IntrinsicTable interface {
	// Invoke calls the intrinsic at the given 1-based index with the given
	// arguments (already popped off the component stack in reverse order
	// by the handler) and returns its single result.
	Invoke(ctx context.Context, index int, args []Value) (Value, error)
}

// EventPublisher receives task lifecycle notifications. Processor.Run
// calls it at the two termination events spec.md §4.F names -- publishing
// $suspension when a task falls out of run() on exhausted gas, and
// $completion when it reaches DONE, whether by HANDLE RESULT or by an
// unhandled HANDLE EXCEPTION -- but never depends on what it does with
// them.
type EventPublisher interface {
	Publish(ctx context.Context, taskTag DocTag, event string, detail Value)
}

// DocumentValidator checks an exported task snapshot against an external
// schema before it is handed to the repository or event channel.
// repository.SchemaValidator (CUE-backed) satisfies this; the VM core
// depends only on the interface, and a nil Validator on Processor skips
// the check entirely.
type DocumentValidator interface {
	ValidateTaskSnapshot(raw []byte) error
}

// MessageQueue is the per-task inbox LOAD MESSAGE / STORE MESSAGE read
// from and write to. TryReceive is non-blocking: LOAD MESSAGE suspends the
// task (rather than blocking the goroutine) when the queue is empty.
//
// Grounded on chazu-maggie/vm/concurrency.go's ChannelObject: a buffered
// channel wrapped with a non-blocking try-receive, used there for the same
// "don't block the VM goroutine" discipline.
type MessageQueue interface {
	TryReceive(ctx context.Context, queueTag DocTag) (Value, bool, error)
	Send(ctx context.Context, queueTag DocTag, msg Value) error
}
