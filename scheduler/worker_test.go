package scheduler

import (
	"context"
	"testing"

	"github.com/chazu/bvm/vm"
)

type stubRepository struct{}

func (stubRepository) FetchDocument(ctx context.Context, ref vm.Reference) (vm.Value, error) {
	return vm.None, nil
}
func (stubRepository) SaveDraft(ctx context.Context, ref vm.Reference, doc vm.Value) error {
	return nil
}
func (stubRepository) CommitDocument(ctx context.Context, ref vm.Reference, doc vm.Value) (vm.Reference, error) {
	return ref, nil
}

type stubIntrinsics struct{}

func (stubIntrinsics) Invoke(ctx context.Context, index int, args []vm.Value) (vm.Value, error) {
	return vm.None, nil
}

type stubPublisher struct{}

func (stubPublisher) Publish(ctx context.Context, taskTag vm.DocTag, event string, detail vm.Value) {}

func TestWorkerRunsTaskToCompletion(t *testing.T) {
	queue := NewQueue()
	processor := vm.NewProcessor(vm.DefaultProcessorConfig(), stubRepository{}, nil, stubIntrinsics{}, stubPublisher{}, queue, nil)
	worker := NewWorker(processor)
	defer worker.Stop()

	def := &vm.ProcedureDefinition{
		Name:          "done",
		LiteralValues: []vm.Value{vm.Symbol("result")},
		Bytecode:      []vm.Word{vm.Encode(vm.OpPush, vm.ModPushElement, 1)},
	}
	frame := vm.NewProcedureContext(vm.Reference{RefTag: "t", Version: "v1"}, def, vm.None, nil)
	task := vm.NewTaskContext(vm.NewAccountTag(), 1000, frame)

	// HANDLE RESULT pops the only frame, completing the task.
	task.Current().Bytecode = append(task.Current().Bytecode, vm.Encode(vm.OpHandle, vm.ModHandleResult, 0))

	status, err := worker.Run(context.Background(), task)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if status != vm.StatusDone {
		t.Errorf("status = %v, want %v", status, vm.StatusDone)
	}
	if task.Result == nil || !vm.Equal(task.Result, vm.Symbol("result")) {
		t.Errorf("Result = %v, want $result", task.Result)
	}
	if len(task.ComponentStack) != 0 {
		t.Errorf("ComponentStack = %v, want empty", task.ComponentStack)
	}
}

func TestWorkerSerializesConcurrentRuns(t *testing.T) {
	queue := NewQueue()
	processor := vm.NewProcessor(vm.DefaultProcessorConfig(), stubRepository{}, nil, stubIntrinsics{}, stubPublisher{}, queue, nil)
	worker := NewWorker(processor)
	defer worker.Stop()

	makeTask := func() *vm.TaskContext {
		def := &vm.ProcedureDefinition{
			Bytecode: []vm.Word{vm.Encode(vm.OpHandle, vm.ModHandleResult, 0)},
		}
		frame := vm.NewProcedureContext(vm.Reference{RefTag: "t", Version: "v1"}, def, vm.None, nil)
		return vm.NewTaskContext(vm.NewAccountTag(), 1000, frame)
	}

	const n = 8
	results := make(chan vm.ProcessorStatus, n)
	for i := 0; i < n; i++ {
		go func() {
			status, err := worker.Run(context.Background(), makeTask())
			if err != nil {
				t.Errorf("Run error: %v", err)
			}
			results <- status
		}()
	}
	for i := 0; i < n; i++ {
		if status := <-results; status != vm.StatusDone {
			t.Errorf("task %d status = %v, want %v", i, status, vm.StatusDone)
		}
	}
}
