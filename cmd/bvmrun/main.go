// Command bvmrun loads a type document's procedure table, starts a new
// task at its entry procedure, runs it to completion or suspension on the
// Bali Virtual Machine, and prints the outcome.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/chazu/bvm/repository"
	"github.com/chazu/bvm/scheduler"
	"github.com/chazu/bvm/vm"
)

func main() {
	configPath := flag.String("config", "", "Path to a bvm.toml configuration file (optional)")
	storePath := flag.String("store", "", "Path to a SQLite document store (defaults to an in-memory store)")
	balance := flag.Int64("balance", 0, "Override the starting account balance (0 uses the config default)")
	disasm := flag.Bool("disasm", false, "Print a disassembly of the entry procedure before running")
	timeout := flag.Duration("timeout", 30*time.Second, "Maximum wall-clock time to let the task run")
	procedureName := flag.String("entry", "main", "Name of the entry procedure to run")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: bvmrun [options] <type-document.cbor>\n\n")
		fmt.Fprintf(os.Stderr, "Loads a compiled type document, starts a task at its entry procedure,\n")
		fmt.Fprintf(os.Stderr, "and runs it to completion or suspension.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := vm.DefaultProcessorConfig()
	if *configPath != "" {
		loaded, err := vm.LoadProcessorConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bvmrun: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *balance > 0 {
		cfg.DefaultAccountBalance = *balance
	}

	validator := repository.NewSchemaValidator()

	typeDoc, err := loadTypeDocument(flag.Arg(0), validator)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bvmrun: %v\n", err)
		os.Exit(1)
	}

	if *disasm {
		if def, ok := typeDoc.procedures[*procedureName]; ok {
			fmt.Print(vm.DisassembleProcedure(*procedureName, def.Bytecode))
		}
	}

	repo, closeRepo, err := openRepository(*storePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bvmrun: %v\n", err)
		os.Exit(1)
	}
	defer closeRepo()

	queue := scheduler.NewQueue()
	processor := vm.NewProcessor(cfg, repo, typeDoc, noopIntrinsics{}, noopPublisher{}, queue, nil)
	processor.Validator = validator
	worker := scheduler.NewWorker(processor)
	defer worker.Stop()

	def, ok := typeDoc.procedures[*procedureName]
	if !ok {
		fmt.Fprintf(os.Stderr, "bvmrun: type document has no procedure named %q\n", *procedureName)
		os.Exit(1)
	}
	entryFrame := vm.NewProcedureContext(typeDoc.reference, def, vm.None, nil)
	task := vm.NewTaskContext(vm.NewAccountTag(), cfg.DefaultAccountBalance, entryFrame)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	status, err := worker.Run(ctx, task)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bvmrun: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("status: %s (%d cycles, balance %d remaining)\n", status, task.ClockCycles, task.AccountBalance)
	switch status {
	case vm.StatusDone:
		if task.Exception != nil {
			fmt.Printf("exception: %s\n", task.Exception)
			os.Exit(1)
		}
		if task.Result != nil {
			fmt.Printf("result: %s\n", task.Result)
		}
	case vm.StatusWaiting:
		fmt.Printf("suspended: %s\n", task.WaitReason)
	}
}

type noopIntrinsics struct{}

func (noopIntrinsics) Invoke(ctx context.Context, index int, args []vm.Value) (vm.Value, error) {
	return nil, fmt.Errorf("bvmrun: no intrinsic registered at index %d", index)
}

type noopPublisher struct{}

func (noopPublisher) Publish(ctx context.Context, taskTag vm.DocTag, event string, detail vm.Value) {}

func openRepository(path string) (vm.Repository, func(), error) {
	if path == "" {
		return repository.NewMemory(), func() {}, nil
	}
	store, err := repository.OpenSQLite(path)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { store.Close() }, nil
}
