// Package wasmervm adapts wasmer-go into a contract.VM: it compiles a
// module once per call, wires the four host syscalls a chunk needs
// (read/write its own contract storage, consume gas, emit a log line),
// and reports the result back up to the harness.
//
// Grounded on orbas1-Synnergy/synnergy-network/core/virtual_machine.go's
// HeavyVM/registerHost pair — same store/module/instance sequence, same
// "env" import namespace and host_* function names, adapted from that
// package's key-value ledger to chainstate.TransactionView's contract
// storage cache.
package wasmervm

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/wasmerio/wasmer-go/wasmer"

	"github.com/tos-network/tosd/contract"
)

// VM compiles and runs contract modules through wasmer-go.
type VM struct {
	engine *wasmer.Engine
}

// New constructs a VM with a fresh wasmer engine.
func New() *VM {
	return &VM{engine: wasmer.NewEngine()}
}

type hostContext struct {
	memory   *wasmer.Memory
	ctx      *contract.ExecutionContext
	gasUsed  uint64
	gasLimit uint64
	logs     []string
	err      error
}

func (h *hostContext) consumeGas(amount uint64) int32 {
	if h.gasUsed+amount > h.gasLimit {
		h.gasUsed = h.gasLimit
		h.err = errors.New("wasmervm: compute budget exceeded")
		return -1
	}
	h.gasUsed += amount
	return 0
}

func (h *hostContext) read(ptr, length int32) []byte {
	data := h.memory.Data()[ptr : ptr+length]
	out := make([]byte, length)
	copy(out, data)
	return out
}

func (h *hostContext) write(ptr int32, data []byte) {
	copy(h.memory.Data()[ptr:], data)
}

// Execute runs chunkID of moduleBytes under ctx, metering gas against
// gasLimit through the host_consume_gas syscall every chunk is expected
// to call before doing work, per §4.7's compute-budget accounting.
func (vm *VM) Execute(ctx *contract.ExecutionContext, moduleBytes []byte, chunkID uint16, parameters [][]byte, gasLimit uint64) (*contract.Result, error) {
	store := wasmer.NewStore(vm.engine)
	module, err := wasmer.NewModule(store, moduleBytes)
	if err != nil {
		return nil, errors.Wrap(contract.ErrInvalidBytecode, err.Error())
	}

	hctx := &hostContext{ctx: ctx, gasLimit: gasLimit}
	imports := registerSyscalls(store, hctx)

	instance, err := wasmer.NewInstance(module, imports)
	if err != nil {
		return nil, errors.Wrap(contract.ErrSyscallRegistrationFailed, err.Error())
	}

	memory, err := instance.Exports.GetMemory("memory")
	if err != nil {
		return nil, errors.New("wasmervm: module exports no memory")
	}
	hctx.memory = memory

	entry, err := instance.Exports.GetFunction(entryPointName(chunkID))
	if err != nil {
		return nil, errors.Wrapf(contract.ErrInvalidBytecode, "missing entry point for chunk %d", chunkID)
	}

	returnValue, err := entry()
	if err != nil {
		return nil, err
	}
	if hctx.err != nil {
		return nil, errors.Wrap(contract.ErrComputeBudgetExceeded, hctx.err.Error())
	}

	result := &contract.Result{
		GasUsed: hctx.gasUsed,
		Logs:    hctx.logs,
	}
	if v, ok := returnValue.(int32); ok {
		result.ReturnValue = uint64(v)
	}
	return result, nil
}

func entryPointName(chunkID uint16) string {
	if chunkID == 0 {
		return "_start"
	}
	return fmt.Sprintf("_chunk_%d", chunkID)
}

// registerSyscalls wires the four host functions a chunk links against
// under the "env" namespace, mirroring registerHost's shape:
//   - host_consume_gas(amount u32) -> i32
//   - host_read(keyPtr, keyLen, dstPtr) -> i32 (bytes written, or -1)
//   - host_write(keyPtr, keyLen, valPtr, valLen) -> i32
//   - host_log(ptr, len)
func registerSyscalls(store *wasmer.Store, h *hostContext) *wasmer.ImportObject {
	imports := wasmer.NewImportObject()

	hostConsumeGas := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32)),
			wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32)),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			amount := uint64(args[0].I32())
			return []wasmer.Value{wasmer.NewI32(h.consumeGas(amount))}, nil
		},
	)

	hostRead := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I32)),
			wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32)),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			keyPtr, keyLen, dstPtr := args[0].I32(), args[1].I32(), args[2].I32()
			key := h.read(keyPtr, keyLen)
			value, ok, err := h.ctx.View.GetContractStorage(h.ctx.Contract, key)
			if err != nil || !ok {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			h.write(dstPtr, value)
			return []wasmer.Value{wasmer.NewI32(int32(len(value)))}, nil
		},
	)

	hostWrite := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I32)),
			wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32)),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			keyPtr, keyLen, valPtr, valLen := args[0].I32(), args[1].I32(), args[2].I32(), args[3].I32()
			key := h.read(keyPtr, keyLen)
			value := h.read(valPtr, valLen)
			h.ctx.View.SetContractStorage(h.ctx.Contract, key, value)
			return []wasmer.Value{wasmer.NewI32(0)}, nil
		},
	)

	hostLog := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I32)),
			wasmer.NewValueTypes(),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			ptr, length := args[0].I32(), args[1].I32()
			h.logs = append(h.logs, string(h.read(ptr, length)))
			return []wasmer.Value{}, nil
		},
	)

	imports.Register("env", map[string]wasmer.IntoExtern{
		"host_consume_gas": hostConsumeGas,
		"host_read":        hostRead,
		"host_write":       hostWrite,
		"host_log":         hostLog,
	})
	return imports
}
