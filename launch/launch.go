// Package launch prepares a compiled program.Program to run against a
// pool.Pool, binds caller-supplied images to its unbound input registers,
// selects a device, and drives the actual execution through encode.
package launch

import (
	"context"
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/imgcompile/command"
	"github.com/gogpu/imgcompile/encode"
	"github.com/gogpu/imgcompile/gpucore"
	"github.com/gogpu/imgcompile/pool"
	"github.com/gogpu/imgcompile/program"
)

// MismatchError reports that a program and the pool or bindings it was
// launched with can never work together, no matter what further
// configuration is applied: an input bound to an image whose descriptor
// does not match the register's declared descriptor, or no adapter
// meeting the program's device requirements.
type MismatchError struct {
	Message string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("launch: %s", e.Message)
}

// Launcher prepares one program for execution against one pool:
// additional assembly (binding inputs, choosing a device) happens here,
// before the actual run is committed by Launch.
type Launcher struct {
	prog     *program.Program
	pool     *pool.Pool
	bindings map[command.Register]pool.ImageKey
}

// New returns a Launcher for running prog against p. Fails with
// MismatchError if prog or p is nil; binding and device compatibility are
// only checked later, once inputs and a device are supplied.
func New(prog *program.Program, p *pool.Pool) (*Launcher, error) {
	if prog == nil {
		return nil, &MismatchError{Message: "program is nil"}
	}
	if p == nil {
		return nil, &MismatchError{Message: "pool is nil"}
	}
	return &Launcher{
		prog:     prog,
		pool:     p,
		bindings: make(map[command.Register]pool.ImageKey),
	}, nil
}

// Bind supplies the image key to read register r's data from. r must be
// an unbound Input register of the launcher's program, and key's image
// must already exist in the launcher's pool with a descriptor matching
// r's declared descriptor.
func (l *Launcher) Bind(r command.Register, key pool.ImageKey) error {
	cb := l.prog.CommandBuffer()
	if int(r) < 0 || int(r) >= cb.NumRegisters() {
		return &MismatchError{Message: fmt.Sprintf("register %d does not exist in this program", r)}
	}
	if !cb.IsInput(r) {
		return &MismatchError{Message: fmt.Sprintf("register %d is not an input register", r)}
	}
	entry, ok := l.pool.Image(key)
	if !ok {
		return &MismatchError{Message: "bound image does not exist in this pool"}
	}
	if entry.Meta.Descriptor != cb.Descriptor(r) {
		return &MismatchError{Message: fmt.Sprintf("bound image's descriptor does not match register %d's declared descriptor", r)}
	}
	l.bindings[r] = key
	return nil
}

// Launch opens a device from adapter per desc, makes it the pool's active
// device, and actually runs the program, returning its Execution. The
// device acquisition itself is routed through block, the same
// single-context serialization every other device operation in this
// package uses.
func (l *Launcher) Launch(ctx context.Context, block *BlockOn, adapter gpucore.Adapter, desc pool.DeviceDescriptor) (*Execution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := Call(block, func() error {
		_, err := l.pool.RequestDevice(adapter, desc)
		return err
	}); err != nil {
		return nil, err
	}

	enc, outputs, err := encode.Execute(l.prog, l.pool, l.bindings)
	if err != nil {
		return nil, err
	}

	return &Execution{
		prog:    l.prog,
		pool:    l.pool,
		enc:     enc,
		outputs: outputs,
	}, nil
}

// LaunchWithProvider runs the program against a device the caller already
// owns, rather than one opened from an adapter through RequestDevice. It
// exists for hosts that embed their own GPU context (the same role
// render.DeviceHandle plays for the teacher's renderer) and would
// otherwise have to route an already-open device through a
// DeviceDescriptor to reach Launch.
func (l *Launcher) LaunchWithProvider(ctx context.Context, block *BlockOn, adapter gpucore.Adapter, provider gpucontext.DeviceProvider) (*Execution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	Call(block, func() struct{} {
		l.pool.SelectDevice(adapter, provider.Device(), provider.Queue())
		return struct{}{}
	})

	enc, outputs, err := encode.Execute(l.prog, l.pool, l.bindings)
	if err != nil {
		return nil, err
	}

	return &Execution{
		prog:    l.prog,
		pool:    l.pool,
		enc:     enc,
		outputs: outputs,
	}, nil
}

// WaitPoint marks a point in an Execution's progress a caller can poll or
// wait on. This engine currently executes a program to completion
// synchronously within Launch, so every WaitPoint it hands out is already
// resolved; the type exists so a future asynchronous device submission
// path has somewhere to report in-flight progress without changing
// Execution's public shape.
type WaitPoint struct {
	done bool
}

// Done reports whether the point this WaitPoint marks has been reached.
func (w WaitPoint) Done() bool { return w.done }

// Execution is a program that has finished running against a pool. Its
// outputs are available as image keys in that pool, and remain so after
// RetireGracefully.
type Execution struct {
	prog    *program.Program
	pool    *pool.Pool
	enc     *encode.Encoder
	outputs map[command.Register]pool.ImageKey
	retired bool
}

// Output returns the image key the given output register produced.
func (e *Execution) Output(r command.Register) (pool.ImageKey, bool) {
	key, ok := e.outputs[r]
	return key, ok
}

// Encoder returns the instruction stream this execution recorded, for
// inspection or diagnostics.
func (e *Execution) Encoder() *encode.Encoder { return e.enc }

// Step advances a still-running execution and reports whether it has
// completed. Since Launch runs its program to completion before
// returning an Execution, Step always reports done immediately; it is
// kept on the public API so callers do not need to change when an
// asynchronous device submission path lands.
func (e *Execution) Step(ctx context.Context) (WaitPoint, error) {
	if err := ctx.Err(); err != nil {
		return WaitPoint{}, err
	}
	return WaitPoint{done: true}, nil
}

// RetireGracefully clears the pool's GPU resource cache, the counterpart
// to the original design's retire_gracefully: outputs remain valid pool
// images. Only resources held in the cache are destroyed; buffers and
// textures the encoder created outside the cache are not released here.
func (e *Execution) RetireGracefully() {
	if e.retired {
		return
	}
	e.retired = true
	e.pool.ClearCache()
}
