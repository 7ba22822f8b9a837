// Package command builds the high-level, SSA-form command graph this
// engine compiles and executes: a sequence of registers, each produced by
// exactly one Function of zero or more earlier registers, accumulated by
// a builder and frozen into an immutable CommandBuffer.
package command

import (
	"fmt"

	"github.com/gogpu/imgcompile/descriptor"
)

// Register names one value in the command graph: the output of exactly
// one Function, in single-assignment form.
type Register int

// Rectangle is an axis-aligned region of an image buffer, in texels.
type Rectangle struct {
	X, Y          uint32
	Width, Height uint32
}

// Function is the operation that produces one register's value. The
// concrete variants below are the closed set this engine understands; new
// variants are added here, not by callers implementing the interface.
type Function interface {
	isFunction()
	inputs() []Register
}

// Input marks a register whose data is supplied by the caller at launch
// time rather than produced by another register in this graph. Launching
// a program with an Input register left unbound is a LaunchError.
type Input struct{}

func (Input) isFunction()        {}
func (Input) inputs() []Register { return nil }

// PaintOnTop composites Src onto Target within Target's coordinate space
// at the region At, using Blend as the Porter-Duff compositing operator.
// At's extent must match Src's descriptor dimensions.
type PaintOnTop struct {
	Target Register
	Src    Register
	Blend  BlendMode
	At     Rectangle
}

func (PaintOnTop) isFunction()          {}
func (f PaintOnTop) inputs() []Register { return []Register{f.Target, f.Src} }

// AffineOp resamples Src through a 2D affine transform into a new buffer
// of the given output dimensions.
type AffineOp struct {
	Src       Register
	Transform Affine
	Sample    AffineSample
	Width     uint32
	Height    uint32
}

func (AffineOp) isFunction()          {}
func (f AffineOp) inputs() []Register { return []Register{f.Src} }

// ChromaticAdaptationMethod selects the algorithm used to map tristimulus
// values between reference white points.
type ChromaticAdaptationMethod uint8

const (
	ChromaticAdaptationVonKries ChromaticAdaptationMethod = iota
)

// ChromaticAdaptationOp re-expresses Src's samples under a different
// reference white point and/or transfer function, keeping the same pixel
// dimensions.
type ChromaticAdaptationOp struct {
	Src    Register
	Method ChromaticAdaptationMethod
	To     descriptor.Color
}

func (ChromaticAdaptationOp) isFunction()          {}
func (f ChromaticAdaptationOp) inputs() []Register { return []Register{f.Src} }

// CompileError reports a structural problem with a command graph: a
// reference to a register that does not exist, or a region that falls
// outside the bounds it is applied against. It is returned by builder
// methods and by Finish, and reused by package program for the same class
// of problem discovered during planning.
type CompileError struct {
	Op      string
	Message string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("command: %s: %s", e.Op, e.Message)
}

func compileErr(op, format string, args ...any) error {
	return &CompileError{Op: op, Message: fmt.Sprintf(format, args...)}
}

// op is one entry in a CommandBuffer: the function that produced a
// register, and the descriptor its output carries.
type op struct {
	fn   Function
	desc descriptor.Descriptor
}

// CommandBuffer is the finished, immutable command graph. Build one with
// Builder and Builder.Finish.
type CommandBuffer struct {
	ops     []op
	outputs []Register
}

// NumRegisters returns the number of registers in the graph.
func (c *CommandBuffer) NumRegisters() int { return len(c.ops) }

// Function returns the function that produced r.
func (c *CommandBuffer) Function(r Register) Function { return c.ops[r].fn }

// Descriptor returns the descriptor r's output carries.
func (c *CommandBuffer) Descriptor(r Register) descriptor.Descriptor { return c.ops[r].desc }

// Inputs returns the registers r's function reads from.
func (c *CommandBuffer) Inputs(r Register) []Register { return c.ops[r].fn.inputs() }

// Outputs returns the registers declared as the graph's external outputs,
// in the order they were declared.
func (c *CommandBuffer) Outputs() []Register { return c.outputs }

// IsInput reports whether r is an unbound Input register.
func (c *CommandBuffer) IsInput(r Register) bool {
	_, ok := c.ops[r].fn.(Input)
	return ok
}

// Builder accumulates operations into a command graph. The zero value is
// ready to use.
type Builder struct {
	ops     []op
	outputs []Register
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) push(fn Function, desc descriptor.Descriptor) Register {
	b.ops = append(b.ops, op{fn: fn, desc: desc})
	return Register(len(b.ops) - 1)
}

func (b *Builder) valid(r Register) bool {
	return r >= 0 && int(r) < len(b.ops)
}

// Input declares a new register whose data is supplied by the caller at
// launch time, with the given descriptor. Returns a CompileError if desc
// is not internally consistent.
func (b *Builder) Input(desc descriptor.Descriptor) (Register, error) {
	if !desc.IsConsistent() {
		return 0, compileErr("Input", "descriptor is not internally consistent: %+v", desc)
	}
	return b.push(Input{}, desc), nil
}

// PaintOnTop composites src onto target at the region at, under mode, and
// returns a new register holding the result (target's descriptor is
// unchanged; compositing never changes pixel format or dimensions).
func (b *Builder) PaintOnTop(target, src Register, mode BlendMode, at Rectangle) (Register, error) {
	if !b.valid(target) {
		return 0, compileErr("PaintOnTop", "target register %d does not exist", target)
	}
	if !b.valid(src) {
		return 0, compileErr("PaintOnTop", "src register %d does not exist", src)
	}
	targetDesc := b.ops[target].desc
	srcDesc := b.ops[src].desc
	if at.Width != srcDesc.Layout.Width || at.Height != srcDesc.Layout.Height {
		return 0, compileErr("PaintOnTop", "region %dx%d does not match src dimensions %dx%d",
			at.Width, at.Height, srcDesc.Layout.Width, srcDesc.Layout.Height)
	}
	if at.X+at.Width > targetDesc.Layout.Width || at.Y+at.Height > targetDesc.Layout.Height {
		return 0, compileErr("PaintOnTop", "region %+v falls outside target bounds %dx%d",
			at, targetDesc.Layout.Width, targetDesc.Layout.Height)
	}
	return b.push(PaintOnTop{Target: target, Src: src, Blend: mode, At: at}, targetDesc), nil
}

// Inscribe is PaintOnTop with the default source-over compositing
// operator, the common case of placing one image inside another.
func (b *Builder) Inscribe(target, src Register, at Rectangle) (Register, error) {
	return b.PaintOnTop(target, src, BlendSourceOver, at)
}

// Copy returns a new register that is an exact duplicate of src's data
// and descriptor, the identity operation used to round-trip an image
// through the pipeline unchanged.
func (b *Builder) Copy(src Register) (Register, error) {
	if !b.valid(src) {
		return 0, compileErr("Copy", "src register %d does not exist", src)
	}
	// Copy is modeled as an identity, nearest-neighbour Affine at src's own
	// size: every output pixel centre maps back onto the same source pixel,
	// so each byte is carried over unchanged into a new derived register
	// rather than aliasing src's storage directly.
	return b.Affine(src, IdentityAffine(), AffineSampleNearest, b.ops[src].desc.Layout.Width, b.ops[src].desc.Layout.Height)
}

// Affine resamples src through transform into a new buffer of the given
// dimensions, using sample to choose how in-between pixels are read.
func (b *Builder) Affine(src Register, transform Affine, sample AffineSample, width, height uint32) (Register, error) {
	if !b.valid(src) {
		return 0, compileErr("Affine", "src register %d does not exist", src)
	}
	if width == 0 || height == 0 {
		return 0, compileErr("Affine", "output dimensions must be non-zero, got %dx%d", width, height)
	}
	srcDesc := b.ops[src].desc
	outDesc := srcDesc
	outDesc.Layout.Width = width
	outDesc.Layout.Height = height
	return b.push(AffineOp{Src: src, Transform: transform, Sample: sample, Width: width, Height: height}, outDesc), nil
}

// ChromaticAdaptation re-expresses src's samples under a new reference
// color, keeping src's pixel dimensions.
func (b *Builder) ChromaticAdaptation(src Register, method ChromaticAdaptationMethod, to descriptor.Color) (Register, error) {
	if !b.valid(src) {
		return 0, compileErr("ChromaticAdaptation", "src register %d does not exist", src)
	}
	outDesc := b.ops[src].desc
	outDesc.Color = to
	return b.push(ChromaticAdaptationOp{Src: src, Method: method, To: to}, outDesc), nil
}

// Output declares r as one of the graph's external outputs, in the order
// Output is called.
func (b *Builder) Output(r Register) error {
	if !b.valid(r) {
		return compileErr("Output", "register %d does not exist", r)
	}
	b.outputs = append(b.outputs, r)
	return nil
}

// Finish freezes the builder into an immutable CommandBuffer. At least
// one output must have been declared.
func (b *Builder) Finish() (*CommandBuffer, error) {
	if len(b.outputs) == 0 {
		return nil, compileErr("Finish", "command buffer declares no outputs")
	}
	ops := make([]op, len(b.ops))
	copy(ops, b.ops)
	outputs := make([]Register, len(b.outputs))
	copy(outputs, b.outputs)
	return &CommandBuffer{ops: ops, outputs: outputs}, nil
}
