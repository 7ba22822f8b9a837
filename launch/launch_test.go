package launch

import (
	"context"
	"errors"
	"testing"

	"github.com/gogpu/imgcompile/command"
	"github.com/gogpu/imgcompile/descriptor"
	"github.com/gogpu/imgcompile/gpucore"
	"github.com/gogpu/imgcompile/internal/gputest"
	"github.com/gogpu/imgcompile/pool"
	"github.com/gogpu/imgcompile/program"
)

func rgba8(w, h uint32) descriptor.Descriptor {
	return descriptor.Descriptor{
		Layout: descriptor.BufferLayout{Width: w, Height: h, BytesPerTexel: 4},
		Texel:  descriptor.Texel{Block: descriptor.BlockPixel, Samples: descriptor.Samples{Parts: descriptor.PartsRGBA, Bits: descriptor.Int8x4}},
	}
}

func buildCopyProgram(t *testing.T) (*program.Program, command.Register, command.Register) {
	t.Helper()
	b := command.NewBuilder()
	srcReg, err := b.Input(rgba8(2, 2))
	if err != nil {
		t.Fatalf("Input: %v", err)
	}
	outReg, err := b.Copy(srcReg)
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if err := b.Output(outReg); err != nil {
		t.Fatalf("Output: %v", err)
	}
	cb, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	prog, err := program.Compile(cb, program.DefaultCostModel())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return prog, srcReg, outReg
}

func TestLauncherBindAndLaunchProducesOutput(t *testing.T) {
	prog, srcReg, outReg := buildCopyProgram(t)
	p := pool.New()
	srcKey, err := p.Insert(rgba8(2, 2), make([]byte, 16))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	l, err := New(prog, p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := l.Bind(srcReg, srcKey); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	block := NewBlockOn()
	defer block.Stop()
	exec, err := l.Launch(context.Background(), block, gputest.Adapter{}, pool.DeviceDescriptor{Label: "test"})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if _, ok := exec.Output(outReg); !ok {
		t.Fatal("Execution.Output(outReg) not found")
	}
	wp, err := exec.Step(context.Background())
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !wp.Done() {
		t.Fatal("Step did not report done for a synchronous execution")
	}
	exec.RetireGracefully()
}

func TestLauncherBindRejectsMismatchedDescriptor(t *testing.T) {
	prog, srcReg, _ := buildCopyProgram(t)
	p := pool.New()
	wrong := rgba8(4, 4)
	key, err := p.Insert(wrong, make([]byte, wrong.Layout.ByteLen()))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	l, err := New(prog, p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var mismatch *MismatchError
	if err := l.Bind(srcReg, key); !errors.As(err, &mismatch) {
		t.Fatalf("Bind with mismatched descriptor: got %v, want *MismatchError", err)
	}
}

func TestLauncherBindRejectsNonInputRegister(t *testing.T) {
	prog, _, outReg := buildCopyProgram(t)
	p := pool.New()
	key, err := p.Insert(rgba8(2, 2), make([]byte, 16))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	l, err := New(prog, p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var mismatch *MismatchError
	if err := l.Bind(outReg, key); !errors.As(err, &mismatch) {
		t.Fatalf("Bind on non-input register: got %v, want *MismatchError", err)
	}
}

func TestChooseAdapterPicksFittingCapabilities(t *testing.T) {
	caps := []gpucore.Capabilities{
		gpucore.CapabilitiesFrom(1024, 256, false),
		gpucore.CapabilitiesFrom(1<<30, 8192, true),
	}
	idx, err := ChooseAdapter(caps, Requirement{MinBufferSize: 4096, NeedsCompute: true})
	if err != nil {
		t.Fatalf("ChooseAdapter: %v", err)
	}
	if idx != 1 {
		t.Fatalf("ChooseAdapter picked index %d, want 1", idx)
	}
}

func TestChooseAdapterReturnsMismatchWhenNoneFit(t *testing.T) {
	caps := []gpucore.Capabilities{gpucore.CapabilitiesFrom(1024, 256, false)}
	_, err := ChooseAdapter(caps, Requirement{MinBufferSize: 1 << 40})
	var mismatch *MismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("ChooseAdapter with no fitting capabilities: got %v, want *MismatchError", err)
	}
}
