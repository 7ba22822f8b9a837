package encode

import (
	"errors"
	"math"
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
		Color:  descriptor.Color{Whitepoint: descriptor.WhitepointD65, Transfer: descriptor.TransferSrgb, Primaries: descriptor.PrimariesBt709},
	}
}

func solid(w, h uint32, r, g, b, a byte) []byte {
	out := make([]byte, w*h*4)
	for i := 0; i < len(out); i += 4 {
		out[i], out[i+1], out[i+2], out[i+3] = r, g, b, a
	}
	return out
}

func TestExecuteCopyRoundTripsBytes(t *testing.T) {
	b := command.NewBuilder()
	srcReg, _ := b.Input(rgba8(2, 2))
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

	p := pool.New()
	p.SelectDevice(gputest.Adapter{}, gputest.NewDevice(), gputest.NewQueue())
	data := solid(2, 2, 10, 20, 30, 255)
	srcKey, _ := p.Insert(rgba8(2, 2), data)

	_, outputs, err := Execute(prog, p, map[command.Register]pool.ImageKey{srcReg: srcKey})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	outKey := outputs[outReg]
	entry, ok := p.Image(outKey)
	if !ok {
		t.Fatal("output image not found")
	}
	host := entry.Data.(pool.HostData)
	for i, want := range data {
		if host.Bytes[i] != want {
			t.Fatalf("byte %d = %d, want %d", i, host.Bytes[i], want)
		}
	}
}

func TestExecuteInscribeBlendsForegroundOverBackground(t *testing.T) {
	b := command.NewBuilder()
	bgReg, _ := b.Input(rgba8(4, 4))
	fgReg, _ := b.Input(rgba8(2, 2))
	outReg, err := b.Inscribe(bgReg, fgReg, command.Rectangle{X: 1, Y: 1, Width: 2, Height: 2})
	if err != nil {
		t.Fatalf("Inscribe: %v", err)
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

	p := pool.New()
	p.SelectDevice(gputest.Adapter{}, gputest.NewDevice(), gputest.NewQueue())
	bgKey, _ := p.Insert(rgba8(4, 4), solid(4, 4, 255, 0, 0, 255))
	fgKey, _ := p.Insert(rgba8(2, 2), solid(2, 2, 0, 255, 0, 255))

	_, outputs, err := Execute(prog, p, map[command.Register]pool.ImageKey{bgReg: bgKey, fgReg: fgKey})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	entry, _ := p.Image(outputs[outReg])
	host := entry.Data.(pool.HostData)

	stride := uint32(4 * 4)
	insideIdx := 1*stride + 1*4
	if host.Bytes[insideIdx] != 0 || host.Bytes[insideIdx+1] != 255 {
		t.Fatalf("pixel inside inscribed region = %v, want opaque green", host.Bytes[insideIdx:insideIdx+4])
	}
	outsideIdx := uint32(0)
	if host.Bytes[outsideIdx] != 255 || host.Bytes[outsideIdx+1] != 0 {
		t.Fatalf("pixel outside inscribed region = %v, want untouched red", host.Bytes[outsideIdx:outsideIdx+4])
	}
}

func TestExecuteAffineProducesOutputOfDeclaredSize(t *testing.T) {
	b := command.NewBuilder()
	srcReg, _ := b.Input(rgba8(2, 2))
	transform := command.Rotate(math.Pi / 2).Shift(1, -1)
	outReg, err := b.Affine(srcReg, transform, command.AffineSampleNearest, 2, 2)
	if err != nil {
		t.Fatalf("Affine: %v", err)
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

	p := pool.New()
	p.SelectDevice(gputest.Adapter{}, gputest.NewDevice(), gputest.NewQueue())
	data := make([]byte, 2*2*4)
	// Top-left red, top-right green, bottom-left blue, bottom-right white.
	copy(data[0:4], []byte{255, 0, 0, 255})
	copy(data[4:8], []byte{0, 255, 0, 255})
	copy(data[8:12], []byte{0, 0, 255, 255})
	copy(data[12:16], []byte{255, 255, 255, 255})
	srcKey, _ := p.Insert(rgba8(2, 2), data)

	_, outputs, err := Execute(prog, p, map[command.Register]pool.ImageKey{srcReg: srcKey})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	entry, _ := p.Image(outputs[outReg])
	host := entry.Data.(pool.HostData)
	if len(host.Bytes) != len(data) {
		t.Fatalf("output length = %d, want %d", len(host.Bytes), len(data))
	}
}

func TestExecuteChromaticAdaptationD65ToD50ChangesNeutralGray(t *testing.T) {
	b := command.NewBuilder()
	srcDesc := rgba8(1, 1)
	srcReg, _ := b.Input(srcDesc)
	to := descriptor.Color{Primaries: descriptor.PrimariesBt709, Transfer: descriptor.TransferSrgb, Whitepoint: descriptor.WhitepointD50}
	outReg, err := b.ChromaticAdaptation(srcReg, command.ChromaticAdaptationVonKries, to)
	if err != nil {
		t.Fatalf("ChromaticAdaptation: %v", err)
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

	p := pool.New()
	p.SelectDevice(gputest.Adapter{}, gputest.NewDevice(), gputest.NewQueue())
	srcKey, _ := p.Insert(srcDesc, []byte{200, 200, 200, 255})

	_, outputs, err := Execute(prog, p, map[command.Register]pool.ImageKey{srcReg: srcKey})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	entry, _ := p.Image(outputs[outReg])
	host := entry.Data.(pool.HostData)
	if host.Bytes[3] != 255 {
		t.Fatalf("alpha changed by chromatic adaptation: got %d, want 255", host.Bytes[3])
	}
	if host.Bytes[0] == 200 && host.Bytes[1] == 200 && host.Bytes[2] == 200 {
		t.Fatal("D65->D50 adaptation left a neutral gray completely unchanged")
	}
}

func TestExecuteUnboundInputFails(t *testing.T) {
	b := command.NewBuilder()
	srcReg, _ := b.Input(rgba8(1, 1))
	b.Output(srcReg)
	cb, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	prog, err := program.Compile(cb, program.DefaultCostModel())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	p := pool.New()
	p.SelectDevice(gputest.Adapter{}, gputest.NewDevice(), gputest.NewQueue())
	_, _, err = Execute(prog, p, map[command.Register]pool.ImageKey{})
	var launchErr *LaunchError
	if !errors.As(err, &launchErr) {
		t.Fatalf("Execute with unbound input: got %v, want *LaunchError", err)
	}
}

func TestInputRejectsInconsistentDescriptorAtBuildTime(t *testing.T) {
	b := command.NewBuilder()
	bad := rgba8(4, 4)
	bad.Layout.BytesPerTexel = 7
	_, err := b.Input(bad)
	var compileErr *command.CompileError
	if !errors.As(err, &compileErr) {
		t.Fatalf("Input with inconsistent descriptor: got %v, want *command.CompileError", err)
	}
}

func newTestEncoder(t *testing.T) *Encoder {
	t.Helper()
	enc, err := NewEncoder(gputest.NewDevice(), gputest.NewQueue(), nil)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	return enc
}

func TestEncoderRunTopCommandFailsWithNoCompletedCommands(t *testing.T) {
	enc := newTestEncoder(t)
	if err := enc.runTopCommand(); err == nil {
		t.Fatal("runTopCommand with nothing pending: got nil error, want failure")
	}
}

func TestEncoderBeginRenderPassFailsOutsideCommandEncoder(t *testing.T) {
	enc := newTestEncoder(t)
	if err := enc.push(BeginRenderPass{}); err == nil {
		t.Fatal("BeginRenderPass outside BeginCommands: got nil error, want failure")
	}
}

func TestEncoderBeginRenderPassFailsWhenAlreadyInPass(t *testing.T) {
	enc := newTestEncoder(t)
	if err := enc.beginCommands(); err != nil {
		t.Fatalf("beginCommands: %v", err)
	}
	if err := enc.push(BeginRenderPass{}); err != nil {
		t.Fatalf("first BeginRenderPass: %v", err)
	}
	if err := enc.push(BeginRenderPass{}); err == nil {
		t.Fatal("second BeginRenderPass while one is open: got nil error, want failure")
	}
}

func TestEncoderEndCommandsFailsWithOpenRenderPass(t *testing.T) {
	enc := newTestEncoder(t)
	if err := enc.beginCommands(); err != nil {
		t.Fatalf("beginCommands: %v", err)
	}
	if err := enc.push(BeginRenderPass{}); err != nil {
		t.Fatalf("BeginRenderPass: %v", err)
	}
	if err := enc.push(EndCommands{}); err == nil {
		t.Fatal("EndCommands with an open render pass: got nil error, want failure")
	}
}

func TestEncoderSetBindGroupFailsWhenGroupNotEmitted(t *testing.T) {
	enc := newTestEncoder(t)
	if err := enc.beginCommands(); err != nil {
		t.Fatalf("beginCommands: %v", err)
	}
	if err := enc.push(BeginRenderPass{}); err != nil {
		t.Fatalf("BeginRenderPass: %v", err)
	}
	if err := enc.push(SetBindGroup{Group: 0, Index: 0}); err == nil {
		t.Fatal("SetBindGroup referencing an unemitted group: got nil error, want failure")
	}
}

func TestEncoderSetVertexBufferFailsWhenBufferNotEmitted(t *testing.T) {
	enc := newTestEncoder(t)
	if err := enc.beginCommands(); err != nil {
		t.Fatalf("beginCommands: %v", err)
	}
	if err := enc.push(BeginRenderPass{}); err != nil {
		t.Fatalf("BeginRenderPass: %v", err)
	}
	if err := enc.push(SetVertexBuffer{Buffer: 0, Slot: 0}); err == nil {
		t.Fatal("SetVertexBuffer referencing an unemitted buffer: got nil error, want failure")
	}
}

func TestEncoderRunTopToBotFailsWhenNExceedsPending(t *testing.T) {
	enc := newTestEncoder(t)
	if err := enc.push(RunTopToBot{N: 1}); err == nil {
		t.Fatal("RunTopToBot(1) with nothing pending: got nil error, want failure")
	}
}

func TestEncoderConstructorCountersAccumulate(t *testing.T) {
	enc := newTestEncoder(t)
	if _, err := enc.emitBuffer(64, gpucore.BufferUsageCopyDst); err != nil {
		t.Fatalf("emitBuffer: %v", err)
	}
	if _, err := enc.emitBuffer(64, gpucore.BufferUsageCopyDst); err != nil {
		t.Fatalf("emitBuffer: %v", err)
	}
	if enc.NumBuffers() != 2 {
		t.Fatalf("NumBuffers() = %d, want 2", enc.NumBuffers())
	}
	if _, err := enc.emitTexture(4, 4, gpucore.TextureFormatRGBA8Unorm, gpucore.TextureUsageCopyDst); err != nil {
		t.Fatalf("emitTexture: %v", err)
	}
	if enc.NumTextures() != 1 {
		t.Fatalf("NumTextures() = %d, want 1", enc.NumTextures())
	}
}
