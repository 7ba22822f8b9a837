package command

import (
	"errors"
	"testing"

	"github.com/gogpu/imgcompile/descriptor"
)

func rgba8(w, h uint32) descriptor.Descriptor {
	return descriptor.Descriptor{
		Layout: descriptor.BufferLayout{Width: w, Height: h, BytesPerTexel: 4},
		Texel:  descriptor.Texel{Block: descriptor.BlockPixel, Samples: descriptor.Samples{Parts: descriptor.PartsRGBA, Bits: descriptor.Int8x4}},
	}
}

func TestInscribeProducesRegisterWithTargetDescriptor(t *testing.T) {
	b := NewBuilder()
	bg, err := b.Input(rgba8(4, 4))
	if err != nil {
		t.Fatalf("Input(bg): %v", err)
	}
	fg, err := b.Input(rgba8(2, 2))
	if err != nil {
		t.Fatalf("Input(fg): %v", err)
	}
	out, err := b.Inscribe(bg, fg, Rectangle{X: 1, Y: 1, Width: 2, Height: 2})
	if err != nil {
		t.Fatalf("Inscribe: %v", err)
	}
	if err := b.Output(out); err != nil {
		t.Fatalf("Output: %v", err)
	}
	cb, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if cb.Descriptor(out) != rgba8(4, 4) {
		t.Fatalf("Inscribe output descriptor = %+v, want background descriptor", cb.Descriptor(out))
	}
	fn, ok := cb.Function(out).(PaintOnTop)
	if !ok {
		t.Fatalf("Function(out) = %T, want PaintOnTop", cb.Function(out))
	}
	if fn.Blend != BlendSourceOver {
		t.Fatalf("Inscribe blend mode = %v, want BlendSourceOver", fn.Blend)
	}
}

func TestInscribeRejectsRegionOutsideTarget(t *testing.T) {
	b := NewBuilder()
	bg, _ := b.Input(rgba8(4, 4))
	fg, _ := b.Input(rgba8(2, 2))
	_, err := b.Inscribe(bg, fg, Rectangle{X: 3, Y: 3, Width: 2, Height: 2})
	var compileErr *CompileError
	if !errors.As(err, &compileErr) {
		t.Fatalf("Inscribe out of bounds: got %v, want *CompileError", err)
	}
}

func TestInscribeRejectsRegionNotMatchingSrc(t *testing.T) {
	b := NewBuilder()
	bg, _ := b.Input(rgba8(4, 4))
	fg, _ := b.Input(rgba8(2, 2))
	_, err := b.Inscribe(bg, fg, Rectangle{Width: 3, Height: 2})
	var compileErr *CompileError
	if !errors.As(err, &compileErr) {
		t.Fatalf("Inscribe mismatched region: got %v, want *CompileError", err)
	}
}

func TestAffineChangesOutputDimensions(t *testing.T) {
	b := NewBuilder()
	src, _ := b.Input(rgba8(4, 4))
	out, err := b.Affine(src, Rotate(1.5708), AffineSampleBilinear, 8, 8)
	if err != nil {
		t.Fatalf("Affine: %v", err)
	}
	desc := b.ops[out].desc
	if desc.Layout.Width != 8 || desc.Layout.Height != 8 {
		t.Fatalf("Affine output layout = %+v, want 8x8", desc.Layout)
	}
}

func TestChromaticAdaptationChangesColorKeepsDimensions(t *testing.T) {
	b := NewBuilder()
	srcDesc := rgba8(4, 4)
	srcDesc.Color = descriptor.Color{Whitepoint: descriptor.WhitepointD65, Transfer: descriptor.TransferSrgb}
	src, _ := b.Input(srcDesc)
	to := descriptor.Color{Whitepoint: descriptor.WhitepointD50, Transfer: descriptor.TransferLinear}
	out, err := b.ChromaticAdaptation(src, ChromaticAdaptationVonKries, to)
	if err != nil {
		t.Fatalf("ChromaticAdaptation: %v", err)
	}
	desc := b.ops[out].desc
	if desc.Color != to {
		t.Fatalf("ChromaticAdaptation output color = %+v, want %+v", desc.Color, to)
	}
	if desc.Layout != srcDesc.Layout {
		t.Fatalf("ChromaticAdaptation output layout = %+v, want unchanged %+v", desc.Layout, srcDesc.Layout)
	}
}

func TestFinishRequiresAtLeastOneOutput(t *testing.T) {
	b := NewBuilder()
	b.Input(rgba8(1, 1))
	_, err := b.Finish()
	var compileErr *CompileError
	if !errors.As(err, &compileErr) {
		t.Fatalf("Finish with no outputs: got %v, want *CompileError", err)
	}
}

func TestReferencingUnknownRegisterIsCompileError(t *testing.T) {
	b := NewBuilder()
	bg, _ := b.Input(rgba8(4, 4))
	bogus := Register(99)
	_, err := b.PaintOnTop(bg, bogus, BlendSourceOver, Rectangle{Width: 4, Height: 4})
	var compileErr *CompileError
	if !errors.As(err, &compileErr) {
		t.Fatalf("PaintOnTop with unknown src: got %v, want *CompileError", err)
	}
}

func TestFinishProducesImmutableCopy(t *testing.T) {
	b := NewBuilder()
	src, _ := b.Input(rgba8(2, 2))
	b.Output(src)
	cb, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	b.Input(rgba8(2, 2))
	if cb.NumRegisters() != 1 {
		t.Fatalf("CommandBuffer mutated after Finish: NumRegisters = %d, want 1", cb.NumRegisters())
	}
	if !cb.IsInput(src) {
		t.Fatal("IsInput(src) = false, want true")
	}
}
