package program

import (
	"testing"

	"github.com/gogpu/imgcompile/command"
	"github.com/gogpu/imgcompile/descriptor"
)

func rgba8(w, h uint32) descriptor.Descriptor {
	return descriptor.Descriptor{
		Layout: descriptor.BufferLayout{Width: w, Height: h, BytesPerTexel: 4},
		Texel:  descriptor.Texel{Block: descriptor.BlockPixel, Samples: descriptor.Samples{Parts: descriptor.PartsRGBA, Bits: descriptor.Int8x4}},
	}
}

func TestCompileAssignsDistinctBuffersToOverlappingRegisters(t *testing.T) {
	b := command.NewBuilder()
	bg, _ := b.Input(rgba8(4, 4))
	fg, _ := b.Input(rgba8(2, 2))
	out, err := b.Inscribe(bg, fg, command.Rectangle{X: 1, Y: 1, Width: 2, Height: 2})
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

	prog, err := Compile(cb, DefaultCostModel())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	plan := prog.Plan()
	if plan.BufferFor(bg) == plan.BufferFor(fg) {
		t.Fatal("bg and fg are both live at the Inscribe op and must not share a buffer")
	}
	// bg is still live when out is defined, so out gets its own slot; the
	// capacity recorded for bg's slot must cover bg's 4x4 RGBA8 image.
	if plan.Capacity(plan.BufferFor(bg)) < rgba8(4, 4).Layout.ByteLen() {
		t.Fatalf("bg buffer capacity %d too small for a 4x4 RGBA8 image", plan.Capacity(plan.BufferFor(bg)))
	}
}

func TestCompileCopyKeepsSourceAndResultInSeparateBuffers(t *testing.T) {
	b := command.NewBuilder()
	a, _ := b.Input(rgba8(2, 2))
	c, err := b.Copy(a)
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if err := b.Output(c); err != nil {
		t.Fatalf("Output: %v", err)
	}
	cb, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	prog, err := Compile(cb, DefaultCostModel())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if prog.Plan().NumBuffers() < 2 {
		t.Fatalf("Plan().NumBuffers() = %d, want at least 2 (a and the copy result are both live at the copy)", prog.Plan().NumBuffers())
	}
}

func TestCompileAssignsUniqueTextureIndexPerRegister(t *testing.T) {
	b := command.NewBuilder()
	bg, _ := b.Input(rgba8(4, 4))
	fg, _ := b.Input(rgba8(2, 2))
	out, err := b.Inscribe(bg, fg, command.Rectangle{X: 1, Y: 1, Width: 2, Height: 2})
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

	prog, err := Compile(cb, DefaultCostModel())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	plan := prog.Plan()

	if plan.NumTextures() != cb.NumRegisters() {
		t.Fatalf("NumTextures() = %d, want %d (one per register, never deduplicated)", plan.NumTextures(), cb.NumRegisters())
	}

	seen := make(map[TextureID]command.Register, cb.NumRegisters())
	for r := 0; r < cb.NumRegisters(); r++ {
		reg := command.Register(r)
		tex := plan.TextureFor(reg)
		if prior, ok := seen[tex]; ok {
			t.Fatalf("register %d and register %d share texture index %d; every register must get its own", prior, reg, tex)
		}
		seen[tex] = reg
	}

	// Texture indices must be distinct for every register: texture
	// planning never reuses, only buffer planning does (and in this graph
	// all three registers are live together, so no buffer is reused either).
	if plan.TextureFor(bg) == plan.TextureFor(fg) || plan.TextureFor(bg) == plan.TextureFor(out) {
		t.Fatal("texture indices must be unique to each register even when buffer slots are reused")
	}
}

func TestDefaultCostModelIsPositive(t *testing.T) {
	cost := DefaultCostModel()
	if cost.GPULatency <= 0 || cost.GPUDefaultTx <= 0 || cost.GPUDefaultRx <= 0 || cost.CPUOverheadMul4x4 <= 0 {
		t.Fatalf("DefaultCostModel() has a non-positive field: %+v", cost)
	}
}
