// Package descriptor describes the byte layout and color semantics of an
// image buffer independent of where that buffer lives (host memory or a
// GPU resource). It is the shared vocabulary every other package in this
// module uses to talk about pixels.
package descriptor

import "fmt"

// Block is the ratio of pixels to texels a texel arrangement samples.
// Most formats are Pixel (one texel per pixel); the Sub* variants describe
// chroma-subsampled layouts.
type Block uint8

const (
	BlockPixel Block = iota
	BlockSub1x2
	BlockSub1x4
	BlockSub2x2
	BlockSub2x4
	BlockSub4x4
)

func (b Block) dims() (w, h int) {
	switch b {
	case BlockPixel:
		return 1, 1
	case BlockSub1x2:
		return 1, 2
	case BlockSub1x4:
		return 1, 4
	case BlockSub2x2:
		return 2, 2
	case BlockSub2x4:
		return 2, 4
	case BlockSub4x4:
		return 4, 4
	default:
		return 1, 1
	}
}

// SampleParts names the channel arrangement within a texel.
type SampleParts uint8

const (
	PartsA SampleParts = iota
	PartsR
	PartsG
	PartsB
	PartsRGB
	PartsBGR
	PartsRGBA
	PartsRGBX
	PartsBGRA
	PartsBGRX
	PartsARGB
	PartsXRGB
	PartsABGR
	PartsXBGR
	PartsYUV
)

// SampleBits names the bit layout of the channels within a texel.
type SampleBits uint8

const (
	Int8 SampleBits = iota
	Int332
	Int233
	Int4x4
	Inti444
	Int444i
	Int565
	Int8x3
	Int8x4
	Int1010102
	Int2101010
	Int101010i
	Inti101010
	Float16x4
	Float32x4
)

// bytesPerTexel returns the storage size of one texel for the given bits,
// or 0 if bits is not recognized.
func (b SampleBits) bytesPerTexel() int {
	switch b {
	case Int8:
		return 1
	case Int332, Int233:
		return 1
	case Int4x4, Inti444, Int444i, Int565:
		return 2
	case Int8x3:
		return 3
	case Int8x4, Int1010102, Int2101010, Int101010i, Inti101010:
		return 4
	case Float16x4:
		return 8
	case Float32x4:
		return 16
	default:
		return 0
	}
}

// Samples is the combination of channel arrangement and bit layout for one
// texel.
type Samples struct {
	Parts SampleParts
	Bits  SampleBits
}

// Texel is a complete description of the storage unit: which pixels it
// covers (Block) and how those pixels' channels are packed (Samples).
type Texel struct {
	Block   Block
	Samples Samples
}

// BytesPerTexel returns the storage size of one texel, or 0 if the
// combination is not recognized.
func (t Texel) BytesPerTexel() int {
	return t.Samples.Bits.bytesPerTexel()
}

// ChannelTexel extracts the single-channel texel an image would have if
// only the named channel were kept, or false if this arrangement has no
// well-defined single-channel extraction. Only byte-per-channel (Int8,
// Int8x3, Int8x4) RGB, RGBX, RGBA, BGRX, BGRA, ABGR, ARGB, XRGB and XBGR
// arrangements are extractable; plain BGR is not.
func (t Texel) ChannelTexel(channel ColorChannel) (Texel, bool) {
	switch t.Samples.Parts {
	case PartsRGB, PartsRGBX, PartsRGBA, PartsBGRX, PartsBGRA, PartsABGR, PartsARGB, PartsXRGB, PartsXBGR:
	default:
		return Texel{}, false
	}
	var bits SampleBits
	switch t.Samples.Bits {
	case Int8, Int8x3, Int8x4:
		bits = Int8
	default:
		return Texel{}, false
	}
	var part SampleParts
	switch channel {
	case ChannelR:
		part = PartsR
	case ChannelG:
		part = PartsG
	case ChannelB:
		part = PartsB
	case ChannelA:
		part = PartsA
	default:
		return Texel{}, false
	}
	return Texel{Block: t.Block, Samples: Samples{Parts: part, Bits: bits}}, true
}

// ColorChannel names a single channel for Texel.ChannelTexel.
type ColorChannel uint8

const (
	ChannelR ColorChannel = iota
	ChannelG
	ChannelB
	ChannelA
)

// Primaries names a set of chromaticity primaries for a color space.
type Primaries uint8

const (
	PrimariesBt709 Primaries = iota
	PrimariesBt601
	PrimariesBt2020
	PrimariesSmpte432
)

// Transfer names the electro-optical transfer function applied to linear
// light to produce stored sample values.
type Transfer uint8

const (
	TransferLinear Transfer = iota
	TransferSrgb
	TransferBt709
)

// Whitepoint names a reference white chromaticity.
type Whitepoint uint8

const (
	WhitepointD65 Whitepoint = iota
	WhitepointD50
	WhitepointDci
)

// Luminance describes the reference luminance range, in nits, of a color
// space's white point.
type Luminance struct {
	WhiteCdM2 float32
}

// Color describes the color space a buffer's samples are interpreted in.
// Only the Xyz-derived variant used by this engine is modeled.
type Color struct {
	Primaries  Primaries
	Transfer   Transfer
	Whitepoint Whitepoint
	Luminance  Luminance
}

// BufferLayout is the raw byte geometry of an image buffer, independent of
// how its samples are to be interpreted.
type BufferLayout struct {
	Width         uint32
	Height        uint32
	BytesPerTexel uint32
}

// ByteLen returns the number of bytes a buffer with this layout occupies,
// assuming a tightly packed (unpadded) layout. The product is computed
// without an overflow check; nothing bounds Width, Height or
// BytesPerTexel, and a product above 2^64-1 wraps around.
func (l BufferLayout) ByteLen() uint64 {
	return uint64(l.Width) * uint64(l.Height) * uint64(l.BytesPerTexel)
}

// rowAlignment is the row-stride alignment WebGPU-shaped backends require
// for buffer-to-texture copies.
const rowAlignment = 256

// ToAligned returns the layout unchanged together with its row stride
// padded up to a multiple of 256 bytes. Returns an error if the layout is
// degenerate (zero bytes per texel).
func (l BufferLayout) ToAligned() (BufferLayout, uint64, error) {
	if l.BytesPerTexel == 0 {
		return BufferLayout{}, 0, fmt.Errorf("descriptor: layout has zero bytes per texel")
	}
	rowBytes := uint64(l.Width) * uint64(l.BytesPerTexel)
	stride := ((rowBytes + rowAlignment - 1) / rowAlignment) * rowAlignment
	aligned := l
	return aligned, stride, nil
}

// Descriptor is the complete description of an image buffer: its byte
// geometry plus how its texels arrange pixels and channels and what color
// space those channels live in.
type Descriptor struct {
	Layout BufferLayout
	Texel  Texel
	Color  Color
}

// minChannels returns the number of distinct channels SampleParts requires
// to be representable, used to reject arrangements that claim more
// channels than their SampleBits has room for (e.g. Rgb packed into a
// single Int8 byte).
func (p SampleParts) minChannels() int {
	switch p {
	case PartsA, PartsR, PartsG, PartsB:
		return 1
	case PartsRGB, PartsBGR:
		return 3
	case PartsRGBA, PartsRGBX, PartsBGRA, PartsBGRX, PartsARGB, PartsXRGB, PartsABGR, PartsXBGR:
		return 4
	case PartsYUV:
		return 3
	default:
		return 0
	}
}

// isYUV reports whether these parts encode a YUV (luma/chroma) arrangement.
func (p SampleParts) isYUV() bool {
	return p == PartsYUV
}

// IsConsistent reports whether the descriptor's declared layout matches
// what its texel arrangement implies (part a: BytesPerTexel must equal the
// size the Texel's Samples.Bits imply, and Samples.Parts must be
// representable in that many bytes; Width/Height must be exact multiples
// of the Texel's Block subsampling factors), and whether the Color variant
// applies to Samples.Parts (part b: this engine's Color is always the
// XYZ-derived variant, which a YUV sample arrangement can never satisfy —
// YUV needs a luma/chroma matrix this Color type does not carry).
func (d Descriptor) IsConsistent() bool {
	if d.Texel.Samples.Parts.isYUV() {
		return false
	}
	want := d.Texel.BytesPerTexel()
	if want == 0 || uint32(want) != d.Layout.BytesPerTexel {
		return false
	}
	minCh := d.Texel.Samples.Parts.minChannels()
	if minCh == 0 || minCh > want {
		return false
	}
	bw, bh := d.Texel.Block.dims()
	if bw == 0 || bh == 0 {
		return false
	}
	if d.Layout.Width%uint32(bw) != 0 || d.Layout.Height%uint32(bh) != 0 {
		return false
	}
	return true
}
