package encode

import (
	"math"

	"github.com/gogpu/imgcompile/command"
	"github.com/gogpu/imgcompile/pool"
)

const bytesPerPixelRGBA8 = 4

// hostBytes returns the host-resident bytes backing key's image, failing
// if the image is not currently host-resident. Every op in this engine
// operates on host bytes, so GPU-resident images are rejected here; pool
// has no operation that copies a GPU-resident image back to host bytes.
func hostBytes(p *pool.Pool, key pool.ImageKey) ([]byte, *pool.ImageEntry, error) {
	entry, ok := p.Image(key)
	if !ok {
		return nil, nil, launchErr("hostBytes", "image does not exist in this pool")
	}
	host, ok := entry.Data.(pool.HostData)
	if !ok {
		return nil, nil, launchErr("hostBytes", "image is not host-resident")
	}
	return host.Bytes, entry, nil
}

// compositeInPlace blends src onto target's region at, using mode, and
// writes the result back into target's image entry. Both images must have
// 4 bytes per texel, which are blended as RGBA8 channels; other texel
// sizes are rejected. The texel format itself is not checked.
func compositeInPlace(p *pool.Pool, target, src pool.ImageKey, mode command.BlendMode, at command.Rectangle) error {
	targetBytes, targetEntry, err := hostBytes(p, target)
	if err != nil {
		return err
	}
	srcBytes, srcEntry, err := hostBytes(p, src)
	if err != nil {
		return err
	}
	if targetEntry.Meta.Descriptor.Layout.BytesPerTexel != bytesPerPixelRGBA8 ||
		srcEntry.Meta.Descriptor.Layout.BytesPerTexel != bytesPerPixelRGBA8 {
		return launchErr("compositeInPlace", "only 4-byte-per-texel buffers are supported")
	}

	targetStride := targetEntry.Meta.Descriptor.Layout.Width * bytesPerPixelRGBA8
	srcStride := srcEntry.Meta.Descriptor.Layout.Width * bytesPerPixelRGBA8

	out := make([]byte, len(targetBytes))
	copy(out, targetBytes)

	for y := uint32(0); y < at.Height; y++ {
		for x := uint32(0); x < at.Width; x++ {
			si := y*srcStride + x*bytesPerPixelRGBA8
			ti := (at.Y+y)*targetStride + (at.X+x)*bytesPerPixelRGBA8
			sr, sg, sb, sa := srcBytes[si], srcBytes[si+1], srcBytes[si+2], srcBytes[si+3]
			dr, dg, db, da := out[ti], out[ti+1], out[ti+2], out[ti+3]
			r, g, b, a := mode.Apply(sr, sg, sb, sa, dr, dg, db, da)
			out[ti], out[ti+1], out[ti+2], out[ti+3] = r, g, b, a
		}
	}

	targetEntry.Data = pool.HostData{Bytes: out}
	return nil
}

// resampleInto resamples src through transform into dst, which must
// already exist with its final dimensions and zeroed bytes. Pixels that
// map outside src's bounds are left transparent.
func resampleInto(p *pool.Pool, src, dst pool.ImageKey, transform command.Affine, sample command.AffineSample) error {
	srcBytes, srcEntry, err := hostBytes(p, src)
	if err != nil {
		return err
	}
	dstBytes, dstEntry, err := hostBytes(p, dst)
	if err != nil {
		return err
	}
	if srcEntry.Meta.Descriptor.Layout.BytesPerTexel != bytesPerPixelRGBA8 ||
		dstEntry.Meta.Descriptor.Layout.BytesPerTexel != bytesPerPixelRGBA8 {
		return launchErr("resampleInto", "only 4-byte-per-texel buffers are supported")
	}

	inv, err := transform.Invert()
	if err != nil {
		return launchErr("resampleInto", "%v", err)
	}

	srcW := int(srcEntry.Meta.Descriptor.Layout.Width)
	srcH := int(srcEntry.Meta.Descriptor.Layout.Height)
	srcStride := srcEntry.Meta.Descriptor.Layout.Width * bytesPerPixelRGBA8
	dstW := int(dstEntry.Meta.Descriptor.Layout.Width)
	dstH := int(dstEntry.Meta.Descriptor.Layout.Height)
	dstStride := dstEntry.Meta.Descriptor.Layout.Width * bytesPerPixelRGBA8

	out := make([]byte, len(dstBytes))

	for y := 0; y < dstH; y++ {
		for x := 0; x < dstW; x++ {
			sx, sy := inv.TransformPoint(float64(x)+0.5, float64(y)+0.5)
			di := uint32(y)*dstStride + uint32(x)*bytesPerPixelRGBA8
			var r, g, b, a byte
			switch sample {
			case command.AffineSampleBilinear:
				r, g, b, a = sampleBilinear(srcBytes, srcW, srcH, srcStride, sx-0.5, sy-0.5)
			default:
				r, g, b, a = sampleNearest(srcBytes, srcW, srcH, srcStride, sx-0.5, sy-0.5)
			}
			out[di], out[di+1], out[di+2], out[di+3] = r, g, b, a
		}
	}

	dstEntry.Data = pool.HostData{Bytes: out}
	return nil
}

func sampleNearest(src []byte, w, h int, stride uint32, x, y float64) (r, g, b, a byte) {
	ix := int(math.Round(x))
	iy := int(math.Round(y))
	if ix < 0 || iy < 0 || ix >= w || iy >= h {
		return 0, 0, 0, 0
	}
	i := uint32(iy)*stride + uint32(ix)*bytesPerPixelRGBA8
	return src[i], src[i+1], src[i+2], src[i+3]
}

func sampleBilinear(src []byte, w, h int, stride uint32, x, y float64) (r, g, b, a byte) {
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	fx := x - float64(x0)
	fy := y - float64(y0)

	at := func(ix, iy int) (float64, float64, float64, float64) {
		if ix < 0 || iy < 0 || ix >= w || iy >= h {
			return 0, 0, 0, 0
		}
		i := uint32(iy)*stride + uint32(ix)*bytesPerPixelRGBA8
		return float64(src[i]), float64(src[i+1]), float64(src[i+2]), float64(src[i+3])
	}

	r00, g00, b00, a00 := at(x0, y0)
	r10, g10, b10, a10 := at(x0+1, y0)
	r01, g01, b01, a01 := at(x0, y0+1)
	r11, g11, b11, a11 := at(x0+1, y0+1)

	lerp := func(v00, v10, v01, v11 float64) byte {
		top := v00 + (v10-v00)*fx
		bottom := v01 + (v11-v01)*fx
		v := top + (bottom-top)*fy
		return clampByte(v)
	}

	return lerp(r00, r10, r01, r11), lerp(g00, g10, g01, g11), lerp(b00, b10, b01, b11), lerp(a00, a10, a01, a11)
}

func clampByte(v float64) byte {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return byte(v + 0.5)
}
