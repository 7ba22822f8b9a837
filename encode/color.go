package encode

import (
	"math"

	"github.com/gogpu/imgcompile/descriptor"
	"github.com/gogpu/imgcompile/pool"
)

// srgbToLinear and linearToSRGB are the standard sRGB EOTF/OETF,
// grounded on internal/color/convert.go's SRGBToLinear/LinearToSRGB.
func srgbToLinear(s float64) float64 {
	if s <= 0.04045 {
		return s / 12.92
	}
	return math.Pow((s+0.055)/1.055, 2.4)
}

func linearToSRGB(l float64) float64 {
	if l <= 0.0031308 {
		return l * 12.92
	}
	return 1.055*math.Pow(l, 1.0/2.4) - 0.055
}

// srgbToXYZ and its inverse xyzToSRGB convert between linear sRGB (Bt709
// primaries, D65 white) and CIE XYZ. Standard colorimetric constants, not
// specific to any one example repo.
var srgbToXYZ = [3][3]float64{
	{0.4124564, 0.3575761, 0.1804375},
	{0.2126729, 0.7151522, 0.0721750},
	{0.0193339, 0.1191920, 0.9503041},
}

var xyzToSRGB = [3][3]float64{
	{3.2404542, -1.5371385, -0.4985314},
	{-0.9692660, 1.8760108, 0.0415560},
	{0.0556434, -0.2040259, 1.0572252},
}

// bradford and its inverse are the Bradford cone-response matrices used
// by the von Kries chromatic adaptation method.
var bradford = [3][3]float64{
	{0.8951000, 0.2664000, -0.1614000},
	{-0.7502000, 1.7135000, 0.0367000},
	{0.0389000, -0.0685000, 1.0296000},
}

var bradfordInv = [3][3]float64{
	{0.9869929, -0.1470543, 0.1599627},
	{0.4323053, 0.5183603, 0.0492912},
	{-0.0085287, 0.0400428, 0.9684867},
}

// whitepointXYZ is the CIE XYZ tristimulus value of each reference white
// this engine understands, normalized to Y=1.
var whitepointXYZ = map[descriptor.Whitepoint][3]float64{
	descriptor.WhitepointD65: {0.95047, 1.00000, 1.08883},
	descriptor.WhitepointD50: {0.96422, 1.00000, 0.82521},
}

func mulMatVec(m [3][3]float64, v [3]float64) [3]float64 {
	return [3]float64{
		m[0][0]*v[0] + m[0][1]*v[1] + m[0][2]*v[2],
		m[1][0]*v[0] + m[1][1]*v[1] + m[1][2]*v[2],
		m[2][0]*v[0] + m[2][1]*v[1] + m[2][2]*v[2],
	}
}

func mulMat(a, b [3][3]float64) [3][3]float64 {
	var out [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var sum float64
			for k := 0; k < 3; k++ {
				sum += a[i][k] * b[k][j]
			}
			out[i][j] = sum
		}
	}
	return out
}

// vonKriesAdapt returns the XYZ-space adaptation matrix that maps
// tristimulus values seen under from to their appearance under to, by the
// von Kries method: transform into cone-response space, scale each cone
// channel by the ratio of the two white points' responses, and transform
// back.
func vonKriesAdapt(from, to [3]float64) [3][3]float64 {
	srcCone := mulMatVec(bradford, from)
	dstCone := mulMatVec(bradford, to)
	var scale [3][3]float64
	for i := 0; i < 3; i++ {
		if srcCone[i] != 0 {
			scale[i][i] = dstCone[i] / srcCone[i]
		} else {
			scale[i][i] = 1
		}
	}
	return mulMat(mulMat(bradfordInv, scale), bradford)
}

// adaptInto re-expresses src's RGBA8 samples under dst's descriptor's
// reference white point, leaving dst's descriptor (already declared with
// the new Color) as the ground truth for how the output is interpreted.
// Only sRGB/linear transfer over Bt709 primaries is supported.
func adaptInto(p *pool.Pool, src, dst pool.ImageKey) error {
	srcBytes, srcEntry, err := hostBytes(p, src)
	if err != nil {
		return err
	}
	dstBytes, dstEntry, err := hostBytes(p, dst)
	if err != nil {
		return err
	}
	srcDesc := srcEntry.Meta.Descriptor
	dstDesc := dstEntry.Meta.Descriptor
	if srcDesc.Layout.BytesPerTexel != bytesPerPixelRGBA8 || dstDesc.Layout.BytesPerTexel != bytesPerPixelRGBA8 {
		return launchErr("adaptInto", "only 4-byte-per-texel buffers are supported")
	}
	if srcDesc.Color.Primaries != descriptor.PrimariesBt709 || dstDesc.Color.Primaries != descriptor.PrimariesBt709 {
		return launchErr("adaptInto", "chromatic adaptation is only implemented for Bt709 primaries")
	}
	for _, tr := range []descriptor.Transfer{srcDesc.Color.Transfer, dstDesc.Color.Transfer} {
		if tr != descriptor.TransferSrgb && tr != descriptor.TransferLinear {
			return launchErr("adaptInto", "chromatic adaptation is only implemented for sRGB and linear transfer")
		}
	}
	srcWhite, ok := whitepointXYZ[srcDesc.Color.Whitepoint]
	if !ok {
		return launchErr("adaptInto", "unsupported source white point")
	}
	dstWhite, ok := whitepointXYZ[dstDesc.Color.Whitepoint]
	if !ok {
		return launchErr("adaptInto", "unsupported destination white point")
	}
	adapt := vonKriesAdapt(srcWhite, dstWhite)

	decode := func(v byte) float64 {
		s := float64(v) / 255.0
		if srcDesc.Color.Transfer == descriptor.TransferSrgb {
			return srgbToLinear(s)
		}
		return s
	}
	encode := func(v float64) byte {
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		if dstDesc.Color.Transfer == descriptor.TransferSrgb {
			v = linearToSRGB(v)
		}
		return clampByte(v * 255.0)
	}

	out := make([]byte, len(dstBytes))
	for i := 0; i+3 < len(srcBytes); i += 4 {
		linearRGB := [3]float64{decode(srcBytes[i]), decode(srcBytes[i+1]), decode(srcBytes[i+2])}
		xyz := mulMatVec(srgbToXYZ, linearRGB)
		adapted := mulMatVec(adapt, xyz)
		rgb := mulMatVec(xyzToSRGB, adapted)
		out[i] = encode(rgb[0])
		out[i+1] = encode(rgb[1])
		out[i+2] = encode(rgb[2])
		out[i+3] = srcBytes[i+3]
	}

	dstEntry.Data = pool.HostData{Bytes: out}
	return nil
}
