package command

// BlendMode is a Porter-Duff compositing operator used by PaintOnTop. All
// operations are defined over premultiplied-alpha samples, following the
// WebGPU/W3C Compositing Level 1 convention.
//
// References: Porter-Duff, "Compositing Digital Images" (1984);
// https://www.w3.org/TR/compositing-1/
type BlendMode uint8

const (
	BlendClear BlendMode = iota
	BlendSource
	BlendDestination
	BlendSourceOver // default
	BlendDestinationOver
	BlendSourceIn
	BlendDestinationIn
	BlendSourceOut
	BlendDestinationOut
	BlendSourceAtop
	BlendDestinationAtop
	BlendXor
	BlendPlus
	BlendModulate
)

func mulDiv255(a, b byte) byte {
	v := uint16(a) * uint16(b)
	return byte((v + 1 + (v >> 8)) >> 8)
}

func addDiv255(a, b byte) byte {
	v := uint16(a) + uint16(b)
	if v > 255 {
		return 255
	}
	return byte(v)
}

// Apply composites one premultiplied-alpha RGBA8 sample pair under this
// mode.
func (m BlendMode) Apply(sr, sg, sb, sa, dr, dg, db, da byte) (r, g, b, a byte) {
	switch m {
	case BlendClear:
		return 0, 0, 0, 0
	case BlendSource:
		return sr, sg, sb, sa
	case BlendDestination:
		return dr, dg, db, da
	case BlendSourceOver:
		invSa := 255 - sa
		return addDiv255(sr, mulDiv255(dr, invSa)),
			addDiv255(sg, mulDiv255(dg, invSa)),
			addDiv255(sb, mulDiv255(db, invSa)),
			addDiv255(sa, mulDiv255(da, invSa))
	case BlendDestinationOver:
		invDa := 255 - da
		return addDiv255(mulDiv255(sr, invDa), dr),
			addDiv255(mulDiv255(sg, invDa), dg),
			addDiv255(mulDiv255(sb, invDa), db),
			addDiv255(mulDiv255(sa, invDa), da)
	case BlendSourceIn:
		return mulDiv255(sr, da), mulDiv255(sg, da), mulDiv255(sb, da), mulDiv255(sa, da)
	case BlendDestinationIn:
		return mulDiv255(dr, sa), mulDiv255(dg, sa), mulDiv255(db, sa), mulDiv255(da, sa)
	case BlendSourceOut:
		invDa := 255 - da
		return mulDiv255(sr, invDa), mulDiv255(sg, invDa), mulDiv255(sb, invDa), mulDiv255(sa, invDa)
	case BlendDestinationOut:
		invSa := 255 - sa
		return mulDiv255(dr, invSa), mulDiv255(dg, invSa), mulDiv255(db, invSa), mulDiv255(da, invSa)
	case BlendSourceAtop:
		invSa := 255 - sa
		return addDiv255(mulDiv255(sr, da), mulDiv255(dr, invSa)),
			addDiv255(mulDiv255(sg, da), mulDiv255(dg, invSa)),
			addDiv255(mulDiv255(sb, da), mulDiv255(db, invSa)),
			addDiv255(mulDiv255(sa, da), mulDiv255(da, invSa))
	case BlendDestinationAtop:
		invDa := 255 - da
		return addDiv255(mulDiv255(sr, invDa), mulDiv255(dr, sa)),
			addDiv255(mulDiv255(sg, invDa), mulDiv255(dg, sa)),
			addDiv255(mulDiv255(sb, invDa), mulDiv255(db, sa)),
			addDiv255(mulDiv255(sa, invDa), mulDiv255(da, sa))
	case BlendXor:
		invSa, invDa := 255-sa, 255-da
		return addDiv255(mulDiv255(sr, invDa), mulDiv255(dr, invSa)),
			addDiv255(mulDiv255(sg, invDa), mulDiv255(dg, invSa)),
			addDiv255(mulDiv255(sb, invDa), mulDiv255(db, invSa)),
			addDiv255(mulDiv255(sa, invDa), mulDiv255(da, invSa))
	case BlendPlus:
		return addDiv255(sr, dr), addDiv255(sg, dg), addDiv255(sb, db), addDiv255(sa, da)
	case BlendModulate:
		return mulDiv255(sr, dr), mulDiv255(sg, dg), mulDiv255(sb, db), mulDiv255(sa, da)
	default:
		return BlendSourceOver.Apply(sr, sg, sb, sa, dr, dg, db, da)
	}
}
