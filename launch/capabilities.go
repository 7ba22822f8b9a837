package launch

import "github.com/gogpu/imgcompile/gpucore"

// Requirement names what a compiled program needs from a device: the
// largest single buffer and texture dimension any register's descriptor
// implies, and whether any op in the graph needs compute dispatch.
type Requirement struct {
	MinBufferSize       uint64
	MinTextureDimension uint32
	NeedsCompute        bool
}

// ChooseAdapter returns the index of the first entry in caps that
// satisfies req, or MismatchError if none does.
func ChooseAdapter(caps []gpucore.Capabilities, req Requirement) (int, error) {
	for i, c := range caps {
		if req.NeedsCompute && !c.SupportsCompute {
			continue
		}
		if !c.FitsBuffer(req.MinBufferSize) {
			continue
		}
		if !c.FitsTexture(req.MinTextureDimension, req.MinTextureDimension) {
			continue
		}
		return i, nil
	}
	return -1, &MismatchError{Message: "no available adapter satisfies the program's requirements"}
}
