// Package program turns a finished command.CommandBuffer into a Program:
// a validated graph plus a plan for the virtual buffers that will back
// each register, without yet committing to a specific device's low-level
// instruction set. That last step happens at launch, once a device's
// capabilities are known.
package program

import (
	"fmt"

	"github.com/gogpu/imgcompile/command"
)

// BufferID names one virtual image buffer in a Program's plan. Distinct
// registers with non-overlapping lifetimes may share the same BufferID.
type BufferID int

// TextureID names one virtual GPU texture in a Program's plan. Unlike
// BufferID, a TextureID is never shared between registers: the planner
// always allocates a fresh one per register and no pass deduplicates
// them, matching the original engine's texture-planning rule.
type TextureID int

// ImageBufferPlan assigns every register in a command graph to a virtual
// buffer slot, reusing slots across registers whose live ranges do not
// overlap the way a linear-scan register allocator reuses machine
// registers, and to a virtual texture slot, which is always freshly
// allocated.
type ImageBufferPlan struct {
	assignment []BufferID
	capacity   []uint64
	textures   []TextureID
}

// BufferFor returns the buffer slot assigned to r.
func (p ImageBufferPlan) BufferFor(r command.Register) BufferID {
	return p.assignment[r]
}

// NumBuffers returns the number of distinct virtual buffers the plan
// allocated.
func (p ImageBufferPlan) NumBuffers() int {
	return len(p.capacity)
}

// Capacity returns the largest byte length any register assigned to id
// requires, the size a real allocation of that buffer must have.
func (p ImageBufferPlan) Capacity(id BufferID) uint64 {
	return p.capacity[id]
}

// TextureFor returns the virtual texture slot assigned to r. Every
// register has its own TextureID; none is ever shared with another
// register.
func (p ImageBufferPlan) TextureFor(r command.Register) TextureID {
	return p.textures[r]
}

// NumTextures returns the number of virtual textures the plan allocated,
// always equal to the number of registers in the graph it was planned
// from.
func (p ImageBufferPlan) NumTextures() int {
	return len(p.textures)
}

// liveRange is the inclusive span of op indices during which a register's
// value must remain readable: from its own definition up to the last op
// that consumes it, or through the end of the graph if it is an output.
type liveRange struct {
	start, end int
}

// planBuffers computes an ImageBufferPlan for cb by a single linear scan:
// each op's operands have their live range extended to the op's own
// index, registers declared as outputs are held live through the last op,
// and buffer slots are handed out in definition order, reused as soon as
// the register previously holding them is no longer live.
func planBuffers(cb *command.CommandBuffer) ImageBufferPlan {
	n := cb.NumRegisters()
	ranges := make([]liveRange, n)
	for r := 0; r < n; r++ {
		ranges[r] = liveRange{start: r, end: r}
	}
	for j := 0; j < n; j++ {
		for _, in := range cb.Inputs(command.Register(j)) {
			if j > ranges[in].end {
				ranges[in].end = j
			}
		}
	}
	last := n - 1
	for _, out := range cb.Outputs() {
		if ranges[out].end < last {
			ranges[out].end = last
		}
	}

	plan := ImageBufferPlan{
		assignment: make([]BufferID, n),
		capacity:   nil,
		textures:   make([]TextureID, n),
	}

	type active struct {
		id  BufferID
		end int
	}
	var activeList []active
	var free []BufferID

	for r := 0; r < n; r++ {
		plan.textures[r] = TextureID(r)
		remaining := activeList[:0]
		for _, a := range activeList {
			if a.end < r {
				free = append(free, a.id)
			} else {
				remaining = append(remaining, a)
			}
		}
		activeList = remaining

		need := cb.Descriptor(command.Register(r)).Layout.ByteLen()
		var id BufferID
		if len(free) > 0 {
			id = free[len(free)-1]
			free = free[:len(free)-1]
			if need > plan.capacity[id] {
				plan.capacity[id] = need
			}
		} else {
			id = BufferID(len(plan.capacity))
			plan.capacity = append(plan.capacity, need)
		}

		plan.assignment[r] = id
		activeList = append(activeList, active{id: id, end: ranges[r].end})
	}

	return plan
}

// CostModel estimates the relative cost of plan alternatives in units of
// "one host-memory page copy", following the original engine's approach
// of expressing every other cost as a multiple of that baseline.
type CostModel struct {
	// CPUOverheadMul4x4 is the additional cost of a 4x4 matrix multiply
	// layered on top of a copy, e.g. for an Affine op evaluated on the
	// CPU.
	CPUOverheadMul4x4 float32
	// GPUDefaultTx is the cost of transferring one page to the default
	// GPU.
	GPUDefaultTx float32
	// GPUDefaultRx is the cost of transferring one page from the default
	// GPU.
	GPUDefaultRx float32
	// GPULatency is the fixed latency of scheduling anything on the GPU,
	// independent of its size.
	GPULatency float32
}

// DefaultCostModel returns the cost model's baseline values: a 4x4
// multiply costs a fifth of a copy, GPU transfer in either direction
// costs four copies, and scheduling latency costs two.
func DefaultCostModel() CostModel {
	return CostModel{
		CPUOverheadMul4x4: 0.2,
		GPUDefaultTx:      4.0,
		GPUDefaultRx:      4.0,
		GPULatency:        2.0,
	}
}

// Program is a planned and intrinsically validated command graph. It does
// not yet commit to a low-level instruction set flavor; that selection
// happens during launch, based on the available device's capabilities.
type Program struct {
	cb   *command.CommandBuffer
	plan ImageBufferPlan
	cost CostModel
}

// CommandBuffer returns the command graph this program was compiled from.
func (p *Program) CommandBuffer() *command.CommandBuffer { return p.cb }

// Plan returns the virtual buffer assignment computed for this program.
func (p *Program) Plan() ImageBufferPlan { return p.plan }

// CostModel returns the cost model this program was compiled with.
func (p *Program) CostModel() CostModel { return p.cost }

// Compile validates cb and plans its virtual buffer assignment under
// cost, returning a Program ready to be launched against a pool.
func Compile(cb *command.CommandBuffer, cost CostModel) (*Program, error) {
	for r := 0; r < cb.NumRegisters(); r++ {
		for _, in := range cb.Inputs(command.Register(r)) {
			if int(in) >= r {
				return nil, &command.CompileError{
					Op:      "Compile",
					Message: fmt.Sprintf("register %d references register %d, which is not yet defined", r, in),
				}
			}
		}
	}
	if len(cb.Outputs()) == 0 {
		return nil, &command.CompileError{Op: "Compile", Message: "command buffer declares no outputs"}
	}
	return &Program{
		cb:   cb,
		plan: planBuffers(cb),
		cost: cost,
	}, nil
}
