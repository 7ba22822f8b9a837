// Package gputest is an in-memory implementation of github.com/gogpu/wgpu/hal
// used by this module's own tests in place of a real graphics backend. It
// performs the byte-level effect of each hal call (buffer writes, texture
// copies) against plain Go slices, so package tests can assert on actual
// pixel data without a GPU.
package gputest

import (
	"fmt"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Buffer is an in-memory hal.Buffer.
type Buffer struct {
	Data      []byte
	destroyed bool
}

func (b *Buffer) Destroy() { b.destroyed = true }

// Bytes returns the buffer's current contents, standing in for a real
// backend's map-for-read call. A production backend would implement the
// same narrow contract behind its own mapped-pointer handling.
func (b *Buffer) Bytes() []byte { return b.Data }

// Texture is an in-memory hal.Texture: a tightly packed byte image with a
// fixed bytes-per-pixel derived from its format at creation time.
type Texture struct {
	Width, Height uint32
	BytesPerPixel uint32
	Format        gputypes.TextureFormat
	Data          []byte
	destroyed     bool
}

func (t *Texture) Destroy() { t.destroyed = true }

func bytesPerPixel(format gputypes.TextureFormat) uint32 {
	switch format {
	case gputypes.TextureFormatR8Unorm:
		return 1
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb:
		return 4
	case gputypes.TextureFormatRGBA32Float:
		return 16
	default:
		return 4
	}
}

type TextureView struct{ Texture *Texture }

func (TextureView) Destroy() {}

type Sampler struct{}

func (Sampler) Destroy() {}

type ShaderModule struct{ Source hal.ShaderSource }

func (ShaderModule) Destroy() {}

type BindGroupLayout struct{}

func (BindGroupLayout) Destroy() {}

type BindGroup struct{}

func (BindGroup) Destroy() {}

type PipelineLayout struct{}

func (PipelineLayout) Destroy() {}

type RenderPipeline struct{}

func (RenderPipeline) Destroy() {}

type ComputePipeline struct{}

func (ComputePipeline) Destroy() {}

type Fence struct{ value uint64 }

func (*Fence) Destroy() {}

type CommandBuffer struct{}

func (CommandBuffer) Destroy() {}

// Device is an in-memory hal.Device. It allocates resources eagerly and
// never fails, which is sufficient for exercising this module's logic; it
// does not model device-lost or out-of-memory conditions.
type Device struct{}

func NewDevice() *Device { return &Device{} }

func (d *Device) CreateBuffer(desc *hal.BufferDescriptor) (hal.Buffer, error) {
	return &Buffer{Data: make([]byte, desc.Size)}, nil
}

func (d *Device) DestroyBuffer(buffer hal.Buffer) { buffer.Destroy() }

func (d *Device) CreateTexture(desc *hal.TextureDescriptor) (hal.Texture, error) {
	bpp := bytesPerPixel(desc.Format)
	return &Texture{
		Width:         desc.Size.Width,
		Height:        desc.Size.Height,
		BytesPerPixel: bpp,
		Format:        desc.Format,
		Data:          make([]byte, uint64(desc.Size.Width)*uint64(desc.Size.Height)*uint64(bpp)),
	}, nil
}

func (d *Device) DestroyTexture(texture hal.Texture) { texture.Destroy() }

func (d *Device) CreateTextureView(texture hal.Texture, desc *hal.TextureViewDescriptor) (hal.TextureView, error) {
	tex, _ := texture.(*Texture)
	return &TextureView{Texture: tex}, nil
}

func (d *Device) DestroyTextureView(view hal.TextureView) { view.Destroy() }

func (d *Device) CreateSampler(desc *hal.SamplerDescriptor) (hal.Sampler, error) {
	return &Sampler{}, nil
}

func (d *Device) DestroySampler(sampler hal.Sampler) { sampler.Destroy() }

func (d *Device) CreateBindGroupLayout(desc *hal.BindGroupLayoutDescriptor) (hal.BindGroupLayout, error) {
	return &BindGroupLayout{}, nil
}

func (d *Device) DestroyBindGroupLayout(layout hal.BindGroupLayout) { layout.Destroy() }

func (d *Device) CreateBindGroup(desc *hal.BindGroupDescriptor) (hal.BindGroup, error) {
	return &BindGroup{}, nil
}

func (d *Device) DestroyBindGroup(group hal.BindGroup) { group.Destroy() }

func (d *Device) CreatePipelineLayout(desc *hal.PipelineLayoutDescriptor) (hal.PipelineLayout, error) {
	return &PipelineLayout{}, nil
}

func (d *Device) DestroyPipelineLayout(layout hal.PipelineLayout) { layout.Destroy() }

func (d *Device) CreateShaderModule(desc *hal.ShaderModuleDescriptor) (hal.ShaderModule, error) {
	return &ShaderModule{Source: desc.Source}, nil
}

func (d *Device) DestroyShaderModule(module hal.ShaderModule) { module.Destroy() }

func (d *Device) CreateRenderPipeline(desc *hal.RenderPipelineDescriptor) (hal.RenderPipeline, error) {
	return &RenderPipeline{}, nil
}

func (d *Device) DestroyRenderPipeline(pipeline hal.RenderPipeline) { pipeline.Destroy() }

func (d *Device) CreateComputePipeline(desc *hal.ComputePipelineDescriptor) (hal.ComputePipeline, error) {
	return &ComputePipeline{}, nil
}

func (d *Device) DestroyComputePipeline(pipeline hal.ComputePipeline) { pipeline.Destroy() }

func (d *Device) CreateCommandEncoder(desc *hal.CommandEncoderDescriptor) (hal.CommandEncoder, error) {
	return &CommandEncoder{}, nil
}

func (d *Device) CreateFence() (hal.Fence, error) { return &Fence{}, nil }

func (d *Device) DestroyFence(fence hal.Fence) { fence.Destroy() }

func (d *Device) Wait(fence hal.Fence, value uint64, timeout time.Duration) (bool, error) {
	return true, nil
}

func (d *Device) Destroy() {}

// Queue is an in-memory hal.Queue performing writes synchronously.
type Queue struct{}

func NewQueue() *Queue { return &Queue{} }

func (q *Queue) Submit(commandBuffers []hal.CommandBuffer, fence hal.Fence, fenceValue uint64) error {
	if f, ok := fence.(*Fence); ok {
		f.value = fenceValue
	}
	return nil
}

func (q *Queue) WriteBuffer(buffer hal.Buffer, offset uint64, data []byte) {
	buf, ok := buffer.(*Buffer)
	if !ok {
		return
	}
	copy(buf.Data[offset:], data)
}

func (q *Queue) WriteTexture(dst *hal.ImageCopyTexture, data []byte, layout *hal.ImageDataLayout, size *hal.Extent3D) {
	tex, ok := dst.Texture.(*Texture)
	if !ok {
		return
	}
	rowBytes := uint64(size.Width) * uint64(tex.BytesPerPixel)
	stride := uint64(layout.BytesPerRow)
	if stride == 0 {
		stride = rowBytes
	}
	for row := uint32(0); row < size.Height; row++ {
		srcStart := layout.Offset + uint64(row)*stride
		dstStart := (uint64(dst.Origin.Y+row)*uint64(tex.Width) + uint64(dst.Origin.X)) * uint64(tex.BytesPerPixel)
		if srcStart+rowBytes > uint64(len(data)) || dstStart+rowBytes > uint64(len(tex.Data)) {
			continue
		}
		copy(tex.Data[dstStart:dstStart+rowBytes], data[srcStart:srcStart+rowBytes])
	}
}

func (q *Queue) Present(surface hal.Surface, texture hal.SurfaceTexture) error {
	return fmt.Errorf("gputest: Present is not supported by the in-memory fake")
}

func (q *Queue) GetTimestampPeriod() float32 { return 1 }

// CommandEncoder is an in-memory hal.CommandEncoder that performs copies
// immediately rather than deferring them to a submitted command buffer,
// since the fake queue has no real asynchrony to model.
type CommandEncoder struct {
	recording bool
}

func (e *CommandEncoder) BeginEncoding(label string) error {
	e.recording = true
	return nil
}

func (e *CommandEncoder) EndEncoding() (hal.CommandBuffer, error) {
	e.recording = false
	return &CommandBuffer{}, nil
}

func (e *CommandEncoder) DiscardEncoding() { e.recording = false }

func (e *CommandEncoder) ResetAll(commandBuffers []hal.CommandBuffer) {}

func (e *CommandEncoder) TransitionBuffers(barriers []hal.BufferBarrier)   {}
func (e *CommandEncoder) TransitionTextures(barriers []hal.TextureBarrier) {}

func (e *CommandEncoder) ClearBuffer(buffer hal.Buffer, offset, size uint64) {
	buf, ok := buffer.(*Buffer)
	if !ok {
		return
	}
	end := offset + size
	if end > uint64(len(buf.Data)) {
		end = uint64(len(buf.Data))
	}
	for i := offset; i < end; i++ {
		buf.Data[i] = 0
	}
}

func (e *CommandEncoder) CopyBufferToBuffer(src, dst hal.Buffer, regions []hal.BufferCopy) {
	s, sok := src.(*Buffer)
	d, dok := dst.(*Buffer)
	if !sok || !dok {
		return
	}
	for _, r := range regions {
		copy(d.Data[r.DstOffset:r.DstOffset+r.Size], s.Data[r.SrcOffset:r.SrcOffset+r.Size])
	}
}

func (e *CommandEncoder) CopyBufferToTexture(src hal.Buffer, dst hal.Texture, regions []hal.BufferTextureCopy) {
	s, sok := src.(*Buffer)
	d, dok := dst.(*Texture)
	if !sok || !dok {
		return
	}
	for _, r := range regions {
		rowBytes := uint64(r.Size.Width) * uint64(d.BytesPerPixel)
		stride := uint64(r.BufferLayout.BytesPerRow)
		if stride == 0 {
			stride = rowBytes
		}
		for row := uint32(0); row < r.Size.Height; row++ {
			srcStart := r.BufferLayout.Offset + uint64(row)*stride
			dstRow := r.TextureBase.Origin.Y + row
			dstStart := (uint64(dstRow)*uint64(d.Width) + uint64(r.TextureBase.Origin.X)) * uint64(d.BytesPerPixel)
			if srcStart+rowBytes > uint64(len(s.Data)) || dstStart+rowBytes > uint64(len(d.Data)) {
				continue
			}
			copy(d.Data[dstStart:dstStart+rowBytes], s.Data[srcStart:srcStart+rowBytes])
		}
	}
}

func (e *CommandEncoder) CopyTextureToBuffer(src hal.Texture, dst hal.Buffer, regions []hal.BufferTextureCopy) {
	s, sok := src.(*Texture)
	d, dok := dst.(*Buffer)
	if !sok || !dok {
		return
	}
	for _, r := range regions {
		rowBytes := uint64(r.Size.Width) * uint64(s.BytesPerPixel)
		stride := uint64(r.BufferLayout.BytesPerRow)
		if stride == 0 {
			stride = rowBytes
		}
		for row := uint32(0); row < r.Size.Height; row++ {
			srcRow := r.TextureBase.Origin.Y + row
			srcStart := (uint64(srcRow)*uint64(s.Width) + uint64(r.TextureBase.Origin.X)) * uint64(s.BytesPerPixel)
			dstStart := r.BufferLayout.Offset + uint64(row)*stride
			if srcStart+rowBytes > uint64(len(s.Data)) || dstStart+rowBytes > uint64(len(d.Data)) {
				continue
			}
			copy(d.Data[dstStart:dstStart+rowBytes], s.Data[srcStart:srcStart+rowBytes])
		}
	}
}

func (e *CommandEncoder) CopyTextureToTexture(src, dst hal.Texture, regions []hal.TextureCopy) {
	s, sok := src.(*Texture)
	d, dok := dst.(*Texture)
	if !sok || !dok {
		return
	}
	for _, r := range regions {
		rowBytes := uint64(r.Size.Width) * uint64(s.BytesPerPixel)
		for row := uint32(0); row < r.Size.Height; row++ {
			srcRow := r.SrcBase.Origin.Y + row
			dstRow := r.DstBase.Origin.Y + row
			srcStart := (uint64(srcRow)*uint64(s.Width) + uint64(r.SrcBase.Origin.X)) * uint64(s.BytesPerPixel)
			dstStart := (uint64(dstRow)*uint64(d.Width) + uint64(r.DstBase.Origin.X)) * uint64(d.BytesPerPixel)
			if srcStart+rowBytes > uint64(len(s.Data)) || dstStart+rowBytes > uint64(len(d.Data)) {
				continue
			}
			copy(d.Data[dstStart:dstStart+rowBytes], s.Data[srcStart:srcStart+rowBytes])
		}
	}
}

func (e *CommandEncoder) BeginRenderPass(desc *hal.RenderPassDescriptor) hal.RenderPassEncoder {
	return &renderPassEncoder{}
}

func (e *CommandEncoder) BeginComputePass(desc *hal.ComputePassDescriptor) hal.ComputePassEncoder {
	return &computePassEncoder{}
}

// renderPassEncoder and computePassEncoder are no-op recorders: this
// module never rasterizes through a real pipeline in its test suite (no
// shader source is compiled to a native executable format here), it only
// needs the state machine around BeginRenderPass/End to be exercised.
type renderPassEncoder struct{}

func (renderPassEncoder) End()                                                       {}
func (renderPassEncoder) SetPipeline(pipeline hal.RenderPipeline)                    {}
func (renderPassEncoder) SetBindGroup(index uint32, group hal.BindGroup, offsets []uint32) {}
func (renderPassEncoder) SetVertexBuffer(slot uint32, buffer hal.Buffer, offset uint64)    {}
func (renderPassEncoder) SetIndexBuffer(buffer hal.Buffer, format gputypes.IndexFormat, offset uint64) {
}
func (renderPassEncoder) SetViewport(x, y, width, height, minDepth, maxDepth float32) {}
func (renderPassEncoder) SetScissorRect(x, y, width, height uint32)                   {}
func (renderPassEncoder) SetBlendConstant(color *gputypes.Color)                      {}
func (renderPassEncoder) SetStencilReference(reference uint32)                        {}
func (renderPassEncoder) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
}
func (renderPassEncoder) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) {
}
func (renderPassEncoder) DrawIndirect(buffer hal.Buffer, offset uint64)         {}
func (renderPassEncoder) DrawIndexedIndirect(buffer hal.Buffer, offset uint64) {}
func (renderPassEncoder) ExecuteBundle(bundle hal.RenderBundle)                {}

type computePassEncoder struct{}

func (computePassEncoder) End()                                                    {}
func (computePassEncoder) SetPipeline(pipeline hal.ComputePipeline)               {}
func (computePassEncoder) SetBindGroup(index uint32, group hal.BindGroup, offsets []uint32) {}
func (computePassEncoder) Dispatch(x, y, z uint32)                                {}
func (computePassEncoder) DispatchIndirect(buffer hal.Buffer, offset uint64)      {}

// Adapter is a minimal in-memory hal.Adapter that always opens the same
// Device/Queue pair.
type Adapter struct{}

func (Adapter) Open(features gputypes.Features, limits gputypes.Limits) (hal.OpenDevice, error) {
	return hal.OpenDevice{Device: NewDevice(), Queue: NewQueue()}, nil
}

func (Adapter) TextureFormatCapabilities(format gputypes.TextureFormat) hal.TextureFormatCapabilities {
	return hal.TextureFormatCapabilities{}
}

func (Adapter) SurfaceCapabilities(surface hal.Surface) *hal.SurfaceCapabilities { return nil }

func (Adapter) Destroy() {}
