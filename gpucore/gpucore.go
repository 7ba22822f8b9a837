// Package gpucore defines the minimal external graphics-API capability
// surface this engine's encoder and launcher drive. It re-exports the
// shapes of github.com/gogpu/wgpu/hal and github.com/gogpu/gputypes under
// short names so the rest of this module has one place to depend on, while
// every value that crosses the boundary remains a real hal/gputypes value
// a production backend can execute without translation.
package gpucore

import (
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

type (
	Instance = hal.Instance
	Adapter  = hal.Adapter
	Device   = hal.Device
	Queue    = hal.Queue

	CommandEncoder     = hal.CommandEncoder
	RenderPassEncoder  = hal.RenderPassEncoder
	ComputePassEncoder = hal.ComputePassEncoder

	Buffer          = hal.Buffer
	Texture         = hal.Texture
	TextureView     = hal.TextureView
	Sampler         = hal.Sampler
	ShaderModule    = hal.ShaderModule
	BindGroupLayout = hal.BindGroupLayout
	BindGroup       = hal.BindGroup
	PipelineLayout  = hal.PipelineLayout
	RenderPipeline  = hal.RenderPipeline
	ComputePipeline = hal.ComputePipeline
	Fence           = hal.Fence
	CommandBuffer   = hal.CommandBuffer

	BufferDescriptor       = hal.BufferDescriptor
	TextureDescriptor      = hal.TextureDescriptor
	TextureViewDescriptor  = hal.TextureViewDescriptor
	ShaderModuleDescriptor = hal.ShaderModuleDescriptor
	ShaderSource           = hal.ShaderSource

	BindGroupLayoutDescriptor = hal.BindGroupLayoutDescriptor
	BindGroupDescriptor       = hal.BindGroupDescriptor
	PipelineLayoutDescriptor  = hal.PipelineLayoutDescriptor
	PushConstantRange         = hal.PushConstantRange
	Range                     = hal.Range
	SamplerDescriptor         = hal.SamplerDescriptor

	RenderPipelineDescriptor = hal.RenderPipelineDescriptor
	VertexState              = hal.VertexState
	FragmentState            = hal.FragmentState

	CommandEncoderDescriptor  = hal.CommandEncoderDescriptor
	RenderPassDescriptor      = hal.RenderPassDescriptor
	RenderPassColorAttachment = hal.RenderPassColorAttachment

	BufferCopy        = hal.BufferCopy
	BufferTextureCopy = hal.BufferTextureCopy
	TextureCopy       = hal.TextureCopy
	ImageDataLayout   = hal.ImageDataLayout
	ImageCopyTexture  = hal.ImageCopyTexture
	Origin3D          = hal.Origin3D

	BindGroupLayoutEntry = gputypes.BindGroupLayoutEntry
	BindGroupEntry        = gputypes.BindGroupEntry
	BufferBindingLayout   = gputypes.BufferBindingLayout
	SamplerBindingLayout  = gputypes.SamplerBindingLayout
	TextureBindingLayout  = gputypes.TextureBindingLayout
	BufferBinding         = gputypes.BufferBinding
	SamplerBinding        = gputypes.SamplerBinding
	TextureViewBinding    = gputypes.TextureViewBinding

	ShaderStages    = gputypes.ShaderStages
	PrimitiveState  = gputypes.PrimitiveState
	MultisampleState = gputypes.MultisampleState
	ColorTargetState = gputypes.ColorTargetState
	BlendState       = gputypes.BlendState
	BlendComponent   = gputypes.BlendComponent

	VertexBufferLayout = gputypes.VertexBufferLayout
	VertexAttribute    = gputypes.VertexAttribute

	Features = gputypes.Features
	Limits   = gputypes.Limits

	TextureFormat = gputypes.TextureFormat
	BufferUsage   = gputypes.BufferUsage
	TextureUsage  = gputypes.TextureUsage
	Extent3D      = hal.Extent3D
	Color         = gputypes.Color
)

// Shader stage and blend constants used when constructing bind group
// layouts, pipeline layouts, and color target states.
const (
	ShaderStageVertex   = gputypes.ShaderStageVertex
	ShaderStageFragment = gputypes.ShaderStageFragment

	BufferBindingTypeUniform = gputypes.BufferBindingTypeUniform
	SamplerBindingTypeFiltering = gputypes.SamplerBindingTypeFiltering
	TextureSampleTypeFloat      = gputypes.TextureSampleTypeFloat
	TextureViewDimension2D      = gputypes.TextureViewDimension2D

	VertexStepModeVertex = gputypes.VertexStepModeVertex
	VertexFormatFloat32x2 = gputypes.VertexFormatFloat32x2

	PrimitiveTopologyTriangleStrip = gputypes.PrimitiveTopologyTriangleStrip
	FrontFaceCCW                   = gputypes.FrontFaceCCW
	CullModeNone                   = gputypes.CullModeNone

	LoadOpClear = gputypes.LoadOpClear
	LoadOpLoad  = gputypes.LoadOpLoad
	StoreOpStore = gputypes.StoreOpStore

	ColorWriteMaskAll = gputypes.ColorWriteMaskAll

	TextureUsageCopySrc          = gputypes.TextureUsageCopySrc
	TextureUsageCopyDst          = gputypes.TextureUsageCopyDst
	TextureUsageTextureBinding   = gputypes.TextureUsageTextureBinding
	TextureUsageRenderAttachment = gputypes.TextureUsageRenderAttachment

	TextureDimension2D = gputypes.TextureDimension2D
)

// Texture format constants this engine's MakeTextureFormat (package
// encode) maps descriptors onto.
const (
	TextureFormatUndefined      = gputypes.TextureFormatUndefined
	TextureFormatR8Unorm        = gputypes.TextureFormatR8Unorm
	TextureFormatRGBA8Unorm     = gputypes.TextureFormatRGBA8Unorm
	TextureFormatRGBA8UnormSrgb = gputypes.TextureFormatRGBA8UnormSrgb
	TextureFormatRGBA32Float    = gputypes.TextureFormatRGBA32Float
)

// Buffer/texture usage bit constants used when building BufferDescriptor
// and TextureDescriptor values.
const (
	BufferUsageMapRead  = gputypes.BufferUsageMapRead
	BufferUsageMapWrite = gputypes.BufferUsageMapWrite
	BufferUsageCopySrc  = gputypes.BufferUsageCopySrc
	BufferUsageCopyDst  = gputypes.BufferUsageCopyDst
	BufferUsageUniform  = gputypes.BufferUsageUniform
	BufferUsageStorage  = gputypes.BufferUsageStorage
	BufferUsageVertex   = gputypes.BufferUsageVertex
)

// OpenDevice bundles a device and its queue, exactly as hal.Adapter.Open
// returns them.
type OpenDevice = hal.OpenDevice

// Capabilities narrows an adapter's reported capabilities to the subset
// this engine's planner and launcher need to make decisions: whether
// compute is available at all, and the limits that bound how large a
// single allocation or dispatch may be.
type Capabilities struct {
	MaxBufferSize      uint64
	MaxTextureDimension uint32
	SupportsCompute    bool
}

// CapabilitiesFrom builds the engine's narrow Capabilities view from the
// given limit values. Backends that cannot report precise limits
// should pass zero, which FitsBuffer/FitsTexture treat as "unbounded".
func CapabilitiesFrom(maxBufferSize uint64, maxTextureDimension uint32, supportsCompute bool) Capabilities {
	return Capabilities{
		MaxBufferSize:       maxBufferSize,
		MaxTextureDimension: maxTextureDimension,
		SupportsCompute:     supportsCompute,
	}
}

// FitsBuffer reports whether a buffer of the given size can be allocated
// under these capabilities.
func (c Capabilities) FitsBuffer(size uint64) bool {
	return c.MaxBufferSize == 0 || size <= c.MaxBufferSize
}

// FitsTexture reports whether a texture of the given dimensions can be
// allocated under these capabilities.
func (c Capabilities) FitsTexture(width, height uint32) bool {
	if c.MaxTextureDimension == 0 {
		return true
	}
	return width <= c.MaxTextureDimension && height <= c.MaxTextureDimension
}
