// Package pool owns image data and GPU resources across the lifetime of a
// compiled program's execution. A Pool holds host-resident and
// GPU-resident image buffers, a cache of reusable GPU resources (buffers,
// textures, shaders, pipelines), and at most one borrowed graphics device.
//
// Pool performs no internal synchronization: like the resource pools in
// the teacher's native backend, it is owned by a single command-recording
// caller at a time.
package pool

import (
	"fmt"

	"github.com/gogpu/imgcompile/descriptor"
	"github.com/gogpu/imgcompile/gpucore"
	"github.com/gogpu/imgcompile/internal/slotkey"
)

// ImageKey addresses an image entry in a Pool.
type ImageKey = slotkey.Key

// GpuKey tags a GPU resource with the device generation that created it.
// A resource's GpuKey is compared against the Pool's current device
// generation before reuse, so resources created under a device that has
// since been released are never mistaken for live ones.
type GpuKey uint64

// ImageMeta is the descriptor an image entry was declared or uploaded
// with.
type ImageMeta struct {
	Descriptor descriptor.Descriptor
}

// ImageData is the storage backing one image entry: host bytes, a GPU
// buffer, a GPU texture, or no data yet (LateBound).
type ImageData interface {
	isImageData()
}

// HostData is image data resident in host memory.
type HostData struct {
	Bytes []byte
}

func (HostData) isImageData() {}

// GpuBufferData is image data resident in a GPU buffer. Stride is the
// row-aligned byte stride the buffer was allocated with, which may exceed
// Layout.Width*Layout.BytesPerTexel.
type GpuBufferData struct {
	Buffer gpucore.Buffer
	Stride uint64
	Gpu    GpuKey
}

func (GpuBufferData) isImageData() {}

// GpuTextureData is image data resident in a GPU texture.
type GpuTextureData struct {
	Texture gpucore.Texture
	Gpu     GpuKey
}

func (GpuTextureData) isImageData() {}

// LateBoundData marks an image entry that has been declared (its
// descriptor is known) but has no data bound to it yet. Operations that
// read a LateBound image fail with ErrNoData.
type LateBoundData struct{}

func (LateBoundData) isImageData() {}

// ImageEntry is one image owned by a Pool.
type ImageEntry struct {
	Meta ImageMeta
	Data ImageData
}

// GPU is a device borrowed from a Pool for the duration of an operation
// that needs to talk to the graphics API.
type GPU struct {
	Key     GpuKey
	Adapter gpucore.Adapter
	Device  gpucore.Device
	Queue   gpucore.Queue
}

// Pool owns image data and GPU resources for one compiled program's
// execution. The zero value is not usable; construct with New.
type Pool struct {
	images *slotkey.Map[*ImageEntry]

	cache *Cache

	device     *GPU  // non-nil and Active, or nil (Inactive / never acquired)
	borrowed   bool  // true while a GPU handle is on loan via BorrowDevice
	nextGpuGen GpuKey
}

// New returns an empty Pool.
func New() *Pool {
	return &Pool{
		images: slotkey.New[*ImageEntry](),
	}
}

// Declare allocates an image entry for the given descriptor with no data
// bound yet (LateBound). The descriptor must be internally consistent;
// an inconsistent descriptor is a caller programming error, so Declare
// panics rather than returning an error, matching the original
// implementation's assert-on-construction discipline.
func (p *Pool) Declare(desc descriptor.Descriptor) ImageKey {
	if !desc.IsConsistent() {
		panic(fmt.Sprintf("pool: Declare called with inconsistent descriptor %+v", desc))
	}
	return p.images.Insert(&ImageEntry{
		Meta: ImageMeta{Descriptor: desc},
		Data: LateBoundData{},
	})
}

// Insert allocates an image entry with host data already bound.
func (p *Pool) Insert(desc descriptor.Descriptor, data []byte) (ImageKey, error) {
	if !desc.IsConsistent() {
		return ImageKey{}, uploadErr(ErrBadDescriptor, "Insert")
	}
	if uint64(len(data)) != desc.Layout.ByteLen() {
		return ImageKey{}, uploadErr(ErrBadImage, fmt.Sprintf("Insert: data length %d does not match descriptor byte length %d", len(data), desc.Layout.ByteLen()))
	}
	return p.images.Insert(&ImageEntry{
		Meta: ImageMeta{Descriptor: desc},
		Data: HostData{Bytes: data},
	}), nil
}

// InsertSRGB is Insert with the descriptor's color transfer function
// forced to sRGB, a convenience matching the original's insert_srgb.
func (p *Pool) InsertSRGB(desc descriptor.Descriptor, data []byte) (ImageKey, error) {
	desc.Color.Transfer = descriptor.TransferSrgb
	return p.Insert(desc, data)
}

// Image returns the entry addressed by key.
func (p *Pool) Image(key ImageKey) (*ImageEntry, bool) {
	e, ok := p.images.Get(key)
	if !ok {
		return nil, false
	}
	return e, true
}

// AllocateLike allocates a new host-resident image entry with the same
// descriptor as src, copying src's bytes when src is itself host-resident.
// A GPU- or late-bound source allocates a zeroed buffer of the same shape.
func (p *Pool) AllocateLike(src ImageKey) (ImageKey, error) {
	entry, ok := p.Image(src)
	if !ok {
		return ImageKey{}, uploadErr(ErrBadImage, "AllocateLike")
	}
	size := entry.Meta.Descriptor.Layout.ByteLen()
	buf := make([]byte, size)
	if host, ok := entry.Data.(HostData); ok {
		copy(buf, host.Bytes)
	}
	return p.images.Insert(&ImageEntry{
		Meta: entry.Meta,
		Data: HostData{Bytes: buf},
	}), nil
}

// RemoveImage evicts an image entry, returning its data for reuse by the
// caller if it was present.
func (p *Pool) RemoveImage(key ImageKey) (*ImageEntry, bool) {
	return p.images.Remove(key)
}

// RequestDeviceError reports that opening a device from an adapter failed,
// either because the adapter was missing or because it rejected the
// requested feature/limit configuration.
type RequestDeviceError struct {
	Message string
}

func (e *RequestDeviceError) Error() string {
	return fmt.Sprintf("pool: request device: %s", e.Message)
}

// DeviceDescriptor is the feature and limit configuration a caller wants
// from a device opened out of an adapter, mirroring hal.Adapter.Open's
// parameters.
type DeviceDescriptor struct {
	Label    string
	Features gpucore.Features
	Limits   gpucore.Limits
}

// RequestDevice opens adapter with desc's features and limits and makes
// the resulting device/queue pair the Pool's active device. It is the
// counterpart to SelectDevice for callers that hold only an adapter and
// have not already opened a device themselves.
func (p *Pool) RequestDevice(adapter gpucore.Adapter, desc DeviceDescriptor) (GpuKey, error) {
	if adapter == nil {
		return 0, &RequestDeviceError{Message: "adapter is nil"}
	}
	opened, err := adapter.Open(desc.Features, desc.Limits)
	if err != nil {
		return 0, &RequestDeviceError{Message: fmt.Sprintf("adapter.Open(%q): %v", desc.Label, err)}
	}
	return p.SelectDevice(adapter, opened.Device, opened.Queue), nil
}

// SelectDevice makes the given adapter/device/queue the Pool's active
// device, assigning it a fresh generation. Any resources cached under a
// previous device generation remain in the cache but are stale: future
// lookups must compare GpuKey and fall back to recreation.
func (p *Pool) SelectDevice(adapter gpucore.Adapter, device gpucore.Device, queue gpucore.Queue) GpuKey {
	p.nextGpuGen++
	gen := p.nextGpuGen
	p.device = &GPU{Key: gen, Adapter: adapter, Device: device, Queue: queue}
	p.borrowed = false
	return gen
}

// BorrowDevice swaps the Pool's device state from Active to Inactive and
// returns it, the same ownership-transfer pattern the original
// implementation uses to let exactly one in-flight operation touch the
// device at a time. Returns ErrInactiveGpu if no device has been selected
// or the device is already on loan.
func (p *Pool) BorrowDevice() (*GPU, error) {
	if p.device == nil || p.borrowed {
		return nil, uploadErr(ErrInactiveGpu, "BorrowDevice")
	}
	p.borrowed = true
	return p.device, nil
}

// ReturnDevice returns a GPU previously obtained from BorrowDevice,
// restoring the Pool's device state to Active.
func (p *Pool) ReturnDevice(gpu *GPU) {
	if gpu == nil || p.device == nil || gpu.Key != p.device.Key {
		return
	}
	p.borrowed = false
}

// CurrentGpuKey returns the active device's generation, or 0 if no device
// is selected.
func (p *Pool) CurrentGpuKey() GpuKey {
	if p.device == nil {
		return 0
	}
	return p.device.Key
}

// Upload moves an image's data onto the GPU, allocating a device buffer
// sized to the descriptor's 256-byte-aligned row stride and copying any
// host bytes into it via the queue's write-buffer convenience call.
//
// Upload is a no-op if the image is already resident on the current
// device generation. It fails with ErrNoData if the image is LateBound,
// ErrBadDescriptor if the layout cannot be aligned, and ErrInactiveGpu if
// no device is selected or the device is already borrowed by another
// in-flight operation.
func (p *Pool) Upload(key ImageKey) error {
	entry, ok := p.Image(key)
	if !ok {
		return uploadErr(ErrBadImage, "Upload")
	}

	if buf, ok := entry.Data.(GpuBufferData); ok && p.device != nil && buf.Gpu == p.device.Key {
		return nil
	}

	host, ok := entry.Data.(HostData)
	if !ok {
		if _, late := entry.Data.(LateBoundData); late {
			return uploadErr(ErrNoData, "Upload")
		}
	}

	gpu, err := p.BorrowDevice()
	if err != nil {
		return err
	}
	defer p.ReturnDevice(gpu)

	layout := entry.Meta.Descriptor.Layout
	_, stride, err := layout.ToAligned()
	if err != nil {
		return uploadErr(ErrBadDescriptor, "Upload")
	}

	size := stride * uint64(layout.Height)
	buffer, err := gpu.Device.CreateBuffer(&gpucore.BufferDescriptor{
		Label: "pool.image",
		Size:  size,
		Usage: gpucore.BufferUsageCopySrc | gpucore.BufferUsageCopyDst,
	})
	if err != nil {
		return uploadErr(ErrBadGpu, fmt.Sprintf("Upload: CreateBuffer: %v", err))
	}

	if ok {
		rowBytes := uint64(layout.Width) * uint64(layout.BytesPerTexel)
		if stride == rowBytes {
			gpu.Queue.WriteBuffer(buffer, 0, host.Bytes)
		} else {
			padded := make([]byte, size)
			for row := uint32(0); row < layout.Height; row++ {
				src := host.Bytes[uint64(row)*rowBytes : uint64(row+1)*rowBytes]
				dst := padded[uint64(row)*stride : uint64(row)*stride+rowBytes]
				copy(dst, src)
			}
			gpu.Queue.WriteBuffer(buffer, 0, padded)
		}
	}

	entry.Data = GpuBufferData{Buffer: buffer, Stride: stride, Gpu: gpu.Key}
	return nil
}

// AsCache returns the Pool's GPU resource cache, bound to the Pool's
// current device generation. Resources left over from a previous
// generation are dropped (not destroyed; their device is already gone)
// the first time AsCache observes the generation has advanced.
func (p *Pool) AsCache() *Cache {
	gen := p.CurrentGpuKey()
	if p.cache == nil || p.cache.gpu != gen {
		p.cache = newCache(gen)
	}
	return p.cache
}

// ClearCache destroys every cached GPU resource and empties the cache.
// Image entries are left untouched.
func (p *Pool) ClearCache() {
	if p.cache != nil {
		p.cache.destroyAll()
	}
	p.cache = nil
}
