package pool

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/imgcompile/descriptor"
	"github.com/gogpu/imgcompile/internal/gputest"
)

// failingAdapter always refuses to open a device, standing in for a real
// adapter that cannot support the requested feature/limit configuration.
type failingAdapter struct{}

func (failingAdapter) Open(gputypes.Features, gputypes.Limits) (hal.OpenDevice, error) {
	return hal.OpenDevice{}, errors.New("unsupported configuration")
}
func (failingAdapter) TextureFormatCapabilities(gputypes.TextureFormat) hal.TextureFormatCapabilities {
	return hal.TextureFormatCapabilities{}
}
func (failingAdapter) SurfaceCapabilities(hal.Surface) *hal.SurfaceCapabilities { return nil }
func (failingAdapter) Destroy()                                                {}

func rgba8(w, h uint32) descriptor.Descriptor {
	return descriptor.Descriptor{
		Layout: descriptor.BufferLayout{Width: w, Height: h, BytesPerTexel: 4},
		Texel:  descriptor.Texel{Block: descriptor.BlockPixel, Samples: descriptor.Samples{Parts: descriptor.PartsRGBA, Bits: descriptor.Int8x4}},
	}
}

func TestInsertAndImage(t *testing.T) {
	p := New()
	desc := rgba8(2, 2)
	data := make([]byte, desc.Layout.ByteLen())
	key, err := p.Insert(desc, data)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	entry, ok := p.Image(key)
	if !ok {
		t.Fatal("Image(key) not found")
	}
	if _, ok := entry.Data.(HostData); !ok {
		t.Fatalf("expected HostData, got %T", entry.Data)
	}
}

func TestInsertRejectsInconsistentDescriptor(t *testing.T) {
	p := New()
	desc := rgba8(2, 2)
	desc.Layout.BytesPerTexel = 7
	_, err := p.Insert(desc, make([]byte, 100))
	if !errors.Is(err, ErrBadDescriptor) {
		t.Fatalf("Insert with inconsistent descriptor: got %v, want ErrBadDescriptor", err)
	}
}

func TestInsertRejectsWrongByteLength(t *testing.T) {
	p := New()
	desc := rgba8(2, 2)
	_, err := p.Insert(desc, make([]byte, 3))
	if !errors.Is(err, ErrBadImage) {
		t.Fatalf("Insert with wrong byte length: got %v, want ErrBadImage", err)
	}
}

func TestDeclareThenUploadWithoutDataFails(t *testing.T) {
	p := New()
	key := p.Declare(rgba8(2, 2))
	p.SelectDevice(gputest.Adapter{}, gputest.NewDevice(), gputest.NewQueue())
	err := p.Upload(key)
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("Upload of LateBound image: got %v, want ErrNoData", err)
	}
}

func TestUploadInactiveGpu(t *testing.T) {
	p := New()
	desc := rgba8(2, 2)
	key, _ := p.Insert(desc, make([]byte, desc.Layout.ByteLen()))
	err := p.Upload(key)
	if !errors.Is(err, ErrInactiveGpu) {
		t.Fatalf("Upload with no device selected: got %v, want ErrInactiveGpu", err)
	}
}

func TestAllocateLikeCopiesHostBytes(t *testing.T) {
	p := New()
	desc := rgba8(2, 2)
	data := make([]byte, desc.Layout.ByteLen())
	for i := range data {
		data[i] = byte(i + 1)
	}
	src, _ := p.Insert(desc, data)
	dst, err := p.AllocateLike(src)
	if err != nil {
		t.Fatalf("AllocateLike: %v", err)
	}
	entry, _ := p.Image(dst)
	host := entry.Data.(HostData)
	for i, b := range host.Bytes {
		if b != data[i] {
			t.Fatalf("byte %d = %d, want %d", i, b, data[i])
		}
	}
}

func TestRequestDeviceSelectsDevice(t *testing.T) {
	p := New()
	gen, err := p.RequestDevice(gputest.Adapter{}, DeviceDescriptor{Label: "test"})
	if err != nil {
		t.Fatalf("RequestDevice: %v", err)
	}
	if gen != p.CurrentGpuKey() {
		t.Fatalf("RequestDevice returned generation %d, Pool reports %d", gen, p.CurrentGpuKey())
	}
	if _, err := p.BorrowDevice(); err != nil {
		t.Fatalf("BorrowDevice after RequestDevice: %v", err)
	}
}

func TestRequestDeviceFailureWrapsAdapterError(t *testing.T) {
	p := New()
	_, err := p.RequestDevice(failingAdapter{}, DeviceDescriptor{})
	var reqErr *RequestDeviceError
	if !errors.As(err, &reqErr) {
		t.Fatalf("RequestDevice with failing adapter: got %v, want *RequestDeviceError", err)
	}
}

func TestRequestDeviceRejectsNilAdapter(t *testing.T) {
	p := New()
	_, err := p.RequestDevice(nil, DeviceDescriptor{})
	var reqErr *RequestDeviceError
	if !errors.As(err, &reqErr) {
		t.Fatalf("RequestDevice with nil adapter: got %v, want *RequestDeviceError", err)
	}
}

func TestBorrowDeviceRejectsDoubleBorrow(t *testing.T) {
	p := New()
	p.SelectDevice(gputest.Adapter{}, gputest.NewDevice(), gputest.NewQueue())
	gpu, err := p.BorrowDevice()
	if err != nil {
		t.Fatalf("first BorrowDevice: %v", err)
	}
	if _, err := p.BorrowDevice(); !errors.Is(err, ErrInactiveGpu) {
		t.Fatalf("second BorrowDevice: got %v, want ErrInactiveGpu", err)
	}
	p.ReturnDevice(gpu)
	if _, err := p.BorrowDevice(); err != nil {
		t.Fatalf("BorrowDevice after ReturnDevice: %v", err)
	}
}
