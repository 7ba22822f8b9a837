package pool

import "github.com/gogpu/imgcompile/gpucore"

// Cache is a per-device-generation store of reusable GPU resources,
// returned by Pool.AsCache. Buffers and textures are checked out and back
// in by descriptor: ExtractBuffer/ExtractTexture pop a free resource
// matching a requested shape for the caller to use, and InsertBuffer/
// InsertTexture return it (or a newly created one) to the free list once
// the caller is done with it, so the next encoding pass can reuse it
// instead of asking the device to allocate again. Shaders and pipelines
// are looked up by a caller-chosen identity instead: they are compiled
// once and read concurrently by every render pass for the life of a
// device generation, so lookup does not remove them from the cache.
type Cache struct {
	gpu GpuKey

	buffers  map[bufferCacheKey][]gpucore.Buffer
	textures map[textureCacheKey][]gpucore.Texture

	shaders   map[string]gpucore.ShaderModule
	pipelines map[string]gpucore.RenderPipeline
}

type bufferCacheKey struct {
	size  uint64
	usage gpucore.BufferUsage
}

type textureCacheKey struct {
	width, height uint32
	format        gpucore.TextureFormat
	usage         gpucore.TextureUsage
}

func newCache(gpu GpuKey) *Cache {
	return &Cache{
		gpu:       gpu,
		buffers:   make(map[bufferCacheKey][]gpucore.Buffer),
		textures:  make(map[textureCacheKey][]gpucore.Texture),
		shaders:   make(map[string]gpucore.ShaderModule),
		pipelines: make(map[string]gpucore.RenderPipeline),
	}
}

// ExtractBuffer pops a free buffer of exactly the requested size and usage
// out of the cache, reporting ok=false if none is available.
func (c *Cache) ExtractBuffer(size uint64, usage gpucore.BufferUsage) (gpucore.Buffer, bool) {
	key := bufferCacheKey{size: size, usage: usage}
	free := c.buffers[key]
	if len(free) == 0 {
		var zero gpucore.Buffer
		return zero, false
	}
	buf := free[len(free)-1]
	c.buffers[key] = free[:len(free)-1]
	return buf, true
}

// InsertBuffer returns a buffer of the given size and usage to the free
// list, available to a later ExtractBuffer call with the same key.
func (c *Cache) InsertBuffer(buf gpucore.Buffer, size uint64, usage gpucore.BufferUsage) {
	key := bufferCacheKey{size: size, usage: usage}
	c.buffers[key] = append(c.buffers[key], buf)
}

// ExtractTexture pops a free texture of exactly the requested shape out of
// the cache, reporting ok=false if none is available.
func (c *Cache) ExtractTexture(width, height uint32, format gpucore.TextureFormat, usage gpucore.TextureUsage) (gpucore.Texture, bool) {
	key := textureCacheKey{width: width, height: height, format: format, usage: usage}
	free := c.textures[key]
	if len(free) == 0 {
		var zero gpucore.Texture
		return zero, false
	}
	tex := free[len(free)-1]
	c.textures[key] = free[:len(free)-1]
	return tex, true
}

// InsertTexture returns a texture of the given shape to the free list.
func (c *Cache) InsertTexture(tex gpucore.Texture, width, height uint32, format gpucore.TextureFormat, usage gpucore.TextureUsage) {
	key := textureCacheKey{width: width, height: height, format: format, usage: usage}
	c.textures[key] = append(c.textures[key], tex)
}

// ShaderByIdentity looks up a previously cached shader module by the
// caller's identity string (typically a hash or name of its source),
// without removing it from the cache.
func (c *Cache) ShaderByIdentity(identity string) (gpucore.ShaderModule, bool) {
	mod, ok := c.shaders[identity]
	return mod, ok
}

// InsertShader caches a shader module under identity for later reuse.
func (c *Cache) InsertShader(identity string, mod gpucore.ShaderModule) {
	c.shaders[identity] = mod
}

// PipelineByIdentity looks up a previously cached render pipeline by the
// caller's identity string, without removing it from the cache.
func (c *Cache) PipelineByIdentity(identity string) (gpucore.RenderPipeline, bool) {
	pipe, ok := c.pipelines[identity]
	return pipe, ok
}

// InsertPipeline caches a render pipeline under identity for later reuse.
func (c *Cache) InsertPipeline(identity string, pipe gpucore.RenderPipeline) {
	c.pipelines[identity] = pipe
}

// destroyAll releases every resource still held by this cache: buffers and
// textures sitting in a free list (a checked-out one is the caller's
// responsibility), and the shaders and pipelines indexed by identity.
func (c *Cache) destroyAll() {
	for _, free := range c.buffers {
		for _, buf := range free {
			if buf != nil {
				buf.Destroy()
			}
		}
	}
	for _, free := range c.textures {
		for _, tex := range free {
			if tex != nil {
				tex.Destroy()
			}
		}
	}
	for _, mod := range c.shaders {
		if mod != nil {
			mod.Destroy()
		}
	}
	for _, pipe := range c.pipelines {
		if pipe != nil {
			pipe.Destroy()
		}
	}
}
