package gpu

import (
	"fmt"
	"sync"
)

const DefaultMaxIdleFrames = 3

type CachedTexture struct {
	Texture TextureID
	View    TextureViewID
	Desc    TextureDescriptor
}

type cacheEntry struct {
	texture   CachedTexture
	taken     bool
	idleCount int
}

type CacheStats struct {
	Entries     int
	Taken       int
	Allocations uint64
	Hits        uint64
	Evictions   uint64
}

// TextureCache pools textures by descriptor. Textures are leased by Get for
// the current frame and return to the pool on EndFrame; entries unused for
// MaxIdleFrames consecutive frames are destroyed.
type TextureCache struct {
	mu            sync.Mutex
	device        Device
	maxIdleFrames int
	entries       map[TextureDescriptor][]*cacheEntry
	stats         CacheStats
}

func NewTextureCache(device Device, maxIdleFrames int) *TextureCache {
	if maxIdleFrames <= 0 {
		maxIdleFrames = DefaultMaxIdleFrames
	}
	return &TextureCache{
		device:        device,
		maxIdleFrames: maxIdleFrames,
		entries:       make(map[TextureDescriptor][]*cacheEntry),
	}
}

func cacheKey(desc TextureDescriptor) TextureDescriptor {
	desc.Label = ""
	if desc.MipLevelCount == 0 {
		desc.MipLevelCount = 1
	}
	if desc.SampleCount == 0 {
		desc.SampleCount = 1
	}
	if desc.Size.DepthOrArrayLayers == 0 {
		desc.Size.DepthOrArrayLayers = 1
	}
	return desc
}

// Get returns an idle texture matching desc or allocates a new one. The
// label is not part of the match.
func (c *TextureCache) Get(desc TextureDescriptor) (CachedTexture, error) {
	key := cacheKey(desc)

	c.mu.Lock()
	for _, e := range c.entries[key] {
		if !e.taken {
			e.taken = true
			e.idleCount = 0
			c.stats.Hits++
			c.mu.Unlock()
			return e.texture, nil
		}
	}
	c.mu.Unlock()

	// Allocate outside the lock; the new entry is taken from the start so no
	// other caller can see it this frame.
	alloc := key
	alloc.Label = desc.Label
	tex, err := c.device.CreateTexture(&alloc)
	if err != nil {
		return CachedTexture{}, fmt.Errorf("%w: texture %q: %w", ErrAllocation, desc.Label, err)
	}
	view, err := c.device.CreateTextureView(tex)
	if err != nil {
		c.device.DestroyTexture(tex)
		return CachedTexture{}, fmt.Errorf("%w: view of %q: %w", ErrAllocation, desc.Label, err)
	}
	entry := &cacheEntry{
		texture: CachedTexture{Texture: tex, View: view, Desc: alloc},
		taken:   true,
	}

	c.mu.Lock()
	c.entries[key] = append(c.entries[key], entry)
	c.stats.Allocations++
	c.mu.Unlock()
	return entry.texture, nil
}

// EndFrame releases every lease and evicts entries that have gone unused
// for MaxIdleFrames frames.
func (c *TextureCache) EndFrame() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, list := range c.entries {
		kept := list[:0]
		for _, e := range list {
			if e.taken {
				e.taken = false
				e.idleCount = 0
			} else {
				e.idleCount++
			}
			if e.idleCount >= c.maxIdleFrames {
				c.device.DestroyTexture(e.texture.Texture)
				c.stats.Evictions++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(c.entries, key)
		} else {
			c.entries[key] = kept
		}
	}
}

// Clear destroys every pooled texture, leased or not.
func (c *TextureCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, list := range c.entries {
		for _, e := range list {
			c.device.DestroyTexture(e.texture.Texture)
		}
	}
	c.entries = make(map[TextureDescriptor][]*cacheEntry)
}

func (c *TextureCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	for _, list := range c.entries {
		s.Entries += len(list)
		for _, e := range list {
			if e.taken {
				s.Taken++
			}
		}
	}
	return s
}

func (c *TextureCache) MaxIdleFrames() int { return c.maxIdleFrames }
