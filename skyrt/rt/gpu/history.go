package gpu

// HistoryTextures is a ping-pong pair for passes that read last frame's
// output. Both textures are leased from the cache every frame in the same
// order, so the pair stays stable; the frame parity picks which one is
// written.
type HistoryTextures struct {
	Read  CachedTexture
	Write CachedTexture
}

func AcquireHistory(cache *TextureCache, desc TextureDescriptor, frame uint64) (HistoryTextures, error) {
	first, err := cache.Get(desc)
	if err != nil {
		return HistoryTextures{}, err
	}
	second, err := cache.Get(desc)
	if err != nil {
		return HistoryTextures{}, err
	}
	if frame%2 == 0 {
		return HistoryTextures{Read: second, Write: first}, nil
	}
	return HistoryTextures{Read: first, Write: second}, nil
}
