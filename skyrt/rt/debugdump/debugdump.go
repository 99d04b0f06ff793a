// Package debugdump writes atmosphere LUTs to 16-bit TIFF files for
// inspection in an image viewer.
package debugdump

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/gekko3d/atmosphere/skyrt/rt/gpu"
	"github.com/gekko3d/atmosphere/skyrt/rt/sky"
	"golang.org/x/image/tiff"
)

const texelSize = 8 // rgba16float

// WriteLUT encodes tightly packed rgba16float texels as a 16-bit RGBA TIFF.
// Channels are clamped to [0, 1]. 3D LUTs are passed with height set to
// height*depth, which stacks the slices vertically.
func WriteLUT(w io.Writer, width, height int, texels []byte) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("debugdump: empty image %dx%d", width, height)
	}
	if len(texels) != width*height*texelSize {
		return fmt.Errorf("debugdump: %d bytes for %dx%d rgba16float texels", len(texels), width, height)
	}

	img := image.NewNRGBA64(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := (y*width + x) * texelSize
			img.SetNRGBA64(x, y, color.NRGBA64{
				R: unorm16(texels[i:]),
				G: unorm16(texels[i+2:]),
				B: unorm16(texels[i+4:]),
				A: unorm16(texels[i+6:]),
			})
		}
	}
	return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
}

func unorm16(b []byte) uint16 {
	f := HalfToFloat32(binary.LittleEndian.Uint16(b))
	if !(f > 0) {
		return 0
	}
	if f >= 1 {
		return math.MaxUint16
	}
	return uint16(f*math.MaxUint16 + 0.5)
}

// HalfToFloat32 converts an IEEE 754 binary16 value.
func HalfToFloat32(h uint16) float32 {
	sign := uint32(h>>15) << 31
	exp := uint32(h>>10) & 0x1f
	mant := uint32(h) & 0x3ff

	switch {
	case exp == 0 && mant == 0:
		return math.Float32frombits(sign)
	case exp == 0:
		// subnormal: renormalize
		e := uint32(127 - 15 + 1)
		for mant&0x400 == 0 {
			mant <<= 1
			e--
		}
		mant &= 0x3ff
		return math.Float32frombits(sign | e<<23 | mant<<13)
	case exp == 0x1f:
		return math.Float32frombits(sign | 0xff<<23 | mant<<13)
	}
	return math.Float32frombits(sign | (exp+127-15)<<23 | mant<<13)
}

// DumpView reads back the four LUTs of a bundle and writes them to dir as
// <lut>_<view id>.tiff. The bundle's textures must have been leased with
// readback enabled on devices that need copy-source usage.
func DumpView(dev gpu.TextureReader, b *sky.ViewBundle, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := b.Settings
	luts := []struct {
		name          string
		tex           gpu.CachedTexture
		width, height uint32
	}{
		{"transmittance_lut", b.Textures.Transmittance, s.TransmittanceLutSize[0], s.TransmittanceLutSize[1]},
		{"multiscattering_lut", b.Textures.Multiscattering, s.MultiscatteringLutSize[0], s.MultiscatteringLutSize[1]},
		{"sky_view_lut", b.Textures.SkyView, s.SkyViewLutSize[0], s.SkyViewLutSize[1]},
		{"aerial_view_lut", b.Textures.AerialView, s.AerialViewLutSize[0], s.AerialViewLutSize[1] * s.AerialViewLutSize[2]},
	}

	paths := make([]string, 0, len(luts))
	for _, lut := range luts {
		texels, err := dev.ReadTexture(lut.tex.Texture)
		if err != nil {
			return paths, fmt.Errorf("read %s: %w", lut.name, err)
		}
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.tiff", lut.name, b.ID))
		if err := writeFile(path, int(lut.width), int(lut.height), texels); err != nil {
			return paths, fmt.Errorf("write %s: %w", lut.name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeFile(path string, width, height int, texels []byte) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return WriteLUT(f, width, height, texels)
}
