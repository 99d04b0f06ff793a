package atmosphere

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gekko3d/atmosphere/skyrt/rt/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	c := DefaultConfig()
	require.NoError(t, c.Validate())
	assert.Equal(t, core.EarthAtmosphere(), c.Atmosphere.Parameters())
	assert.Equal(t, core.SettingsForViewport(1920, 1080), c.Lut.Settings(1920, 1080))
}

func TestParseConfigOverridesOnlyGivenKeys(t *testing.T) {
	c, err := ParseConfig([]byte(`
debug = true
parallel_views = 8

[lut]
sky_view_size = [96, 54]
aerial_view_size = [16, 16, 64]

[atmosphere]
mie_asymmetry = 0.6
`))
	require.NoError(t, err)

	assert.True(t, c.Debug)
	assert.Equal(t, 8, c.ParallelViews)
	assert.Equal(t, DefaultConfig().MaxIdleFrames, c.MaxIdleFrames)

	s := c.Lut.Settings(1920, 1080)
	assert.Equal(t, core.UVec2{96, 54}, s.SkyViewLutSize, "an explicit size wins over the viewport")
	assert.Equal(t, core.UVec3{16, 16, 64}, s.AerialViewLutSize)
	assert.Equal(t, core.UVec2{256, 128}, s.TransmittanceLutSize)

	p := c.Atmosphere.Parameters()
	assert.InDelta(t, 0.6, p.MieAsymmetry, 1e-6)
	assert.Equal(t, float32(6360), p.BottomRadius)
}

func TestParseConfigRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"syntax":           `debug = `,
		"negative workers": `compile_workers = -1`,
		"inverted radii":   "[atmosphere]\ntop_radius = 100\nbottom_radius = 200",
		"zero lut":         "[lut]\ntransmittance_size = [0, 128]",
		"zero samples":     "[lut]\nsky_view_samples = 0",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig([]byte(src))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWatchConfigReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "atmosphere.toml")
	require.NoError(t, os.WriteFile(path, []byte("debug = false\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []Config
	require.NoError(t, WatchConfig(ctx, path, nil, func(c Config) {
		mu.Lock()
		got = append(got, c)
		mu.Unlock()
	}))

	// an invalid write is skipped, the next valid one is applied
	require.NoError(t, os.WriteFile(path, []byte("compile_workers = -3\n"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte("debug = true\nlog_every_frames = 30\n"), 0o644))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range got {
			if c.Debug && c.LogEveryFrames == 30 {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}
