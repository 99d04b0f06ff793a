package atmosphere

import (
	"errors"
	"fmt"
	"os"

	"github.com/gekko3d/atmosphere/skyrt/rt/core"
	"github.com/gekko3d/atmosphere/skyrt/rt/sky"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/pelletier/go-toml/v2"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Debug     bool   `toml:"debug"`
	LogPrefix string `toml:"log_prefix"`

	MaxIdleFrames   int    `toml:"max_idle_frames"`
	LogEveryFrames  uint64 `toml:"log_every_frames"`
	CompileWorkers  int    `toml:"compile_workers"`
	ParallelViews   int    `toml:"parallel_views"`
	ValidateShaders bool   `toml:"validate_shaders"`
	Readback        bool   `toml:"readback"`

	Lut        LutConfig        `toml:"lut"`
	Atmosphere AtmosphereConfig `toml:"atmosphere"`
}

// LutConfig overrides the default LUT settings. A zero SkyViewSize derives
// the sky-view LUT from the viewport.
type LutConfig struct {
	TransmittanceSize      [2]uint32 `toml:"transmittance_size"`
	TransmittanceSamples   uint32    `toml:"transmittance_samples"`
	MultiscatteringSize    [2]uint32 `toml:"multiscattering_size"`
	MultiscatteringDirs    uint32    `toml:"multiscattering_dirs"`
	MultiscatteringSamples uint32    `toml:"multiscattering_samples"`
	SkyViewSize            [2]uint32 `toml:"sky_view_size"`
	SkyViewSamples         uint32    `toml:"sky_view_samples"`
	AerialViewSize         [3]uint32 `toml:"aerial_view_size"`
	AerialViewSamples      uint32    `toml:"aerial_view_samples"`
	AerialViewMaxDistance  float32   `toml:"aerial_view_max_distance"`
	SceneUnitsToKm         float32   `toml:"scene_units_to_km"`
}

// AtmosphereConfig holds planet parameters in kilometers.
type AtmosphereConfig struct {
	BottomRadius             float32    `toml:"bottom_radius"`
	TopRadius                float32    `toml:"top_radius"`
	GroundAlbedo             [3]float32 `toml:"ground_albedo"`
	RayleighDensityExpScale  float32    `toml:"rayleigh_density_exp_scale"`
	RayleighScattering       [3]float32 `toml:"rayleigh_scattering"`
	MieDensityExpScale       float32    `toml:"mie_density_exp_scale"`
	MieScattering            float32    `toml:"mie_scattering"`
	MieAbsorption            float32    `toml:"mie_absorption"`
	MieAsymmetry             float32    `toml:"mie_asymmetry"`
	OzoneLayerCenterAltitude float32    `toml:"ozone_layer_center_altitude"`
	OzoneLayerHalfWidth      float32    `toml:"ozone_layer_half_width"`
	OzoneAbsorption          [3]float32 `toml:"ozone_absorption"`
}

func DefaultConfig() Config {
	lut := core.DefaultViewLutSettings()
	earth := core.EarthAtmosphere()
	return Config{
		LogPrefix:      "atmosphere",
		MaxIdleFrames:  3,
		LogEveryFrames: sky.DefaultLogEveryFrames,
		CompileWorkers: 2,
		ParallelViews:  4,
		Lut: LutConfig{
			TransmittanceSize:      lut.TransmittanceLutSize,
			TransmittanceSamples:   lut.TransmittanceLutSamples,
			MultiscatteringSize:    lut.MultiscatteringLutSize,
			MultiscatteringDirs:    lut.MultiscatteringLutDirs,
			MultiscatteringSamples: lut.MultiscatteringLutSamples,
			SkyViewSamples:         lut.SkyViewLutSamples,
			AerialViewSize:         lut.AerialViewLutSize,
			AerialViewSamples:      lut.AerialViewLutSamples,
			AerialViewMaxDistance:  lut.AerialViewLutMaxDistance,
			SceneUnitsToKm:         lut.SceneUnitsToKm,
		},
		Atmosphere: AtmosphereConfig{
			BottomRadius:             earth.BottomRadius,
			TopRadius:                earth.TopRadius,
			GroundAlbedo:             earth.GroundAlbedo,
			RayleighDensityExpScale:  earth.RayleighDensityExpScale,
			RayleighScattering:       earth.RayleighScattering,
			MieDensityExpScale:       earth.MieDensityExpScale,
			MieScattering:            earth.MieScattering,
			MieAbsorption:            earth.MieAbsorption,
			MieAsymmetry:             earth.MieAsymmetry,
			OzoneLayerCenterAltitude: earth.OzoneLayerCenterAltitude,
			OzoneLayerHalfWidth:      earth.OzoneLayerHalfWidth,
			OzoneAbsorption:          earth.OzoneAbsorption,
		},
	}
}

// LoadConfig reads a TOML file over DefaultConfig. Keys missing from the
// file keep their defaults.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return ParseConfig(b)
}

func ParseConfig(b []byte) (Config, error) {
	c := DefaultConfig()
	if err := toml.Unmarshal(b, &c); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	switch {
	case c.MaxIdleFrames < 0:
		return fmt.Errorf("%w: max_idle_frames %d is negative", ErrInvalidConfig, c.MaxIdleFrames)
	case c.CompileWorkers < 0:
		return fmt.Errorf("%w: compile_workers %d is negative", ErrInvalidConfig, c.CompileWorkers)
	case c.ParallelViews < 0:
		return fmt.Errorf("%w: parallel_views %d is negative", ErrInvalidConfig, c.ParallelViews)
	}
	if err := c.Atmosphere.Parameters().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.Lut.Settings(1, 1).Validate(core.TextureLimits{}); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Settings returns the LUT settings for a viewport of the given size.
func (l LutConfig) Settings(width, height uint32) core.ViewLutSettings {
	s := core.SettingsForViewport(width, height)
	s.TransmittanceLutSize = l.TransmittanceSize
	s.TransmittanceLutSamples = l.TransmittanceSamples
	s.MultiscatteringLutSize = l.MultiscatteringSize
	s.MultiscatteringLutDirs = l.MultiscatteringDirs
	s.MultiscatteringLutSamples = l.MultiscatteringSamples
	if l.SkyViewSize != [2]uint32{} {
		s.SkyViewLutSize = l.SkyViewSize
	}
	s.SkyViewLutSamples = l.SkyViewSamples
	s.AerialViewLutSize = l.AerialViewSize
	s.AerialViewLutSamples = l.AerialViewSamples
	s.AerialViewLutMaxDistance = l.AerialViewMaxDistance
	s.SceneUnitsToKm = l.SceneUnitsToKm
	return s
}

func (a AtmosphereConfig) Parameters() core.AtmosphereParameters {
	return core.AtmosphereParameters{
		BottomRadius:             a.BottomRadius,
		TopRadius:                a.TopRadius,
		GroundAlbedo:             mgl32.Vec3(a.GroundAlbedo),
		RayleighDensityExpScale:  a.RayleighDensityExpScale,
		RayleighScattering:       mgl32.Vec3(a.RayleighScattering),
		MieDensityExpScale:       a.MieDensityExpScale,
		MieScattering:            a.MieScattering,
		MieAbsorption:            a.MieAbsorption,
		MieAsymmetry:             a.MieAsymmetry,
		OzoneLayerCenterAltitude: a.OzoneLayerCenterAltitude,
		OzoneLayerHalfWidth:      a.OzoneLayerHalfWidth,
		OzoneAbsorption:          mgl32.Vec3(a.OzoneAbsorption),
	}
}
