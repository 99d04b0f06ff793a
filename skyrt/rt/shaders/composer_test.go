package shaders

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComposeInlinesImportsOnce(t *testing.T) {
	c := NewComposer()
	code, err := c.Compose(SkyViewLut, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(code, "struct Atmosphere {"))
	// sampling imports transmittance_sampling too
	assert.Equal(t, 1, strings.Count(code, "fn sample_transmittance_lut("))
	assert.Equal(t, 1, strings.Count(code, "fn vertex("))
	assert.NotContains(t, code, "#import")
}

func TestComposeEveryPass(t *testing.T) {
	c := NewComposer()
	for _, name := range []string{TransmittanceLut, MultiscatteringLut, SkyViewLut, AerialViewLut, RenderSky} {
		code, err := c.Compose(name, nil)
		require.NoError(t, err, name)
		assert.Contains(t, code, "fn main(", name)
		assert.NotContains(t, code, "#", name)
	}
}

func TestComposeDefs(t *testing.T) {
	c := NewComposer()

	hdr, err := c.Compose(RenderSky, nil)
	require.NoError(t, err)
	assert.NotContains(t, hdr, "color / (1.0 + color)")

	ldr, err := c.Compose(RenderSky, []string{TonemapInShader})
	require.NoError(t, err)
	assert.Contains(t, ldr, "color / (1.0 + color)")
}

func TestComposeNestedConditionals(t *testing.T) {
	c := &Composer{}
	c.Register("lib", "fn lib() {}")
	c.Register("main", strings.Join([]string{
		"#ifdef A",
		"a",
		"#ifndef B",
		"a_not_b",
		"#else",
		"a_and_b",
		"#endif",
		"#else",
		"#import lib",
		"#endif",
	}, "\n"))

	out, err := c.Compose("main", []string{"A"})
	require.NoError(t, err)
	assert.Equal(t, "a\na_not_b\n", out)

	out, err = c.Compose("main", []string{"A", "B"})
	require.NoError(t, err)
	assert.Equal(t, "a\na_and_b\n", out)

	out, err = c.Compose("main", nil)
	require.NoError(t, err)
	assert.Equal(t, "fn lib() {}\n", out)
}

func TestComposeErrors(t *testing.T) {
	c := &Composer{}
	c.Register("missing_import", "#import nowhere")
	c.Register("dangling", "#ifdef A\nx")
	c.Register("stray", "#endif")
	c.Register("unknown", "#define A")

	_, err := c.Compose("absent", nil)
	assert.ErrorIs(t, err, ErrUnknownModule)
	_, err = c.Compose("missing_import", nil)
	assert.ErrorIs(t, err, ErrUnknownModule)
	for _, name := range []string{"dangling", "stray", "unknown"} {
		_, err = c.Compose(name, nil)
		assert.ErrorIs(t, err, ErrDirective, name)
	}
}

func TestComposerModules(t *testing.T) {
	names := NewComposer().Modules()
	assert.Contains(t, names, "types")
	assert.Contains(t, names, RenderSky)
	assert.IsIncreasing(t, names)
}
