package sky

import (
	"context"
	"errors"
	"testing"

	"github.com/gekko3d/atmosphere/skyrt/rt/gpu"
	"github.com/gekko3d/atmosphere/skyrt/rt/gpu/softdev"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func renderFrame(t *testing.T, r *Renderer, frame uint64, views ...ExtractedView) []Report {
	t.Helper()
	bundles := r.Prepare(frame, views)
	reports, err := r.Render(context.Background(), bundles)
	require.NoError(t, err)
	r.EndFrame()
	return reports
}

func TestRenderRecordsPassesInOrder(t *testing.T) {
	dev := softdev.New()
	r := newTestRenderer(t, dev, Options{})
	tgt := newTarget(t, dev)

	reports := renderFrame(t, r, 0, testView(viewA, tgt))
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Complete())
	assert.Equal(t, []Pass{PassTransmittance, PassMultiscattering, PassSkyView, PassAerialView, PassRenderSky}, reports[0].Ran)

	cmds := executed(dev)
	assert.Equal(t, []string{
		"transmittance_lut_pipeline",
		"multiscattering_lut_pipeline",
		"sky_view_lut_pipeline",
		"aerial_view_lut_pipeline",
		"render_sky_pipeline",
	}, pipelineLabels(cmds))

	// 32x32 LUTs in 16x16 workgroups, aerial-view depth handled in the shader
	assert.Equal(t, [3]uint32{2, 2, 1}, cmds[1].Workgroups)
	assert.Equal(t, [3]uint32{2, 2, 1}, cmds[3].Workgroups)
	for _, i := range []int{0, 2, 4} {
		assert.Equal(t, uint32(3), cmds[i].Workgroups[0], "full-screen triangle")
	}
	assert.Contains(t, cmds[4].Writes, tgt.texture)
}

func TestRenderSkyLoadsTarget(t *testing.T) {
	dev := softdev.New()
	r := newTestRenderer(t, dev, Options{})
	renderFrame(t, r, 0, testView(viewA, newTarget(t, dev)))

	loads := map[string]gpu.LoadOp{}
	for _, c := range dev.Log() {
		if c.Op == softdev.OpBeginRenderPass {
			loads[c.Label] = c.Load
		}
	}
	assert.Equal(t, gpu.LoadOpClear, loads["transmittance_lut"])
	assert.Equal(t, gpu.LoadOpClear, loads["sky_view_lut"])
	assert.Equal(t, gpu.LoadOpLoad, loads["render_sky"])
}

func TestLutTexturesMatchSettings(t *testing.T) {
	dev := softdev.New()
	r := newTestRenderer(t, dev, Options{})
	v := testView(viewA, newTarget(t, dev))
	v.Settings.SkyViewLutSize = [2]uint32{128, 72}

	bundles := r.Prepare(0, []ExtractedView{v})
	require.Len(t, bundles, 1)
	tex := bundles[0].Textures

	check := func(ct gpu.CachedTexture, w, h, d uint32, dim gpu.TextureDimension, usage gpu.TextureUsage) {
		t.Helper()
		desc, ok := dev.TextureDescriptor(ct.Texture)
		require.True(t, ok)
		assert.Equal(t, gpu.Extent3D{Width: w, Height: h, DepthOrArrayLayers: d}, desc.Size)
		assert.Equal(t, dim, desc.Dimension)
		assert.Equal(t, gpu.TextureFormatRGBA16Float, desc.Format)
		assert.Equal(t, usage, desc.Usage)
	}
	raster := gpu.TextureUsageRenderAttachment | gpu.TextureUsageTextureBinding
	storage := gpu.TextureUsageStorageBinding | gpu.TextureUsageTextureBinding
	check(tex.Transmittance, 256, 128, 1, gpu.TextureDimension2D, raster)
	check(tex.Multiscattering, 32, 32, 1, gpu.TextureDimension2D, storage)
	check(tex.SkyView, 128, 72, 1, gpu.TextureDimension2D, raster)
	check(tex.AerialView, 32, 32, 32, gpu.TextureDimension3D, storage)
}

func TestRenderIsIdempotentAcrossDevices(t *testing.T) {
	digests := func() []uint64 {
		dev := softdev.New()
		r := newTestRenderer(t, dev, Options{})
		tgt := newTarget(t, dev)
		bundles := r.Prepare(0, []ExtractedView{testView(viewA, tgt)})
		_, err := r.Render(context.Background(), bundles)
		require.NoError(t, err)
		tex := bundles[0].Textures
		return []uint64{
			dev.Contents(tex.Transmittance.Texture),
			dev.Contents(tex.Multiscattering.Texture),
			dev.Contents(tex.SkyView.Texture),
			dev.Contents(tex.AerialView.Texture),
			dev.Contents(tgt.texture),
		}
	}

	first, second := digests(), digests()
	assert.Equal(t, first, second)
	for _, d := range first {
		assert.NotZero(t, d)
	}
}

func TestLutsAreStableAcrossFrames(t *testing.T) {
	dev := softdev.New()
	r := newTestRenderer(t, dev, Options{})
	v := testView(viewA, newTarget(t, dev))

	lutDigests := func(frame uint64) []uint64 {
		bundles := r.Prepare(frame, []ExtractedView{v})
		_, err := r.Render(context.Background(), bundles)
		require.NoError(t, err)
		tex := bundles[0].Textures
		r.EndFrame()
		return []uint64{
			dev.Contents(tex.Transmittance.Texture),
			dev.Contents(tex.Multiscattering.Texture),
			dev.Contents(tex.SkyView.Texture),
			dev.Contents(tex.AerialView.Texture),
		}
	}
	assert.Equal(t, lutDigests(0), lutDigests(1))
	assert.Equal(t, 6, dev.Stats().TexturesCreated, "four LUTs, one fallback depth, one target")
}

func TestDependentsSkipUntilPipelinesAreReady(t *testing.T) {
	dev := softdev.New()
	sched := &gpu.ManualScheduler{}
	r := newTestRenderer(t, dev, Options{Scheduler: sched})
	v := testView(viewA, newTarget(t, dev))

	// frame K: only the transmittance pipeline has compiled
	bundles := r.Prepare(0, []ExtractedView{v})
	require.True(t, sched.RunNext())
	reports, err := r.Render(context.Background(), bundles)
	require.NoError(t, err)
	r.EndFrame()

	require.Len(t, reports, 1)
	assert.Equal(t, []Pass{PassTransmittance}, reports[0].Ran)
	assert.Equal(t, []Pass{PassMultiscattering, PassSkyView, PassAerialView, PassRenderSky}, reports[0].Skipped)
	assert.Equal(t, []string{"transmittance_lut_pipeline"}, pipelineLabels(executed(dev)))

	// frame K+1: everything is ready
	dev.ResetLog()
	bundles = r.Prepare(1, []ExtractedView{v})
	sched.RunPending()
	reports, err = r.Render(context.Background(), bundles)
	require.NoError(t, err)
	assert.True(t, reports[0].Complete())
	assert.Len(t, executed(dev), 5)
}

func TestMultiscatteringPendingSkipsDownstreamOnly(t *testing.T) {
	dev := softdev.New()
	sched := &gpu.ManualScheduler{}
	r := newTestRenderer(t, dev, Options{Scheduler: sched})
	v := testView(viewA, newTarget(t, dev))

	bundles := r.Prepare(0, []ExtractedView{v})
	sched.RunPending()
	// a handle whose compilation never finishes
	r.pipelines.lut[PassMultiscattering] = &gpu.PipelineHandle{}
	reports, err := r.Render(context.Background(), bundles)
	require.NoError(t, err)

	assert.Equal(t, []Pass{PassTransmittance}, reports[0].Ran)
	assert.Contains(t, reports[0].Skipped, PassSkyView)
	assert.Contains(t, reports[0].Skipped, PassRenderSky)
}

func TestCapabilityGateDisablesRenderer(t *testing.T) {
	dev := softdev.New(softdev.WithoutStorageWrite())
	logger := &recordingLogger{}
	r := newTestRenderer(t, dev, Options{Logger: logger})
	v := testView(viewA, newTarget(t, dev))

	assert.False(t, r.Enabled())
	assert.ErrorIs(t, r.Layouts().DisabledReason(), gpu.ErrCapabilityMissing)
	assert.Nil(t, r.PipelineCache())

	for frame := uint64(0); frame < 3; frame++ {
		assert.Empty(t, renderFrame(t, r, frame, v))
	}
	assert.Equal(t, 1, logger.warnCount())
	assert.Equal(t, 0, dev.Stats().Submits)
	assert.Empty(t, dev.Log())
}

func TestResetKeepsCapabilityGateClosed(t *testing.T) {
	dev := softdev.New(softdev.WithoutStorageWrite())
	logger := &recordingLogger{}
	r := newTestRenderer(t, dev, Options{Logger: logger})
	layouts := r.Layouts()

	require.NoError(t, r.Reset())
	require.NoError(t, r.Reset())

	assert.False(t, r.Enabled())
	assert.Same(t, layouts, r.Layouts())
	assert.Equal(t, 1, logger.warnCount())
}

func TestRecordErrorFinishesEncoder(t *testing.T) {
	dev := softdev.New()
	logger := &recordingLogger{}
	r := newTestRenderer(t, dev, Options{Logger: logger})
	// a raster pass without a color attachment fails while recording
	r.sequencer = NewSequencer(NewPassGraph(PassDescriptor{
		Pass:    PassMultiscattering,
		Kind:    PassKindRaster,
		Outputs: []Resource{ResourceMultiscatteringLut},
	}), r.pipelines)

	renderFrame(t, r, 0, testView(viewA, newTarget(t, dev)))

	stats := dev.Stats()
	assert.Equal(t, 1, stats.EncodersCreated)
	assert.Equal(t, 1, stats.EncodersFinished)
	assert.Zero(t, stats.Submits)
	logger.mu.Lock()
	defer logger.mu.Unlock()
	require.Len(t, logger.errors, 1)
	assert.Contains(t, logger.errors[0], "no color attachment")
}

func TestAllocationFailureSkipsOnlyThatView(t *testing.T) {
	boom := errors.New("out of video memory")
	dev := softdev.New()
	logger := &recordingLogger{}
	r := newTestRenderer(t, dev, Options{Logger: logger})

	good := testView(viewA, newTarget(t, dev))
	bad := testView(viewB, newTarget(t, dev))
	bad.Settings.AerialViewLutSize = [3]uint32{16, 16, 16}
	dev.SetTextureFailure(func(desc gpu.TextureDescriptor) error {
		if desc.Label == "aerial_view_lut" && desc.Size.Width == 16 {
			return boom
		}
		return nil
	})

	reports := renderFrame(t, r, 0, good, bad)
	require.Len(t, reports, 1)
	assert.Equal(t, good.ID, reports[0].View)
	assert.True(t, reports[0].Complete())
	require.Equal(t, 1, logger.warnCount())
	assert.Contains(t, logger.warns[0], viewB)

	// rate limited per view
	renderFrame(t, r, 1, good, bad)
	assert.Equal(t, 1, logger.warnCount())
	renderFrame(t, r, DefaultLogEveryFrames, good, bad)
	assert.Equal(t, 2, logger.warnCount())
}

func TestInvalidViewIsSkipped(t *testing.T) {
	dev := softdev.New()
	logger := &recordingLogger{}
	r := newTestRenderer(t, dev, Options{Logger: logger})

	v := testView(viewA, newTarget(t, dev))
	v.Settings.TransmittanceLutSize = [2]uint32{0, 128}
	assert.Empty(t, r.Prepare(0, []ExtractedView{v}))

	v = testView(viewA, newTarget(t, dev))
	v.Atmosphere.TopRadius = v.Atmosphere.BottomRadius
	assert.Empty(t, r.Prepare(200, []ExtractedView{v}))
	assert.Equal(t, 2, logger.warnCount())
}

func TestViewsSharePassOffsets(t *testing.T) {
	dev := softdev.New()
	r := newTestRenderer(t, dev, Options{})
	bundles := r.Prepare(0, []ExtractedView{
		testView(viewA, newTarget(t, dev)),
		testView(viewB, newTarget(t, dev)),
	})
	require.Len(t, bundles, 2)

	assert.Equal(t, UniformOffsets{}, bundles[0].Offsets)
	assert.Equal(t, UniformOffsets{Atmosphere: 256, Settings: 256, View: 512, Lights: 512}, bundles[1].Offsets)
	assert.Equal(t, bundles[1].Offsets.forPass(PassSkyView)[:2], bundles[1].Offsets.forPass(PassTransmittance))
}

func TestParallelViewsSubmitInOrder(t *testing.T) {
	dev := softdev.New()
	r := newTestRenderer(t, dev, Options{ParallelViews: 4})

	var views []ExtractedView
	for i := 0; i < 8; i++ {
		v := testView(viewA, newTarget(t, dev))
		v.ID = uuid.New()
		views = append(views, v)
	}
	reports := renderFrame(t, r, 0, views...)
	require.Len(t, reports, len(views))

	cmds := executed(dev)
	require.Len(t, cmds, 5*len(views))
	for i, v := range views {
		for _, c := range cmds[i*5 : i*5+5] {
			assert.Equal(t, "atmosphere_"+v.ID.String(), c.Encoder)
		}
		assert.Equal(t, v.ID, reports[i].View)
	}
	assert.Equal(t, 1, dev.Stats().Submits)
}

func TestEndFrameReleasesBindGroups(t *testing.T) {
	dev := softdev.New()
	r := newTestRenderer(t, dev, Options{})
	renderFrame(t, r, 0, testView(viewA, newTarget(t, dev)))

	s := dev.Stats()
	assert.Equal(t, 5, s.BindGroupsCreated)
	assert.Equal(t, s.BindGroupsCreated, s.BindGroupsReleased)
}

func TestBuildBundleWithoutUniformsPanics(t *testing.T) {
	dev := softdev.New()
	r := newTestRenderer(t, dev, Options{})
	assert.PanicsWithError(t, "uniform buffer has no binding: atmosphere_uniforms", func() {
		_, _ = r.BuildBundle(testView(viewA, newTarget(t, dev)), UniformOffsets{})
	})
}

func TestResetAfterDeviceLoss(t *testing.T) {
	dev := softdev.New()
	r := newTestRenderer(t, dev, Options{})
	v := testView(viewA, newTarget(t, dev))
	renderFrame(t, r, 0, v)

	require.NoError(t, r.Reset())
	assert.True(t, r.Enabled())
	assert.Equal(t, 1, dev.LiveTextures(), "only the caller's target survives")

	reports := renderFrame(t, r, 1, v)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Complete())
}
