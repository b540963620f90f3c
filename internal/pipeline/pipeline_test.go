package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"leafprep/internal/config"
	"leafprep/internal/earthengine"
	"leafprep/internal/earthengine/eefake"
	"leafprep/internal/ee"
	"leafprep/internal/ingest"
	"leafprep/internal/tasks"
)

const root = "projects/ee-test/assets"

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.EarthEngine.Project = "ee-test"
	cfg.Assets.Root = root
	return cfg
}

func fakeLoader(loaded *[]string) Loader {
	return func(_ context.Context, src config.SourceConfig) (*ingest.Table, error) {
		*loaded = append(*loaded, src.Name)
		return &ingest.Table{
			Name:    src.Name,
			Columns: []string{"rclmtn_d"},
			Features: []ingest.Feature{{
				Properties: map[string]interface{}{"rclmtn_d": 2005},
				Geometry:   json.RawMessage(`{"type":"Point","coordinates":[-114.1,53.5]}`),
			}},
		}, nil
	}
}

func newRunner(t *testing.T, cfg *config.Config) (*Runner, *eefake.Fake, *tasks.Tracker, *[]string) {
	t.Helper()
	fake := eefake.New()
	fake.PollsToFinish = 1
	tracker := tasks.NewTracker(fake, tasks.WithPollInterval(time.Millisecond))
	var loaded []string
	return NewRunner(cfg, fake, tracker, WithLoader(fakeLoader(&loaded))), fake, tracker, &loaded
}

func functionCounts(expr *ee.Expression) map[string]int {
	out := map[string]int{}
	for _, v := range expr.Values {
		if v.FunctionInvocationValue != nil {
			out[v.FunctionInvocationValue.FunctionName]++
		}
	}
	return out
}

func TestRun_DefaultPipeline(t *testing.T) {
	cfg := testConfig()
	r, fake, _, loaded := newRunner(t, cfg)
	ctx := context.Background()

	require.NoError(t, r.Run(ctx, RunOptions{}))
	assert.Equal(t, []string{"abandoned_wells", "reservoirs", "industrial", "residentials", "roads"}, *loaded)

	require.Len(t, fake.Exports, len(cfg.Pipeline))
	for i, step := range cfg.Pipeline {
		assert.Equal(t, root+"/"+step.Name, fake.Exports[i].AssetID)
		assert.True(t, fake.HasAsset(root+"/"+step.Name), step.Name)
	}
	assert.Equal(t, "ingest_selected_polygons", fake.Exports[0].Description)

	flags, ok := fake.ExportFor(root + "/intersecting_wells_flags")
	require.True(t, ok)
	assert.Equal(t, "intersecting_wells_flags", flags.Description)
	fns := functionCounts(flags.Expression)
	assert.Equal(t, 1, fns["Image.reduceToVectors"], "water bodies come from the LULC raster")

	filtered, ok := fake.ExportFor(root + "/filtered_abandoned_wells")
	require.True(t, ok)
	assert.Equal(t, 12, functionCounts(filtered.Expression)["Filter.equals"], "six layers with buffer flags")

	dated, ok := fake.ExportFor(root + "/random_sample_1000_filtered_abandoned_wells_dated")
	require.True(t, ok)
	assert.Equal(t, 1, functionCounts(dated.Expression)["Geometry.area"])
}

func TestRun_SkipsExistingAssets(t *testing.T) {
	cfg := testConfig()
	r, fake, _, loaded := newRunner(t, cfg)
	ctx := context.Background()
	require.NoError(t, r.Run(ctx, RunOptions{}))
	n := len(fake.Exports)

	r2 := NewRunner(cfg, fake, tasks.NewTracker(fake, tasks.WithPollInterval(time.Millisecond)), WithLoader(fakeLoader(loaded)))
	require.NoError(t, r2.Run(ctx, RunOptions{}))
	assert.Len(t, fake.Exports, n)
	assert.Len(t, *loaded, 5, "sources are not read again")
}

func TestRun_InputFailureStopsDependents(t *testing.T) {
	cfg := testConfig()
	r, fake, _, _ := newRunner(t, cfg)
	fake.FailAssets[root+"/intersecting_wells_flags"] = "Computation timed out."

	err := r.Run(context.Background(), RunOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step intersecting_wells_flags_v2")

	var failure *tasks.FailureError
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, "intersecting_wells_flags", failure.Tasks[0].Description)
	_, started := fake.ExportFor(root + "/intersecting_wells_flags_v2")
	assert.False(t, started)
}

func TestRun_MissingInput(t *testing.T) {
	cfg := testConfig()
	r, _, _, _ := newRunner(t, cfg)

	err := r.Run(context.Background(), RunOptions{Steps: []string{"filtered_abandoned_wells"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "intersecting_wells_flags_v3")
	assert.Contains(t, err.Error(), "does not exist")

	err = r.Run(context.Background(), RunOptions{Steps: []string{"nope"}})
	assert.Error(t, err)
}

func TestRun_NoWait(t *testing.T) {
	cfg := testConfig()
	r, fake, tracker, _ := newRunner(t, cfg)

	require.NoError(t, r.Run(context.Background(), RunOptions{Steps: []string{"selected_polygons", "reservoirs"}, NoWait: true}))
	assert.Len(t, fake.Exports, 2)
	assert.Equal(t, 2, tracker.Pending())
}

func TestRun_BufferSteps(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline = []config.StepConfig{
		{Name: "wells", Op: config.OpIngest, Source: "abandoned_wells"},
		{Name: "wells_inward", Op: config.OpBuffer, Input: "wells", Distance: -30, FlagEmpty: true},
		{Name: "wells_rings", Op: config.OpReferenceBuffer, Input: "wells"},
		{Name: "wells_dilated", Op: config.OpInwardDilation, Input: "wells", Distance: 15},
	}
	r, fake, _, _ := newRunner(t, cfg)
	require.NoError(t, r.Run(context.Background(), RunOptions{}))

	inward, ok := fake.ExportFor(root + "/wells_inward")
	require.True(t, ok)
	fns := functionCounts(inward.Expression)
	assert.Equal(t, 1, fns["Feature.buffer"])
	assert.Equal(t, 1, fns["Geometry.coordinates"])

	rings, ok := fake.ExportFor(root + "/wells_rings")
	require.True(t, ok)
	assert.Equal(t, 1, functionCounts(rings.Expression)["Geometry.difference"])

	dilated, ok := fake.ExportFor(root + "/wells_dilated")
	require.True(t, ok)
	assert.Equal(t, 1, functionCounts(dilated.Expression)["Feature.buffer"])
	assert.Zero(t, functionCounts(dilated.Expression)["Geometry.coordinates"], "no empty check unless asked")
}

func TestAllFlagFields(t *testing.T) {
	cfg := testConfig()
	r, _, _, _ := newRunner(t, cfg)
	fields := r.allFlagFields()
	assert.Len(t, fields, 12)
	assert.Contains(t, fields, "intersects_roads_buffer")
	assert.Contains(t, fields, "intersects_wetland_treed")
}

func TestPlan(t *testing.T) {
	cfg := testConfig()
	var sources []config.SourceConfig
	for _, src := range cfg.Sources {
		if src.Name != "roads" {
			sources = append(sources, src)
		}
	}
	cfg.Sources = sources
	r, fake, _, _ := newRunner(t, cfg)
	ctx := context.Background()
	fake.AddAsset(root+"/selected_polygons", earthengine.AssetTable)

	plan, err := r.Plan(ctx)
	require.NoError(t, err)
	require.Len(t, plan, len(cfg.Pipeline))

	status := map[string]StepStatus{}
	for _, st := range plan {
		status[st.Name] = st
	}
	assert.Equal(t, StatusExists, status["selected_polygons"].Status)
	assert.Equal(t, StatusPending, status["reservoirs"].Status)
	assert.Equal(t, StatusPending, status["industrial"].Status)
	assert.Equal(t, StatusBlocked, status["roads"].Status)
	assert.Equal(t, []string{"source roads"}, status["roads"].Missing)
	assert.Equal(t, StatusPending, status["intersecting_wells_flags"].Status)
	assert.Equal(t, StatusBlocked, status["intersecting_wells_flags_v2"].Status)
	assert.Equal(t, []string{root + "/roads"}, status["intersecting_wells_flags_v2"].Missing)
	assert.Equal(t, StatusBlocked, status["intersecting_wells_flags_v3"].Status)
	assert.Equal(t, StatusBlocked, status["random_sample_1000_filtered_reference_buffers_dated"].Status)
	assert.Empty(t, fake.Exports, "planning starts nothing")

	md := PlanMarkdown(plan)
	assert.Contains(t, md, "| 1 | `selected_polygons` | ingest | **exists** | - |")
	assert.Contains(t, md, "1 exist, 0 running, 4 pending, 8 blocked.")
}

func TestPlan_DefaultPipelineFromScratch(t *testing.T) {
	cfg := testConfig()
	r, fake, _, _ := newRunner(t, cfg)

	plan, err := r.Plan(context.Background())
	require.NoError(t, err)
	require.Len(t, plan, len(cfg.Pipeline))
	for _, st := range plan {
		assert.Equal(t, StatusPending, st.Status, st.Name)
		assert.Empty(t, st.Missing, st.Name)
	}
	assert.Empty(t, fake.Exports)
}

func TestPlan_Running(t *testing.T) {
	cfg := testConfig()
	r, _, _, _ := newRunner(t, cfg)
	ctx := context.Background()
	require.NoError(t, r.Run(ctx, RunOptions{Steps: []string{"selected_polygons"}, NoWait: true}))

	plan, err := r.Plan(ctx)
	require.NoError(t, err)
	status := map[string]StepStatus{}
	for _, st := range plan {
		status[st.Name] = st
	}
	assert.Equal(t, StatusRunning, status["selected_polygons"].Status)
	assert.Equal(t, StatusPending, status["intersecting_wells_flags"].Status, "in-flight inputs count as produced")
}

func TestRenderMarkdown(t *testing.T) {
	out, err := RenderMarkdown(PlanMarkdown([]StepStatus{{Name: "wells", Op: "ingest", Status: StatusPending}}), 80)
	require.NoError(t, err)
	assert.True(t, strings.Contains(out, "Pipeline plan"))
	assert.Contains(t, out, "wells")
}
