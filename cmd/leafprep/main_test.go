package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"leafprep/internal/config"
	"leafprep/internal/earthengine"
	"leafprep/internal/earthengine/eefake"
	"leafprep/internal/ee"
	"leafprep/internal/logging"
	"leafprep/internal/store"
)

const root = "projects/ee-test/assets"

// setupCLI points the command globals at a temp workspace and a fake Earth
// Engine.
func setupCLI(t *testing.T) *eefake.Fake {
	t.Helper()
	dir := t.TempDir()

	logger = zap.NewNop()
	timeout = time.Minute
	configPath = filepath.Join(dir, "config.yaml")

	cfg = config.DefaultConfig()
	cfg.EarthEngine.Project = "ee-test"
	cfg.Assets.Root = root
	cfg.Tasks.PollInterval = "1ms"
	cfg.Data.StateDir = filepath.Join(dir, "state")
	cfg.Data.LedgerPath = filepath.Join(dir, "state", "ledger.db")
	cfg.Data.OutputDir = filepath.Join(dir, "output")
	cfg.Data.DownloadDir = filepath.Join(dir, "data")

	fake := eefake.New()
	orig := newClient
	newClient = func(*config.Config) (eeClient, error) { return fake, nil }
	t.Cleanup(func() { newClient = orig })
	return fake
}

func TestRunInit(t *testing.T) {
	setupCLI(t)
	initForce = false
	t.Cleanup(func() { initForce = false })

	output := captureOutput(t, func() {
		require.NoError(t, runInit(&cobra.Command{}, nil))
	})
	assert.Contains(t, output, "Wrote")

	loaded, err := config.Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, root, loaded.Assets.Root)
	assert.Equal(t, "ee-test", loaded.EarthEngine.Project)

	assert.Error(t, runInit(&cobra.Command{}, nil))
	initForce = true
	captureOutput(t, func() {
		assert.NoError(t, runInit(&cobra.Command{}, nil))
	})
}

func TestRootCommand_LoadsConfig(t *testing.T) {
	setupCLI(t)
	path := filepath.Join(t.TempDir(), "leafprep.yaml")
	def := config.DefaultConfig()
	def.Assets.Root = "projects/from-file/assets"
	require.NoError(t, def.Save(path))

	rootCmd.SetArgs([]string{"--config", path, "assets", "exists", "missing"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	captureOutput(t, func() {
		err := rootCmd.Execute()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "projects/from-file/assets/missing does not exist")
	})
	assert.Equal(t, "projects/from-file/assets", cfg.Assets.Root)
}

func TestExecute_ClosesLogsOnError(t *testing.T) {
	setupCLI(t)
	state := filepath.Join(t.TempDir(), "state")
	path := filepath.Join(t.TempDir(), "leafprep.yaml")
	def := config.DefaultConfig()
	def.Assets.Root = root
	def.Data.StateDir = state
	def.Data.LedgerPath = filepath.Join(state, "ledger.db")
	require.NoError(t, def.Save(path))

	rootCmd.SetArgs([]string{"--verbose", "--config", path, "assets", "exists", "missing"})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		verbose = false
	})
	captureOutput(t, func() {
		assert.Error(t, execute())
	})

	date := time.Now().Format("2006-01-02")
	boot, err := os.ReadFile(filepath.Join(state, "logs", date+"_boot.log"))
	require.NoError(t, err)
	assert.Contains(t, string(boot), "Running leafprep assets exists")

	auditPath := filepath.Join(state, "logs", date+"_audit.log")
	_, err = os.Stat(auditPath)
	require.NoError(t, err)
	logging.Audit().AssetDelete(root+"/after-close", nil)
	audit, err := os.ReadFile(auditPath)
	require.NoError(t, err)
	assert.NotContains(t, string(audit), "after-close", "audit log is closed once the command returns")
}

func TestSelectDatasets(t *testing.T) {
	all := config.DefaultConfig().Datasets

	got, err := selectDatasets(all, nil)
	require.NoError(t, err)
	assert.Len(t, got, len(all))

	got, err = selectDatasets(all, []string{"nfdb"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "nfdb", got[0].Name)

	_, err = selectDatasets(all, []string{"nope"})
	assert.ErrorContains(t, err, "unknown dataset")
}

func TestRunAssets(t *testing.T) {
	fake := setupCLI(t)
	fake.AddAsset(root+"/temp_batch_LC08_0", earthengine.AssetTable)
	fake.AddAsset(root+"/temp_batch_LC08_20", earthengine.AssetTable)
	fake.AddAsset(root+"/abandoned_wells", earthengine.AssetTable)

	output := captureOutput(t, func() {
		require.NoError(t, runAssetsLs(&cobra.Command{}, nil))
	})
	assert.Contains(t, output, "temp_batch_LC08_20")
	assert.Contains(t, output, "3 asset(s)")

	captureOutput(t, func() {
		require.NoError(t, runAssetsExists(&cobra.Command{}, []string{"abandoned_wells"}))
		require.NoError(t, runAssetsMv(&cobra.Command{}, []string{"abandoned_wells", "wells"}))
		assert.Error(t, runAssetsExists(&cobra.Command{}, []string{"abandoned_wells"}))
	})
	assert.True(t, fake.HasAsset(root+"/wells"))

	assetsCleanupPattern = "temp_batch_*"
	t.Cleanup(func() { assetsCleanupPattern = "" })
	output = captureOutput(t, func() {
		require.NoError(t, runAssetsCleanup(&cobra.Command{}, nil))
	})
	assert.Contains(t, output, "Deleted 2 asset(s)")
	assert.True(t, fake.HasAsset(root+"/wells"))
}

func TestRunAssetsCleanup_NeedsOneSelector(t *testing.T) {
	setupCLI(t)
	assetsCleanupPattern, assetsCleanupPrefix = "", ""
	assert.Error(t, runAssetsCleanup(&cobra.Command{}, nil))

	assetsCleanupPattern, assetsCleanupPrefix = "a*", "b"
	t.Cleanup(func() { assetsCleanupPattern, assetsCleanupPrefix = "", "" })
	assert.Error(t, runAssetsCleanup(&cobra.Command{}, nil))
}

func TestRunAssetsOrganize(t *testing.T) {
	fake := setupCLI(t)
	fake.AddAsset(root+"/wells_batch_1", earthengine.AssetTable)
	fake.AddAsset(root+"/wells_batch_2", earthengine.AssetTable)

	output := captureOutput(t, func() {
		require.NoError(t, runAssetsOrganize(&cobra.Command{}, []string{"_batch_", "wells_batches"}))
	})
	assert.Contains(t, output, "Moved 2 asset(s)")
	assert.True(t, fake.HasAsset(root+"/wells_batches/wells_batch_1"))
}

func TestRunIngest_GeoJSON(t *testing.T) {
	fake := setupCLI(t)
	path := filepath.Join(t.TempDir(), "sites.geojson")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"type": "FeatureCollection",
		"features": [
			{"type": "Feature", "properties": {"Site Name": "A"}, "geometry": {"type": "Point", "coordinates": [-113.5, 53.5, 670]}},
			{"type": "Feature", "properties": {"Site Name": "B"}, "geometry": {"type": "Point", "coordinates": [-114.1, 51.0]}}
		]
	}`), 0644))
	cfg.Sources = []config.SourceConfig{{Name: "sites", Path: path, Kind: "geojson"}}
	ingestWait, ingestAsset = true, ""
	t.Cleanup(func() { ingestWait = false })

	output := captureOutput(t, func() {
		require.NoError(t, runIngest(&cobra.Command{}, []string{"sites"}))
	})
	assert.Contains(t, output, "Read 2 feature(s) from sites")
	assert.Contains(t, output, root+"/sites ready")

	exp, ok := fake.ExportFor(root + "/sites")
	require.True(t, ok)
	assert.Equal(t, "ingest_sites", exp.Description)
	assert.True(t, fake.HasAsset(root+"/sites"))

	ledger, err := store.Open(cfg.Data.LedgerPath)
	require.NoError(t, err)
	defer ledger.Close()
	runs, err := ledger.Runs(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "ingest sites", runs[0].Command)
	assert.Equal(t, store.RunSucceeded, runs[0].Status)
}

func TestRunIngest_UnknownSource(t *testing.T) {
	setupCLI(t)
	assert.ErrorContains(t, runIngest(&cobra.Command{}, []string{"nope"}), "unknown source")
}

func TestRunPipelinePlan(t *testing.T) {
	setupCLI(t)
	pipelineRaw = true
	t.Cleanup(func() { pipelineRaw = false })

	output := captureOutput(t, func() {
		require.NoError(t, runPipelinePlan(&cobra.Command{}, nil))
	})
	assert.Contains(t, output, "# Pipeline plan")
	assert.Contains(t, output, "`selected_polygons`")
	assert.Contains(t, output, "**pending**")
	assert.Contains(t, output, "0 blocked.")
}

func TestRunPipelineRun_Subset(t *testing.T) {
	fake := setupCLI(t)
	for _, name := range []string{"selected_polygons", "reservoirs", "industrial", "residentials", "roads"} {
		fake.AddAsset(root+"/"+name, earthengine.AssetTable)
	}

	output := captureOutput(t, func() {
		require.NoError(t, runPipelineRun(&cobra.Command{}, []string{"intersecting_wells_flags", "intersecting_wells_flags_v2"}))
	})
	assert.Contains(t, output, "Pipeline complete: 2 step(s)")
	assert.True(t, fake.HasAsset(root+"/intersecting_wells_flags_v2"))
	assert.False(t, fake.HasAsset(root+"/intersecting_wells_flags_v3"))

	assert.Error(t, runPipelineRun(&cobra.Command{}, []string{"nope"}))
}

func TestRunSampler(t *testing.T) {
	fake := setupCLI(t)
	cfg.Sampler.ImageCollections = cfg.Sampler.ImageCollections[:1]
	fake.AddAsset(cfg.AssetID(cfg.Sampler.Source), earthengine.AssetTable)
	fake.Values["Collection.size"] = 25

	output := captureOutput(t, func() {
		require.NoError(t, runSamplerRun(&cobra.Command{}, nil))
	})
	assert.Contains(t, output, "2 batch(es) ready")
	assert.True(t, fake.HasAsset(root+"/temp_batch_LC08_20"))

	output = captureOutput(t, func() {
		require.NoError(t, runSamplerCleanup(&cobra.Command{}, nil))
	})
	assert.Contains(t, output, "Deleted 2 batch asset(s)")
	assert.False(t, fake.HasAsset(root+"/temp_batch_LC08_0"))
}

func TestRunTasksWait_ResumesLedger(t *testing.T) {
	fake := setupCLI(t)
	op, err := fake.ExportTable(context.Background(), ee.LoadTable(root+"/src"), root+"/dst", "export_dst")
	require.NoError(t, err)

	ledger, err := store.Open(cfg.Data.LedgerPath)
	require.NoError(t, err)
	require.NoError(t, ledger.UpsertTask(store.TaskRecord{
		Operation:   op.Name,
		Description: "export_dst",
		AssetID:     root + "/dst",
		State:       earthengine.StateRunning,
	}))
	require.NoError(t, ledger.Close())

	output := captureOutput(t, func() {
		require.NoError(t, runTasksWait(&cobra.Command{}, nil))
	})
	assert.Contains(t, output, "Waiting for 1 task(s)")
	assert.Contains(t, output, "1 task(s) succeeded")
	assert.True(t, fake.HasAsset(root+"/dst"))

	output = captureOutput(t, func() {
		require.NoError(t, runTasksWait(&cobra.Command{}, nil))
	})
	assert.Contains(t, output, "No unfinished tasks.")
}

func TestRunTasksStatusAndCancel(t *testing.T) {
	fake := setupCLI(t)
	op, err := fake.ExportTable(context.Background(), ee.LoadTable(root+"/src"), root+"/dst", "export_dst")
	require.NoError(t, err)

	output := captureOutput(t, func() {
		require.NoError(t, runTasksStatus(&cobra.Command{}, nil))
	})
	assert.Contains(t, output, "export_dst")

	assert.Error(t, runTasksCancel(&cobra.Command{}, nil))
	id := path.Base(op.Name)
	assert.Contains(t, output, id)
	output = captureOutput(t, func() {
		require.NoError(t, runTasksCancel(&cobra.Command{}, []string{id}))
	})
	assert.Contains(t, output, "cancelled "+id)

	got, err := fake.GetOperation(context.Background(), op.Name)
	require.NoError(t, err)
	assert.Equal(t, earthengine.StateCancelled, got.State())
}

func TestRunInspect(t *testing.T) {
	fake := setupCLI(t)
	fake.Values["Collection.size"] = 1234

	output := captureOutput(t, func() {
		require.NoError(t, runInspectCount(&cobra.Command{}, []string{"wells"}))
	})
	assert.Contains(t, output, root+"/wells: 1,234 feature(s)")
}

func TestCommandName(t *testing.T) {
	assert.Equal(t, "pipeline run flag_wells", commandName("pipeline run", "flag_wells"))
	assert.Equal(t, "sampler run", commandName("sampler run"))
	assert.False(t, strings.HasSuffix(commandName("tasks wait", ""), " "))
}

func captureOutput(t *testing.T, fn func()) string {
	t.Helper()

	origOut := os.Stdout
	origErr := os.Stderr
	rOut, wOut, _ := os.Pipe()
	rErr, wErr, _ := os.Pipe()
	os.Stdout = wOut
	os.Stderr = wErr

	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, rOut)
		_, _ = io.Copy(&buf, rErr)
		done <- buf.String()
	}()

	fn()

	_ = wOut.Close()
	_ = wErr.Close()
	os.Stdout = origOut
	os.Stderr = origErr
	return <-done
}
