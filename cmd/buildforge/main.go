// Command buildforge runs the package build orchestrator: it loads a build
// manifest, classifies and schedules every package through the phase
// pipeline, persists the resulting report, and serves a read-only report
// API alongside a WebSocket feed of live status updates.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"buildforge/internal/api"
	"buildforge/internal/capabilities"
	"buildforge/internal/classify"
	"buildforge/internal/config"
	"buildforge/internal/coordinator"
	"buildforge/internal/graph"
	"buildforge/internal/logging"
	"buildforge/internal/metrics"
	"buildforge/internal/model"
	"buildforge/internal/orchestrator"
	"buildforge/internal/pipeline"
	"buildforge/internal/store"
	"buildforge/internal/ws"
)

// manifestPackage is one entry of the build manifest's explicit-list input
// mode: name, path, planPath, category, deps.
type manifestPackage struct {
	Name     string   `json:"name"`
	Path     string   `json:"path"`
	PlanPath string   `json:"planPath"`
	Category string   `json:"category"`
	Deps     []string `json:"deps"`
	PlanText string   `json:"planText"`
}

type manifest struct {
	BuildID       string            `json:"buildId"`
	WorkspaceRoot string            `json:"workspaceRoot"`
	Packages      []manifestPackage `json:"packages"`
}

func main() {
	logging.Init()
	defer logging.Sync()

	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("../.env"); err != nil {
			logging.S().Warn("no .env file found, using environment variables")
		}
	}

	manifestPath := flag.String("manifest", os.Getenv("BUILDFORGE_MANIFEST"), "path to the build manifest JSON file (explicit package list input mode)")
	auditReportPath := flag.String("audit-report", os.Getenv("BUILDFORGE_AUDIT_REPORT"), "path to an audit report JSON document (root package + direct dependencies input mode)")
	planPath := flag.String("plan", os.Getenv("BUILDFORGE_PLAN"), "path to a plan document JSON file (feature-list input mode, parsed by JSONPlanParser)")
	flag.Parse()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Bootstrap HTTP listener so /healthz answers immediately while the
	// store, registries, and orchestrator finish initializing.
	var startupReady atomic.Bool
	var activeRouter atomic.Value
	activeRouter.Store(bootstrapRouter(&startupReady))

	serverErrors := make(chan error, 1)
	httpServer := &http.Server{
		Addr:              ":" + port,
		ReadHeaderTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			activeRouter.Load().(http.Handler).ServeHTTP(w, r)
		}),
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()
	logging.S().Infow("bootstrap listener started", "port", port)

	secretsCfg := config.MustValidateSecrets()

	dbType := os.Getenv("BUILDFORGE_DB_TYPE")
	dsn := os.Getenv("BUILDFORGE_DB_DSN")
	if dsn == "" {
		dsn = "buildforge.db"
	}

	migrator, err := store.NewMigrationRunner(&store.MigrationConfig{
		DatabaseURL:  dsn,
		DatabaseType: dbType,
	})
	if err != nil {
		log.Fatalf("migration runner: %v", err)
	}
	if err := migrator.RunMigrations(); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	reportStore, err := store.Open(dbType, dsn)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	archiver, err := store.NewArchiverFromEnv(rootCtx)
	if err != nil {
		logging.S().Warnw("report archiver disabled", "err", err)
	}

	hub := ws.NewHub()
	go hub.Run()

	metricsCollector := metrics.NewMetricsCollector(15 * time.Second)
	metricsCollector.Start()
	defer metricsCollector.Stop()

	statusSink := capabilities.NewRedisStatusSink(
		capabilities.RedisConfigFromEnv(),
		getenvDefault("BUILDFORGE_STATUS_CHANNEL", "buildforge:status"),
		os.Getenv("BUILDFORGE_STATUS_WEBHOOK"),
		os.Getenv("WEBHOOK_SECRET"),
	)
	bridgeStatusToHub(rootCtx, statusSink, hub)

	registryClient := buildRegistryClient()
	gitAdapter := capabilities.NewExecGit()
	agentExecutor := capabilities.NewPTYAgentExecutor()

	builder, tester, quality := buildRunners()

	repairRegistry := coordinator.NewRegistry(defaultAgentRegistry())

	newPipeline := func() *pipeline.Pipeline {
		return pipeline.New(pipeline.DefaultConfig(), pipeline.Deps{
			Registry:    registryClient,
			Builder:     builder,
			Tester:      tester,
			Quality:     quality,
			Git:         gitAdapter,
			Status:      statusSink,
			Coordinator: coordinator.New(repairRegistry, agentExecutor),
		})
	}

	orch := orchestrator.New(orchestrator.DefaultConfig(), newPipeline)

	router := api.NewRouter(reportStore)
	router.GET("/ws/build/:buildId", hub.HandleWebSocket)
	activeRouter.Store(router)
	startupReady.Store(true)

	logging.S().Infow("buildforge ready", "port", port, "production", secretsCfg.IsProduction)

	switch {
	case *manifestPath != "":
		go runBuild(rootCtx, loadManifestSpecs, *manifestPath, orch, registryClient, reportStore, archiver)
	case *auditReportPath != "":
		go runBuild(rootCtx, loadAuditReportSpecs, *auditReportPath, orch, registryClient, reportStore, archiver)
	case *planPath != "":
		go runBuild(rootCtx, loadPlanDocSpecs, *planPath, orch, registryClient, reportStore, archiver)
	default:
		logging.S().Info("no --manifest / --audit-report / --plan set; serving report API only")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Fatalf("server failed to start: %v", err)
	case sig := <-quit:
		logging.S().Infow("received signal, shutting down", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.S().Warnw("http server shutdown error", "err", err)
	}
	hub.Shutdown()
	cancel()
	logging.S().Info("shutdown complete")
}

// bootstrapRouter answers /healthz immediately (ready=false until the rest
// of the process finishes initializing) so platform health checks pass
// while the store, registries, and migrations are still running.
func bootstrapRouter(ready *atomic.Bool) *gin.Engine {
	r := gin.New()
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "starting", "ready": ready.Load()})
	})
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server starting", "ready": ready.Load()})
	})
	return r
}

// bridgeStatusToHub subscribes to the status sink's Redis channel and
// forwards every update to the WebSocket hub. The status sink contract is
// package-scoped, not build-scoped, so updates are broadcast to every
// connected dashboard rather than targeted at one build's clients.
func bridgeStatusToHub(ctx context.Context, sink *capabilities.RedisStatusSink, hub *ws.Hub) {
	sub := sink.Subscribe(ctx)
	ch := sub.Channel()
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var update capabilities.StatusUpdate
				if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
					logging.S().Warnw("ws bridge: malformed status payload", "err", err)
					continue
				}
				hub.BroadcastAll("status", update)
			}
		}
	}()
}

// specLoader reduces one of the three dependency-graph input modes to a
// build ID and an ordered package spec list. A loader returning a
// contract-violation error (malformed document, or a document that
// resolves to zero packages) is fatal: no packages are built.
type specLoader func(path string) (buildID string, specs []orchestrator.PackageSpec, err error)

func runBuild(ctx context.Context, load specLoader, path string, orch *orchestrator.Orchestrator, reg capabilities.RegistryClient, st *store.Store, archiver *store.Archiver) {
	buildID, specs, err := load(path)
	if err != nil {
		logging.S().Errorw("failed to load build input, contract violation", "path", path, "err", err)
		return
	}

	classifyFn := orchestrator.ClassifyAdapter(func(ctx context.Context, name, localPath, planText string) (model.PreflightVerdict, error) {
		verdict, _, err := classify.Classify(ctx, reg, name, localPath, planText)
		return verdict, err
	})

	report := orch.Run(ctx, buildID, specs, classifyFn)

	if err := st.SaveBuildReport(ctx, report); err != nil {
		logging.S().Errorw("failed to persist build report", "build", report.BuildID, "err", err)
	}
	for _, pr := range report.Packages {
		if err := st.SavePackageReport(ctx, report.BuildID, pr); err != nil {
			logging.S().Errorw("failed to persist package report", "build", report.BuildID, "package", pr.PackageName, "err", err)
		}
	}
	archiver.Archive(ctx, report)

	logging.S().Infow("build complete", "build", report.BuildID, "total", report.TotalPackages, "successful", report.Successful, "failed", report.Failed)
}

// newBuildID generates a build ID for input modes that don't carry one of
// their own (only the explicit manifest does).
func newBuildID() string {
	id := uuid.NewString()
	logging.S().Infow("build input carries no buildId, generated one", "build_id", id)
	return id
}

func refsToSpecs(refs []graph.PackageRef) []orchestrator.PackageSpec {
	specs := make([]orchestrator.PackageSpec, 0, len(refs))
	for _, r := range refs {
		specs = append(specs, orchestrator.PackageSpec{
			Name:     r.Name,
			Category: r.Category,
			Deps:     r.Deps,
			Path:     r.Path,
			PlanPath: r.PlanPath,
		})
	}
	return specs
}

// loadManifestSpecs reads the explicit-list input mode: a manifest
// document naming each package directly as {name, path, planPath,
// category, deps}.
func loadManifestSpecs(path string) (string, []orchestrator.PackageSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("read manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return "", nil, fmt.Errorf("parse manifest: %w", err)
	}
	if len(m.Packages) == 0 {
		return "", nil, fmt.Errorf("contract violation: manifest has no packages")
	}
	if m.BuildID == "" {
		m.BuildID = newBuildID()
	}

	specs := make([]orchestrator.PackageSpec, 0, len(m.Packages))
	for _, p := range m.Packages {
		specs = append(specs, orchestrator.PackageSpec{
			Name:     p.Name,
			Category: p.Category,
			Deps:     p.Deps,
			Path:     p.Path,
			PlanPath: p.PlanPath,
			PlanText: p.PlanText,
		})
	}
	return m.BuildID, specs, nil
}

// loadAuditReportSpecs reads the audit-report input mode: a document
// naming a root package and its direct dependencies.
func loadAuditReportSpecs(path string) (string, []orchestrator.PackageSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("read audit report: %w", err)
	}
	report, err := graph.ParseAuditReport(data)
	if err != nil {
		return "", nil, err
	}
	return newBuildID(), refsToSpecs(graph.RefsFromAuditReport(report)), nil
}

// loadPlanDocSpecs reads the plan-document input mode: a document opaque
// to the builder, parsed by an external collaborator (here
// graph.JSONPlanParser) into an ordered list of nodes.
func loadPlanDocSpecs(path string) (string, []orchestrator.PackageSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("read plan document: %w", err)
	}
	refs, err := (graph.JSONPlanParser{}).ParsePlan(data)
	if err != nil {
		return "", nil, err
	}
	return newBuildID(), refsToSpecs(refs), nil
}

// buildRunners selects the build/test/quality runner per BUILDFORGE_RUNNER:
// "docker" (default) isolates each package's toolchain in a container;
// "exec" runs commands directly on the orchestrator host, for local
// development or CI environments that are already sandboxed.
func buildRunners() (capabilities.BuildRunner, capabilities.TestRunner, capabilities.QualityRunner) {
	if getenvDefault("BUILDFORGE_RUNNER", "docker") == "exec" {
		runner := capabilities.NewExecRunner(
			[]string{"npm", "install"},
			[]string{"npm", "run", "build"},
			[]string{"npm", "test"},
			[]string{"npm", "run", "lint"},
		)
		return runner, runner, runner
	}

	dockerRunner, err := capabilities.NewDockerRunner(
		getenvDefault("BUILDFORGE_BUILD_IMAGE", "node:20"),
		[]string{"npm", "install"},
		[]string{"npm", "test"},
		[]string{"npm", "run", "lint"},
	)
	if err != nil {
		log.Fatalf("docker runner: %v", err)
	}
	return dockerRunner, dockerRunner, dockerRunner
}

func buildRegistryClient() *capabilities.NPMRegistryClient {
	client := capabilities.NewNPMRegistryClient(os.Getenv("BUILDFORGE_REGISTRY_URL"), os.Getenv("REGISTRY_TOKEN"))
	if tokenURL := os.Getenv("BUILDFORGE_REGISTRY_OAUTH_TOKEN_URL"); tokenURL != "" {
		client = client.WithOAuth2(
			tokenURL,
			os.Getenv("BUILDFORGE_REGISTRY_OAUTH_CLIENT_ID"),
			os.Getenv("BUILDFORGE_REGISTRY_OAUTH_CLIENT_SECRET"),
			nil,
		)
	}
	return client
}

func defaultAgentRegistry() []model.AgentRegistryEntry {
	return []model.AgentRegistryEntry{
		{Name: "scaffold-agent", Path: "scaffold-agent", Priority: 10, ProblemTypes: []model.ProblemType{model.ProblemPackageScaffolding}},
		{Name: "build-fixer", Path: "build-fixer-agent", Priority: 10, ProblemTypes: []model.ProblemType{model.ProblemBuildFailure}},
		{Name: "test-fixer", Path: "test-fixer-agent", Priority: 10, ProblemTypes: []model.ProblemType{model.ProblemTestFailure}},
		{Name: "quality-fixer", Path: "quality-fixer-agent", Priority: 10, ProblemTypes: []model.ProblemType{model.ProblemQualityFailure}},
		{Name: "environment-fixer", Path: "environment-fixer-agent", Priority: 5, ProblemTypes: []model.ProblemType{model.ProblemEnvironmentError}},
	}
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
