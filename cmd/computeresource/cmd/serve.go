package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	slurm "github.com/jontk/slurm-client"

	"github.com/dendro-project/compute-resource-daemon/internal/config"
	"github.com/dendro-project/compute-resource-daemon/internal/controlplane"
	"github.com/dendro-project/compute-resource-daemon/internal/dispatch"
	"github.com/dendro-project/compute-resource-daemon/internal/identity"
	"github.com/dendro-project/compute-resource-daemon/internal/janitor"
	"github.com/dendro-project/compute-resource-daemon/internal/launcher"
	"github.com/dendro-project/compute-resource-daemon/internal/orchestrator"
	"github.com/dendro-project/compute-resource-daemon/internal/pubsub"
	"github.com/dendro-project/compute-resource-daemon/internal/registry"
	"github.com/dendro-project/compute-resource-daemon/internal/slurmbatch"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the compute resource daemon",
	Long:  `Start the compute resource daemon: bootstrap, load the app registry, and run the event loop until terminated.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	log.Println("Starting compute resource daemon...")

	ctx := context.Background()

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("determine working directory: %w", err)
	}
	if err := config.Bootstrap(cwd); err != nil {
		return fmt.Errorf("bootstrap config: %w", err)
	}

	id, err := identity.FromEnv()
	if err != nil {
		// ConfigError: startup-fatal per spec.md.
		return err
	}
	log.Printf("identity loaded: %s", id.ID)

	daemonCfg := config.LoadDaemonConfig()
	runtimeCfg := config.DefaultRuntimeConfig()

	cp := controlplane.New(id, daemonCfg.ControlPlaneBaseURL)

	reg, err := registry.Load(ctx, cp, registry.NewHTTPSpecFetcher())
	if err != nil {
		return fmt.Errorf("load app registry: %w", err)
	}
	log.Printf("loaded %d apps, %d SLURM-backed processors", len(reg.Apps), len(reg.SlurmProcessorNames()))

	if err := cp.PutSpec(ctx, registry.PublicSpec(reg.Apps)); err != nil {
		// Non-fatal: spec reporting failure does not stop the daemon.
		log.Printf("could not report spec to control plane: %v", err)
	}

	sub, err := cp.GetPubsubSubscription(ctx)
	if err != nil {
		return fmt.Errorf("fetch pubsub subscription: %w", err)
	}
	pubsubClient, err := pubsub.Connect(ctx, sub, daemonCfg.PubsubWebsocketURL)
	if err != nil {
		return fmt.Errorf("connect pubsub channel: %w", err)
	}
	defer pubsubClient.Close()

	local := launcher.NewLocal()
	awsBatch, err := launcher.NewAWSBatch(ctx, daemonCfg.AWSRegion)
	if err != nil {
		return fmt.Errorf("initialize AWS Batch launcher: %w", err)
	}

	dispatcher := dispatch.New(cp, reg, local, awsBatch, nil, runtimeCfg.MaxSimultaneousLocalJobs, daemonCfg.WorkingDirRoot)

	slurmHandlers := make(map[string]*slurmbatch.Handler)
	if len(reg.SlurmProcessorNames()) > 0 {
		slurmClient, err := newSlurmClient()
		if err != nil {
			return fmt.Errorf("initialize SLURM client: %w", err)
		}
		for _, procName := range reg.SlurmProcessorNames() {
			app, err := reg.AppByProcessor(procName)
			if err != nil {
				return fmt.Errorf("resolve SLURM app for processor %s: %w", procName, err)
			}
			slurmHandlers[procName] = slurmbatch.NewHandler(procName, app.Slurm, slurmClient.Jobs(), dispatcher)
		}
	}
	router := slurmbatch.NewRouter(slurmHandlers)
	dispatcher.SetSlurmForwarder(router)

	if _, err := janitor.Spawn(daemonCfg.WorkingDirRoot + "/jobs"); err != nil {
		log.Printf("could not spawn janitor process: %v", err)
	}

	orch := orchestrator.New(pubsubClient, dispatcher, router.Handlers(), orchestrator.TestHooks{})

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	healthServer := &http.Server{Addr: "0.0.0.0:" + daemonCfg.HealthPort, Handler: mux}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("health endpoint listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("health server error: %v", err)
		}
	}()

	go orch.Run(sigCtx, 0)

	<-sigCtx.Done()
	log.Println("shutdown signal received, shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("error during health server shutdown: %v", err)
	}

	log.Println("compute resource daemon stopped")
	return nil
}

// newSlurmClient builds a production SLURM REST API client from the
// ambient environment. Only constructed when the registry actually loaded
// at least one SLURM-backed processor.
func newSlurmClient() (slurm.SlurmClient, error) {
	baseURL := os.Getenv("DENDRO_SLURM_BASE_URL")
	if baseURL == "" {
		return nil, fmt.Errorf("DENDRO_SLURM_BASE_URL is required when a SLURM-backed processor is registered")
	}
	token := os.Getenv("DENDRO_SLURM_TOKEN")

	opts := []slurm.ClientOption{slurm.WithBaseURL(baseURL)}
	if token != "" {
		opts = append(opts, slurm.WithToken(token))
	} else {
		opts = append(opts, slurm.WithNoAuth())
	}

	return slurm.NewClient(context.Background(), opts...)
}
