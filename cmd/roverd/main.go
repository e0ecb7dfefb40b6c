// Package main is the entry point for roverd.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/roverfleet/roverd/internal/buildinfo"
	"github.com/roverfleet/roverd/internal/config"
	"github.com/roverfleet/roverd/internal/dashboard"
	"github.com/roverfleet/roverd/internal/events"
	"github.com/roverfleet/roverd/internal/health"
	"github.com/roverfleet/roverd/internal/httpapi"
	"github.com/roverfleet/roverd/internal/ipc"
	"github.com/roverfleet/roverd/internal/mqttbridge"
	"github.com/roverfleet/roverd/internal/motor"
	"github.com/roverfleet/roverd/internal/orchestrator"
	"github.com/roverfleet/roverd/internal/schema"
	"github.com/roverfleet/roverd/internal/session"
	"github.com/roverfleet/roverd/internal/telemetry"
	"github.com/roverfleet/roverd/internal/vision"
	"github.com/roverfleet/roverd/internal/worldstate"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	overridePath := flag.String("config-override", "", "path to an optional override config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if flag.NArg() == 0 {
		printUsage()
		return
	}

	switch flag.Arg(0) {
	case "serve":
		runServe(logger, *configPath, *overridePath)
	case "motor":
		runMotor(logger, *configPath, *overridePath)
	case "version":
		fmt.Println(buildinfo.String())
		for k, v := range buildinfo.Info() {
			fmt.Printf("  %-12s %s\n", k+":", v)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("roverd - robot coordination core")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve    Run the orchestrator process (IPC binder, FSM, HTTP/MQTT adapters)")
	fmt.Println("  motor    Run the motor safety gateway worker (owns the UART port)")
	fmt.Println("  version  Show version")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}

func loadConfig(logger *slog.Logger, configPath, overridePath string) *config.Config {
	projectRoot, err := os.Getwd()
	if err != nil {
		logger.Error("failed to resolve working directory", "err", err)
		os.Exit(1)
	}

	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		logger.Error("config", "err", err)
		os.Exit(1)
	}

	cfg, err := config.Load(cfgPath, overridePath, projectRoot)
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "err", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			logger.Error("invalid log_level in config", "err", err)
			os.Exit(1)
		}
		*logger = *slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}

	logger.Info("config loaded", "path", cfgPath, "ipc_upstream", cfg.IPC.Upstream, "ipc_downstream", cfg.IPC.Downstream)
	return cfg
}

// signalContext returns a context canceled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}

// runServe binds both IPC channels (spec.md §4.1: "typically the
// orchestrator process") and runs the FSM loop alongside every
// component that shares its process-local state: the world context
// store, telemetry aggregator, session manager, HTTP adapter, vision
// mode controller, MQTT bridge, dashboard feed, and collaborator
// health monitor.
func runServe(logger *slog.Logger, configPath, overridePath string) {
	cfg := loadConfig(logger, configPath, overridePath)
	logger.Info("starting roverd", "version", buildinfo.Version, "commit", buildinfo.GitCommit)

	ctx, cancel := signalContext()
	defer cancel()

	fabric, err := ipc.BindFabric(ctx, cfg.IPC.Upstream, cfg.IPC.Downstream, cfg.IPC.HWM, logger)
	if err != nil {
		logger.Error("failed to bind IPC fabric", "err", err)
		os.Exit(1)
	}
	defer fabric.Close()

	world := worldstate.New()
	sessions := session.New(time.Duration(cfg.Orchestrator.RemoteSessionTimeoutS) * time.Second)
	tel := telemetry.New(world, cfg.Telemetry.HistoryLen)
	bus := events.New()

	go feedTelemetry(ctx, fabric.Upstream, tel, logger)

	machine := orchestrator.New(orchestrator.Config{
		STTTimeout:           time.Duration(cfg.Orchestrator.STTTimeoutS) * time.Second,
		LLMTimeout:           time.Duration(cfg.Orchestrator.LLMTimeoutS) * time.Second,
		TTSTimeout:           time.Duration(cfg.Orchestrator.TTSTimeoutS) * time.Second,
		RemoteSessionTimeout: time.Duration(cfg.Orchestrator.RemoteSessionTimeoutS) * time.Second,
	}, orchestrator.NewIDGen())

	loop := orchestrator.NewLoop(machine, world, sessions, fabric, time.Duration(cfg.Orchestrator.PollIntervalMS)*time.Millisecond, orchestrator.AutoTrigger{
		Enabled:  cfg.Orchestrator.AutoTriggerEnabled,
		Interval: time.Duration(cfg.Orchestrator.AutoTriggerIntervalS) * time.Second,
	}, logger)

	visionController := vision.NewController(vision.NullCapturer{}, vision.NullDetector{}, &ipc.WorkerFabric{
		Upstream:   fabric.Upstream,
		Downstream: fabric.Downstream,
	}, logger)
	go visionController.Run(ctx)

	httpSrv, err := httpapi.New(httpapi.Config{
		Bind:       cfg.HTTP.Bind,
		Port:       cfg.HTTP.Port,
		AllowCIDRs: cfg.HTTP.AllowCIDRs,
		LogDir:     cfg.HTTP.LogDir,
	}, sessions, fabric.Upstream, tel, visionController, logger)
	if err != nil {
		logger.Error("failed to construct HTTP adapter", "err", err)
		os.Exit(1)
	}

	if cfg.MQTT.Enabled {
		bridge := mqttbridge.New(cfg.MQTT, instanceID(), tel, logger)
		go func() {
			if err := bridge.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("mqtt bridge stopped", "err", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = bridge.Stop(shutdownCtx)
		}()
		logger.Info("mqtt bridge enabled", "broker", cfg.MQTT.Broker, "device", cfg.MQTT.DeviceName)
	} else {
		logger.Info("mqtt bridge disabled")
	}

	monitor := health.NewMonitor(fabric.Upstream, bus, logger)
	monitor.Watch(ctx, healthTargets(cfg.Health))

	if cfg.HTTP.DashboardPort != 0 {
		dash := dashboard.New(bus, logger)
		mux := http.NewServeMux()
		mux.HandleFunc("/events", dash.Handler())
		dashAddr := fmt.Sprintf("%s:%d", cfg.HTTP.Bind, cfg.HTTP.DashboardPort)
		dashSrv := &http.Server{Addr: dashAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := dashSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("dashboard server stopped", "err", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = dashSrv.Shutdown(shutdownCtx)
		}()
		logger.Info("dashboard enabled", "addr", dashAddr)
	}

	go loop.Run(ctx)

	logger.Info("HTTP adapter listening", "bind", cfg.HTTP.Bind, "port", cfg.HTTP.Port)
	if err := httpSrv.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("HTTP adapter failed", "err", err)
		os.Exit(1)
	}

	logger.Info("roverd stopped")
}

// runMotor connects to an already-bound fabric as a non-binding worker
// and owns the UART port exclusively (spec.md §5: "UART: single owner
// (motor gateway)").
func runMotor(logger *slog.Logger, configPath, overridePath string) {
	cfg := loadConfig(logger, configPath, overridePath)

	ctx, cancel := signalContext()
	defer cancel()

	worker, err := ipc.ConnectWorkerFabric(ctx, cfg.IPC.Upstream, cfg.IPC.Downstream, cfg.IPC.HWM, logger)
	if err != nil {
		logger.Error("failed to connect to IPC fabric", "err", err)
		os.Exit(1)
	}
	defer worker.Close()

	port, err := motor.OpenSerial(motor.Config{Port: cfg.Motor.Port, Baud: cfg.Motor.Baud})
	if err != nil {
		logger.Error("failed to open serial port", "port", cfg.Motor.Port, "err", err)
		os.Exit(1)
	}
	defer port.Close()

	gw := motor.NewGateway(motor.Config{
		Port:              cfg.Motor.Port,
		Baud:              cfg.Motor.Baud,
		StopDistanceCM:    cfg.Motor.StopDistanceCM,
		WarningDistanceCM: cfg.Motor.WarningDistanceCM,
	}, port, worker, logger)

	logger.Info("motor gateway running", "port", cfg.Motor.Port, "baud", cfg.Motor.Baud)
	gw.Run(ctx)
	logger.Info("motor gateway stopped")
}

// feedTelemetry subscribes to the upstream sensor/detection topics and
// records each into tel's ring buffers. Kept separate from
// orchestrator.Loop (which feeds worldstate.Store directly) so the
// telemetry ring-buffer history stays a read-only concern with its own
// subscription, never competing with the FSM's single receive loop.
func feedTelemetry(ctx context.Context, up *ipc.Client, tel *telemetry.Store, log *slog.Logger) {
	sensorCh := up.Subscribe(schema.TopicSensor)
	detectCh := up.Subscribe(schema.TopicVisionDetection)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sensorCh:
			if !ok {
				return
			}
			decoded, err := schema.DecodeUpstream(msg.Topic, msg.Payload)
			if err != nil {
				log.Warn("dropping malformed sensor sample", "err", err)
				continue
			}
			tel.RecordSensor(decoded.(schema.Sensor))
		case msg, ok := <-detectCh:
			if !ok {
				return
			}
			decoded, err := schema.DecodeUpstream(msg.Topic, msg.Payload)
			if err != nil {
				log.Warn("dropping malformed detection", "err", err)
				continue
			}
			tel.RecordDetection(decoded.(schema.VisionDetection))
		}
	}
}

// healthTargets builds the collaborator probe list from whichever HTTP
// health URLs are configured; a blank URL skips that collaborator
// (its liveness is then only as good as whatever health.<service>
// events it publishes directly, e.g. the motor gateway's own
// unrecoverable-write report).
func healthTargets(cfg config.HealthConfig) []health.Target {
	var targets []health.Target
	add := func(service, url string) {
		if url == "" {
			return
		}
		targets = append(targets, health.Target{Service: service, Probe: health.HTTPProbe(nil, url)})
	}
	add(health.ServiceSTT, cfg.STTURL)
	add(health.ServiceLLM, cfg.LLMURL)
	add(health.ServiceTTS, cfg.TTSURL)
	add(health.ServiceVision, cfg.VisionURL)
	return targets
}

// instanceID identifies this roverd instance to the MQTT bridge's
// unique_id fields; the hostname is sufficient since a fleet runs one
// roverd per physical rover.
func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "roverd"
	}
	return host
}
