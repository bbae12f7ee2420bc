// Command conductor runs a multi-agent conversation over a configured pool of
// LLM provider endpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"conductor/pkg/agent"
	"conductor/pkg/config"
	"conductor/pkg/contextmgr"
	"conductor/pkg/eventlog"
	"conductor/pkg/limiter"
	"conductor/pkg/llm"
	"conductor/pkg/llm/anthropic"
	"conductor/pkg/llm/google"
	"conductor/pkg/llm/ollama"
	"conductor/pkg/llm/openai"
	"conductor/pkg/logx"
	"conductor/pkg/metrics"
	"conductor/pkg/persistence"
	"conductor/pkg/proto"
	"conductor/pkg/resilience"
	"conductor/pkg/router"
	"conductor/pkg/scheduler"
	"conductor/pkg/tools"
)

func main() {
	var (
		configPath  = flag.String("config", "conductor.yaml", "path to configuration file")
		task        = flag.String("task", "", "task prompt for the agent pool")
		metricsAddr = flag.String("metrics-addr", "", "address for the Prometheus /metrics endpoint (empty disables)")
		promURL     = flag.String("prom-url", "", "Prometheus server URL for the post-run usage report (empty disables)")
		debug       = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	if *debug {
		logx.SetDebug(true)
	}

	logger := logx.NewLogger("conductor")
	if *task == "" {
		fmt.Fprintln(os.Stderr, "usage: conductor -config conductor.yaml -task \"...\"")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("config error: %v", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	result, err := run(ctx, cfg, *task, *metricsAddr, logger)
	if result != nil {
		printTranscript(result)
	}
	if *promURL != "" {
		reportUsage(context.Background(), cfg, *promURL, logger)
	}
	switch {
	case err == nil:
		os.Exit(0)
	case result != nil && result.State == scheduler.StateAborted:
		logger.Warn("run aborted: %s", result.Reason)
		os.Exit(3)
	default:
		logger.Error("run failed: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, task, metricsAddr string, logger *logx.Logger) (*scheduler.Result, error) {
	recorder := metrics.Recorder(metrics.Nop())
	if cfg.Metrics.Enabled {
		recorder = metrics.NewPrometheusRecorder()
		if metricsAddr != "" {
			go serveMetrics(metricsAddr, logger)
		}
	}

	pool, err := buildPool(cfg)
	if err != nil {
		return nil, err
	}
	rt := router.New(pool, nil)

	limits := make(map[string]limiter.Limits)
	costs := make(map[string]float64)
	for i := range cfg.Endpoints {
		ep := &cfg.Endpoints[i]
		if ep.MaxTPM > 0 || ep.DailyBudgetUSD > 0 {
			limits[ep.ID] = limiter.Limits{
				MaxTokensPerMinute: ep.MaxTPM,
				DailyBudgetUSD:     ep.DailyBudgetUSD,
			}
		}
		if ep.CostPerMTokUSD > 0 {
			costs[ep.ID] = ep.CostPerMTokUSD
		}
	}
	var lim *limiter.Limiter
	if len(limits) > 0 {
		lim = limiter.New(limits)
		defer lim.Close()
	}

	executor := resilience.New(rt, lim, recorder, resilience.Config{
		CallTimeout:            cfg.Resilience.CallTimeout,
		MaxAttemptsPerEndpoint: cfg.Resilience.MaxAttemptsPerEndpoint,
		Hedging:                cfg.Resilience.Hedging,
		HedgeDelay:             cfg.Resilience.HedgeDelay,
		CostPerMTokUSD:         costs,
	})

	registry, err := buildRegistry(cfg)
	if err != nil {
		return nil, err
	}
	toolExec := tools.NewExecutor(registry, cfg.Tools.ExecTimeout)

	ctxmgr, err := contextmgr.NewManager("gpt-4", cfg.Run.MaxContextTokens)
	if err != nil {
		return nil, err
	}

	agents := make([]*agent.Agent, 0, len(cfg.Agents))
	for i := range cfg.Agents {
		spec := cfg.Agents[i]
		a, err := agent.New(agent.Spec{
			ID:                   proto.AgentID(spec.ID),
			Role:                 spec.Role,
			SystemPrompt:         spec.SystemPrompt,
			Tools:                spec.Tools,
			RequiredCapabilities: spec.RequiredCapabilities,
			PreferEndpoint:       spec.PreferEndpoint,
			MaxTokens:            spec.MaxTokens,
			Temperature:          spec.Temperature,
			CanVote:              spec.CanVote,
		}, executor, ctxmgr, registry)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}

	observer, closeObserver, err := buildObserver(cfg, task, logger)
	if err != nil {
		return nil, err
	}
	defer closeObserver()

	termination, err := scheduler.ParseTerminationMode(cfg.Run.Termination)
	if err != nil {
		return nil, err
	}
	sched, err := scheduler.New(agents, toolExec, observer, scheduler.Config{
		Termination:  termination,
		Terminator:   proto.AgentID(cfg.Run.Terminator),
		MaxTurns:     cfg.Run.MaxTurns,
		MaxWallClock: cfg.Run.MaxWallClock,
	})
	if err != nil {
		return nil, err
	}

	result, runErr := sched.Run(ctx, task)
	observer.finish(&result)

	var budgetErr *scheduler.BudgetExceededError
	if errors.As(runErr, &budgetErr) {
		// Budget aborts are reported through the result, not as failures.
		return &result, nil
	}
	return &result, runErr
}

func buildPool(cfg *config.Config) ([]*router.Endpoint, error) {
	pool := make([]*router.Endpoint, 0, len(cfg.Endpoints))
	for i := range cfg.Endpoints {
		spec := &cfg.Endpoints[i]

		var client llm.LLMClient
		switch spec.Provider {
		case config.ProviderAnthropic:
			client = anthropic.NewClient(spec.APIKey, spec.Model)
		case config.ProviderOpenAI:
			client = openai.NewClient(spec.APIKey, spec.Model)
		case config.ProviderOllama:
			client = ollama.NewClient(spec.Host, spec.Model)
		case config.ProviderGoogle:
			client = google.NewClient(spec.APIKey, spec.Model)
		default:
			return nil, fmt.Errorf("unknown provider %q for endpoint %s", spec.Provider, spec.ID)
		}

		health := router.DefaultHealthConfig()
		if spec.Health != nil {
			health = router.HealthConfig{
				DegradeThreshold: spec.Health.DegradeThreshold,
				OpenThreshold:    spec.Health.OpenThreshold,
				SuccessThreshold: spec.Health.SuccessThreshold,
				Cooldown:         spec.Health.Cooldown,
			}
		}
		client = llm.Chain(client, llm.LoggingMiddleware(logx.NewLogger("llm."+spec.ID)))
		pool = append(pool, router.NewEndpoint(spec.ID, spec.Provider, spec.Capabilities, client, health))
	}
	return pool, nil
}

func buildRegistry(cfg *config.Config) (*tools.Registry, error) {
	registry := tools.NewRegistry()

	workDir := cfg.Tools.WorkDir
	if workDir == "" {
		workDir = "."
	}
	extract, err := tools.NewExtractTool(workDir, cfg.Tools.ExtractMaxTokens, nil)
	if err != nil {
		return nil, err
	}
	if err := registry.Register(extract); err != nil {
		return nil, err
	}

	segment, err := tools.NewSegmentTool()
	if err != nil {
		return nil, err
	}
	if err := registry.Register(segment); err != nil {
		return nil, err
	}
	return registry, nil
}

// runObserver fans run events out to persistence and the event log.
type runObserver struct {
	store  *persistence.Store
	events *eventlog.Writer
	logger *logx.Logger
	task   string
}

func buildObserver(cfg *config.Config, task string, logger *logx.Logger) (*runObserver, func(), error) {
	obs := &runObserver{logger: logger, task: task}

	if cfg.Storage.DBPath != "" {
		store, err := persistence.Open(cfg.Storage.DBPath)
		if err != nil {
			return nil, nil, err
		}
		obs.store = store
	}
	if cfg.Storage.EventLogDir != "" {
		events, err := eventlog.NewWriter(cfg.Storage.EventLogDir)
		if err != nil {
			if obs.store != nil {
				_ = obs.store.Close()
			}
			return nil, nil, err
		}
		obs.events = events
	}

	closeAll := func() {
		if obs.events != nil {
			_ = obs.events.Close()
		}
		if obs.store != nil {
			_ = obs.store.Close()
		}
	}
	return obs, closeAll, nil
}

// OnMessage implements scheduler.Observer.
func (o *runObserver) OnMessage(runID string, msg proto.Message) {
	if o.store != nil {
		if err := o.store.AppendMessage(context.Background(), runID, &msg); err != nil {
			o.logger.Warn("failed to persist message: %v", err)
		}
	}
	if o.events != nil {
		if err := o.events.Append(eventlog.Event{RunID: runID, Type: eventlog.TypeMessage, Message: &msg}); err != nil {
			o.logger.Warn("failed to log message event: %v", err)
		}
	}
}

// OnStateChange implements scheduler.Observer.
func (o *runObserver) OnStateChange(runID string, state scheduler.RunState, reason string) {
	if o.store != nil && state == scheduler.StateRunning {
		if err := o.store.CreateRun(context.Background(), runID, o.task, string(state)); err != nil {
			o.logger.Warn("failed to persist run: %v", err)
		}
	}
	if o.events != nil {
		if err := o.events.Append(eventlog.Event{RunID: runID, Type: eventlog.TypeState, State: string(state), Reason: reason}); err != nil {
			o.logger.Warn("failed to log state event: %v", err)
		}
	}
}

func (o *runObserver) finish(result *scheduler.Result) {
	if o.store == nil {
		return
	}
	if err := o.store.FinishRun(context.Background(), result.RunID, string(result.State), result.Reason, result.Turns); err != nil {
		o.logger.Warn("failed to finalize run: %v", err)
	}
}

func serveMetrics(addr string, logger *logx.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("metrics listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server: %v", err)
	}
}

// reportUsage prints aggregated token and request totals from Prometheus.
// Failures are logged, not fatal; the run itself already finished.
func reportUsage(ctx context.Context, cfg *config.Config, promURL string, logger *logx.Logger) {
	query, err := metrics.NewQueryService(promURL)
	if err != nil {
		logger.Warn("usage report unavailable: %v", err)
		return
	}

	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	fmt.Println("usage:")
	for i := range cfg.Agents {
		usage, err := query.GetAgentUsage(queryCtx, cfg.Agents[i].ID)
		if err != nil {
			logger.Warn("failed to query usage for agent %s: %v", cfg.Agents[i].ID, err)
			continue
		}
		fmt.Printf("  agent %s: %d prompt + %d completion = %d tokens\n",
			usage.AgentID, usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens)
	}
	for i := range cfg.Endpoints {
		usage, err := query.GetEndpointUsage(queryCtx, cfg.Endpoints[i].ID)
		if err != nil {
			logger.Warn("failed to query usage for endpoint %s: %v", cfg.Endpoints[i].ID, err)
			continue
		}
		fmt.Printf("  endpoint %s: %d requests, %d errors, %d retries\n",
			usage.EndpointID, usage.Requests, usage.Errors, usage.Retries)
	}
}

func printTranscript(result *scheduler.Result) {
	fmt.Printf("run %s: %s (%d turns, %s)\n", result.RunID, result.State, result.Turns, result.EndedAt.Sub(result.StartedAt).Round(time.Millisecond))
	if result.Reason != "" {
		fmt.Printf("reason: %s\n", result.Reason)
	}
	for i := range result.Messages {
		fmt.Println(result.Messages[i].String())
	}
}
