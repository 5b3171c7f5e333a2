// agentcheck runs certificate verification sessions: the model drives a fixed
// set of decision tools until it decides, escalates or runs out of iterations.
// Each seed file (JSON or YAML) is one case; the verdict and audit log are
// printed as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/agentcheck/agentcheck/internal/agent"
	"github.com/agentcheck/agentcheck/internal/agent/templates"
	"github.com/agentcheck/agentcheck/internal/audit"
	"github.com/agentcheck/agentcheck/internal/compliance"
	"github.com/agentcheck/agentcheck/internal/config"
	"github.com/agentcheck/agentcheck/internal/core"
	"github.com/agentcheck/agentcheck/internal/health"
	"github.com/agentcheck/agentcheck/internal/llm"
	"github.com/agentcheck/agentcheck/internal/policy"
	"github.com/agentcheck/agentcheck/internal/queue"
	"github.com/agentcheck/agentcheck/internal/registry"
	"github.com/agentcheck/agentcheck/internal/server"
	"github.com/agentcheck/agentcheck/internal/store"
	"github.com/agentcheck/agentcheck/internal/tools"
)

func main() {
	configDir := flag.String("config", "", "config directory (default: AGENTCHECK_CONFIG_DIR, ./.agentcheck or ~/.config/agentcheck)")
	script := flag.String("script", "", "replay a YAML model script instead of calling a provider")
	dbPath := flag.String("db", "", "SQLite database path (\"-\" disables persistence)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: agentcheck [-config dir] [-script file.yaml] [-db path] seed.json...\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.New(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *script != "" {
		cfg.Provider = "scripted"
		cfg.ScriptPath = *script
	}
	switch *dbPath {
	case "":
	case "-":
		cfg.DBPath = ""
	default:
		cfg.DBPath = *dbPath
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, flag.Args(), os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type output struct {
	Seed     string         `json:"seed"`
	TaskID   string         `json:"task_id,omitempty"`
	Verdict  *agent.Verdict `json:"verdict,omitempty"`
	AuditLog []audit.Record `json:"audit_log"`
	Error    string         `json:"error,omitempty"`
}

func run(ctx context.Context, cfg *config.Config, seedPaths []string, w io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	pol, err := buildPolicy(cfg)
	if err != nil {
		return err
	}

	seeds := make([]core.Seed, 0, len(seedPaths))
	for _, p := range seedPaths {
		s, err := loadSeed(p)
		if err != nil {
			return err
		}
		seeds = append(seeds, s)
	}

	client, err := registry.NewClient(cfg)
	if err != nil {
		return fmt.Errorf("model client: %w", err)
	}
	analyzer, err := compliance.NewAnalyzer(client, cfg.AnalysisCacheSize)
	if err != nil {
		return err
	}
	reg, err := tools.NewCatalogue(analyzer)
	if err != nil {
		return err
	}
	if err := templates.EnsureTemplates(cfg.ConfigDir); err != nil {
		log.Printf("[MAIN] Could not write prompt templates to %s: %v", cfg.ConfigDir, err)
	}
	prompts, err := agent.NewTemplateRenderer(cfg.ConfigDir)
	if err != nil {
		return fmt.Errorf("prompt templates: %w", err)
	}

	promReg := prometheus.NewRegistry()
	ctrl := &agent.Controller{
		Registry:           reg,
		Client:             client,
		Policy:             pol.Policy,
		PolicyHash:         pol.Hash,
		Prompts:            prompts,
		Metrics:            agent.NewMetrics(promReg),
		ToolOutputMaxRunes: cfg.ToolOutputMaxRunes,
	}
	checks := health.NewRegistry()
	checks.Register("model", health.CheckerFunc(func() health.ComponentHealth {
		return health.ComponentHealth{Status: health.StatusOK, Message: cfg.Provider + " " + cfg.Model}
	}))

	var db *store.DB
	if cfg.DBPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
			return err
		}
		db, err = store.Open(ctx, cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer db.Close()
		checks.Register("database", db)
	}
	if cfg.MetricsAddr != "" {
		go serve(cfg.MetricsAddr, server.NewRouter(db, promReg, checks))
	}

	var outs []output
	if db != nil {
		outs, err = runQueued(ctx, db, ctrl, cfg.Workers, seedPaths, seeds)
		if err != nil {
			return err
		}
	} else {
		outs = runDirect(ctx, ctrl, seedPaths, seeds)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	failed := 0
	for _, o := range outs {
		if o.Error != "" {
			failed++
		}
		if err := enc.Encode(o); err != nil {
			return err
		}
	}

	if cfg.MetricsAddr != "" && ctx.Err() == nil {
		log.Printf("[MAIN] Serving %s until interrupted", cfg.MetricsAddr)
		<-ctx.Done()
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d session(s) failed", failed, len(outs))
	}
	return nil
}

// buildPolicy starts from the built-in policy, applies the config limits and
// lets a policy file override both.
func buildPolicy(cfg *config.Config) (policy.Loaded, error) {
	if cfg.PolicyPath != "" {
		l, err := policy.Load(cfg.PolicyPath)
		if err != nil {
			return policy.Loaded{}, fmt.Errorf("policy %s: %w", cfg.PolicyPath, err)
		}
		log.Printf("[MAIN] Loaded policy %s (%s)", cfg.PolicyPath, l.Hash)
		return l, nil
	}
	p := policy.Default()
	p.MaxIterations = cfg.MaxIterations
	p.ConfidenceThreshold = cfg.ConfidenceThreshold
	if err := p.Validate(); err != nil {
		return policy.Loaded{}, err
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return policy.Loaded{}, err
	}
	return policy.Loaded{Policy: p, Hash: policy.Digest(data), Bytes: data}, nil
}

// loadSeed reads a case file. .yaml and .yml are YAML; anything else is JSON.
func loadSeed(path string) (core.Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return core.Seed{}, err
	}
	var s core.Seed
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &s)
	default:
		err = json.Unmarshal(data, &s)
	}
	if err != nil {
		return core.Seed{}, fmt.Errorf("seed %s: %w", path, err)
	}
	if s.Certificate.CandidateName == "" && s.Certificate.CertificateID == "" {
		return core.Seed{}, fmt.Errorf("seed %s: certificate has neither candidate_name nor certificate_id", path)
	}
	return s, nil
}

func runDirect(ctx context.Context, ctrl *agent.Controller, paths []string, seeds []core.Seed) []output {
	outs := make([]output, len(seeds))
	for i, s := range seeds {
		c := *ctrl
		c.Client = forkClient(ctrl.Client)
		v, records, err := c.Run(ctx, s)
		outs[i] = output{Seed: paths[i], AuditLog: records}
		if err != nil {
			outs[i].Error = err.Error()
			continue
		}
		outs[i].Verdict = &v
	}
	return outs
}

func runQueued(ctx context.Context, db *store.DB, ctrl *agent.Controller, workers int, paths []string, seeds []core.Seed) ([]output, error) {
	q := queue.New(db, ctrl, workers)
	q.NewClient = func() core.ToolCaller { return forkClient(ctrl.Client) }

	byTask := make(map[string]int, len(seeds))
	for i, s := range seeds {
		id, err := q.Submit(ctx, s)
		if err != nil {
			return nil, err
		}
		byTask[id] = i
	}
	results, err := q.Drain(ctx)
	if err != nil {
		return nil, err
	}
	outs := make([]output, len(seeds))
	for i := range outs {
		outs[i] = output{Seed: paths[i], Error: "task was not run"}
	}
	for _, r := range results {
		i, ok := byTask[r.TaskID]
		if !ok {
			// left PENDING by an earlier invocation
			continue
		}
		o := output{Seed: paths[i], TaskID: r.TaskID, Verdict: r.Verdict, AuditLog: r.Log}
		if r.Err != nil {
			o.Error = r.Err.Error()
		}
		outs[i] = o
	}
	return outs, nil
}

// forkClient gives each session its own replay when the client is scripted.
func forkClient(c core.ToolCaller) core.ToolCaller {
	if sc, ok := c.(*llm.ScriptedClient); ok {
		return sc.Fork()
	}
	return c
}

func serve(addr string, h http.Handler) {
	log.Printf("[MAIN] HTTP listening on %s (/metrics, /healthz, /api/v1)", addr)
	if err := http.ListenAndServe(addr, h); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("[MAIN] HTTP server: %v", err)
	}
}
