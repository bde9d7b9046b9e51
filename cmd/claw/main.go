package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"amightyclaw/internal/agent"
	"amightyclaw/internal/bus"
	"amightyclaw/internal/config"
	"amightyclaw/internal/gateway"
	"amightyclaw/internal/llm"
	"amightyclaw/internal/logging"
	"amightyclaw/internal/scheduler"
	"amightyclaw/internal/soul"
	"amightyclaw/internal/store"
	"amightyclaw/internal/tools"
	"amightyclaw/internal/tui"
)

func main() {
	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd = args[0]
		args = args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = runServe(args)
	case "chat":
		err = runChat(args)
	case "cron":
		err = runCron(args)
	case "status":
		err = runStatus(args)
	case "secret":
		err = runSecret(args)
	default:
		err = fmt.Errorf("unknown command %q (serve|chat|cron|status|secret)", cmd)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// engine bundles everything a running instance needs.
type engine struct {
	cfg   config.Config
	store *store.Store
	cache *store.UsageCache
	bus   *bus.Bus
	gate  *agent.Gate
	sched *scheduler.Scheduler
	orch  *agent.Orchestrator
}

func buildEngine(configPath string) (*engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logging.Setup(cfg.LogLevel, os.Stderr)
	log := logging.New("main")

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}

	var cache *store.UsageCache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		cache, err = store.NewUsageCache(cfg.RedisURL)
		if err != nil {
			log.Warn("redis unavailable, using sqlite only", "error", err)
			cache = nil
		}
	}

	b := bus.New()
	models := llm.NewRegistry(cfg)
	persona := soul.New(cfg.SoulPath())
	assembler := &agent.Assembler{Soul: persona, Store: st}
	gate := agent.NewGate(b, cfg.ApprovalTimeout())
	sched := scheduler.New(st, b)

	reg, err := buildTools(cfg, st, gate, sched)
	if err != nil {
		st.Close()
		return nil, err
	}

	return &engine{
		cfg:   cfg,
		store: st,
		cache: cache,
		bus:   b,
		gate:  gate,
		sched: sched,
		orch:  agent.New(cfg, st, b, models, reg, assembler, cache),
	}, nil
}

func buildTools(cfg config.Config, st *store.Store, gate *agent.Gate, sched *scheduler.Scheduler) (*tools.Registry, error) {
	reg := tools.NewRegistry()
	reg.MustRegister(&tools.RunCommandTool{
		Approver: gate,
		DenyList: cfg.DenyList(),
		Timeout:  cfg.ExecutionTimeout(),
	})
	reg.MustRegister(&tools.SkillWriteTool{Dir: cfg.SkillsDir()})
	reg.MustRegister(&tools.SkillReadTool{Dir: cfg.SkillsDir()})
	reg.MustRegister(&tools.SkillListTool{Dir: cfg.SkillsDir()})
	reg.MustRegister(&tools.ReminderSetTool{Scheduler: sched})
	reg.MustRegister(&tools.ReminderListTool{Scheduler: sched})
	reg.MustRegister(&tools.ReminderRemoveTool{Scheduler: sched})
	reg.MustRegister(&tools.ReminderToggleTool{Scheduler: sched})
	reg.MustRegister(&tools.RedditSearchTool{Store: st})
	reg.MustRegister(&tools.RedditMonitorTool{Store: st})
	reg.MustRegister(&tools.SocialQueryTool{Store: st})

	if key, err := cfg.ResolveSecret(cfg.BraveAPIKey); err != nil {
		return nil, fmt.Errorf("brave_api_key: %w", err)
	} else if strings.TrimSpace(key) != "" {
		reg.MustRegister(&tools.WebSearchTool{APIKey: key})
	}

	if pb := cfg.PhantomBuster; pb != nil {
		key, err := cfg.ResolveSecret(pb.APIKey)
		if err != nil {
			return nil, fmt.Errorf("phantombuster api_key: %w", err)
		}
		if strings.TrimSpace(key) != "" {
			if pb.TweetExtractorAgentID != "" {
				reg.MustRegister(tools.NewXTrackTool(st, key, pb.TweetExtractorAgentID))
			}
			if pb.SearchExportAgentID != "" {
				reg.MustRegister(tools.NewXSearchTool(st, key, pb.SearchExportAgentID))
			}
		}
	}
	return reg, nil
}

// start brings the background loops up. The caller owns ctx.
func (e *engine) start(ctx context.Context) error {
	go e.gate.Run(ctx)
	go e.orch.Run(ctx)
	return e.sched.Start()
}

func (e *engine) close() {
	e.sched.Stop()
	if e.cache != nil {
		_ = e.cache.Close()
	}
	_ = e.store.Close()
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath(), "path to config.json")
	fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := buildEngine(*configPath)
	if err != nil {
		return err
	}
	defer e.close()
	if err := e.start(ctx); err != nil {
		return err
	}

	if e.cfg.Email != nil {
		email := gateway.NewEmailChannel(*e.cfg.Email, e.bus)
		go func() {
			if err := email.Run(ctx); err != nil && ctx.Err() == nil {
				logging.New("main").Warn("email channel stopped", "error", err)
			}
		}()
	}

	srv := gateway.NewServer(e.cfg, e.bus, e.store)
	srv.SetJobManager(e.sched)
	return srv.Run(ctx)
}

func runChat(args []string) error {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath(), "path to config.json")
	profile := fs.String("profile", "", "model profile (default from config)")
	conversation := fs.String("conversation", "", "resume an existing conversation id")
	fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := buildEngine(*configPath)
	if err != nil {
		return err
	}
	defer e.close()
	if err := e.start(ctx); err != nil {
		return err
	}

	return tui.Run(ctx, e.bus, os.Stdin, os.Stdout, tui.Options{
		Profile:        *profile,
		ConversationID: *conversation,
	})
}

func runCron(args []string) error {
	fs := flag.NewFlagSet("cron", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath(), "path to config.json")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer st.Close()

	jobs, err := st.ListCronJobs()
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("(no cron jobs)")
		return nil
	}
	for _, j := range jobs {
		state := "enabled"
		if !j.Enabled {
			state = "disabled"
		}
		lastRun := j.LastRun
		if lastRun == "" {
			lastRun = "never"
		}
		fmt.Printf("%-20s %-14s %-8s last=%s profile=%s\n  %s\n",
			j.Name, j.Expression, state, lastRun, j.Profile, j.Message)
	}
	return nil
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath(), "path to config.json")
	days := fs.Int("days", 7, "how many days of usage to show")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer st.Close()

	summaries, err := st.UsageByDay(*days)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Println("(no usage recorded)")
		return nil
	}
	fmt.Printf("%-12s %-12s %10s %10s %10s\n", "day", "profile", "prompt", "completion", "total")
	for _, u := range summaries {
		fmt.Printf("%-12s %-12s %10d %10d %10d\n",
			u.Day, u.Profile, u.PromptTokens, u.CompletionTokens, u.TotalTokens)
	}
	for name, p := range cfg.Profiles {
		today, err := st.DailyTokens(name, store.DayKey(time.Now()))
		if err != nil {
			continue
		}
		fmt.Printf("today %s: %d / %d tokens\n", name, today, p.MaxTokensPerDay)
	}
	return nil
}

func runSecret(args []string) error {
	fs := flag.NewFlagSet("secret", flag.ExitOnError)
	key := fs.String("key", os.Getenv("AMIGHTYCLAW_ENCRYPTION_KEY"), "encryption key")
	generate := fs.Bool("generate-key", false, "print a fresh encryption key and exit")
	fs.Parse(args)

	if *generate {
		fmt.Println(config.GenerateSecret(48))
		return nil
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: claw secret [--key KEY] <plaintext>")
	}
	if strings.TrimSpace(*key) == "" {
		return fmt.Errorf("encryption key is required (flag --key or AMIGHTYCLAW_ENCRYPTION_KEY)")
	}
	sealed, err := config.Encrypt(fs.Arg(0), *key)
	if err != nil {
		return err
	}
	fmt.Println(sealed)
	return nil
}
