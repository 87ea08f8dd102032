package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"ojkit/internal/cli/command"
	"ojkit/internal/cli/config"
	"ojkit/internal/cli/repl"
	"ojkit/internal/cli/state"
	"ojkit/internal/common/cache"
	"ojkit/internal/common/ratelimit"
	"ojkit/internal/judge/adapter"
	_ "ojkit/internal/judge/adapter/all"
	"ojkit/internal/judge/model"
	"ojkit/internal/judge/sandbox/engine"
	"ojkit/internal/judge/sandbox/observer"
	"ojkit/internal/judge/sandbox/runner"
	"ojkit/internal/judge/service"
	"ojkit/internal/judge/session"
	"ojkit/internal/judge/testcase"
	pkgerrors "ojkit/pkg/errors"
	"ojkit/pkg/utils/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const rateLimitPrefix = "ojkit:ratelimit:"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", defaultConfigPath(), "Path to config file")
	logLevel := flag.String("log-level", "", "Override log level (debug, info, warn, error)")
	metricsAddr := flag.String("metrics", "", "Serve Prometheus metrics on this address, e.g. 127.0.0.1:9464")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: ojkit [flags] [command args...]\n\nWithout a command an interactive shell starts.\n\nflags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		return 1
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}

	if err := logger.Init(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return 1
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	adapters, err := buildAdapters(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init judges failed: %s\n", pkgerrors.Describe(err))
		return 1
	}

	sessionOpts := session.Options{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.HTTP.Timeout,
		Retry:     cfg.Retry,
	}
	var sharedCache cache.Cache
	if cfg.Redis.Enabled() {
		redisCache, err := newRedisCache(cfg.Redis)
		if err != nil {
			logger.Warn(ctx, "redis unavailable, using local rate limits", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		} else {
			defer func() {
				_ = redisCache.Close()
			}()
			sharedCache = redisCache
			sessionOpts.NewLimiter = func(_ model.Judge, interval time.Duration) ratelimit.Limiter {
				return ratelimit.NewRedis(redisCache, rateLimitPrefix, interval, time.Second)
			}
		}
	}

	store, err := testcase.New(cfg.Cache.Root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open test case store failed: %s\n", pkgerrors.Describe(err))
		return 1
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := observer.NewPrometheus(registry)
	testRunner := runner.New(cfg.Runner, engine.New(cfg.Engine), metrics)

	if cfg.Metrics.Addr != "" {
		shutdown, err := serveMetrics(ctx, cfg.Metrics.Addr, registry)
		if err != nil {
			logger.Error(ctx, "start metrics server failed", zap.Error(err))
			return 1
		}
		defer shutdown()
	}

	svc, err := service.New(service.Config{
		Adapters:     adapters,
		Sessions:     sessionOpts,
		Store:        store,
		Runner:       testRunner,
		Cache:        sharedCache,
		PollInterval: cfg.Poll.Interval,
		PollMaxWait:  cfg.Poll.MaxWait,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init service failed: %s\n", pkgerrors.Describe(err))
		return 1
	}

	cookies := state.CookieState{}
	if cfg.State.PersistCookies {
		if cookies, err = state.Load(cfg.State.Path); err != nil {
			logger.Warn(ctx, "load cookie state failed", zap.Error(err))
		}
	}

	commands := command.Registry()
	if args := flag.Args(); len(args) > 0 {
		return runOnce(ctx, svc, cfg, commands, cookies, args)
	}

	rl, err := repl.NewReadline(filepath.Join(filepath.Dir(cfg.State.Path), "history"), commands)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init line editor failed: %v\n", err)
		return 1
	}
	defer func() {
		_ = rl.Close()
	}()

	sess := repl.New(svc, cfg, commands, cookies, rl.Stdout(), repl.NewReadlinePrompter(rl))
	sess.RestoreCookies(ctx)
	defer sess.SaveCookies(context.WithoutCancel(ctx))
	if err := sess.Run(ctx, rl); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	return 0
}

func runOnce(ctx context.Context, svc *service.Service, cfg config.Config, commands map[string]command.Command, cookies state.CookieState, args []string) int {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	sess := repl.New(svc, cfg, commands, cookies, os.Stdout, repl.NewLinePrompter(os.Stdin, os.Stderr))
	sess.RestoreCookies(ctx)
	err := sess.Exec(ctx, args)
	sess.SaveCookies(context.WithoutCancel(ctx))
	switch {
	case err == nil, errors.Is(err, repl.ErrExit):
		return 0
	case pkgerrors.Is(err, pkgerrors.TestsFailed):
		return 1
	}
	fmt.Fprintf(os.Stderr, "error: %s\n", pkgerrors.Describe(err))
	return 2
}

func buildAdapters(cfg config.Config) ([]adapter.Adapter, error) {
	adapters := make([]adapter.Adapter, 0, len(model.AllJudges))
	for _, judge := range model.AllJudges {
		a, err := adapter.Build(judge, cfg.Judge(judge).Options)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}

func newRedisCache(rc config.RedisConfig) (*cache.RedisCache, error) {
	redisCfg := cache.DefaultRedisConfig()
	redisCfg.Addr = rc.Addr
	redisCfg.Password = rc.Password
	redisCfg.DB = rc.DB
	return cache.NewRedisCacheWithConfig(redisCfg)
}

func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry) (func(), error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	go func() {
		logger.Info(ctx, "metrics server started", zap.String("addr", addr))
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "metrics server stopped", zap.Error(err))
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}, nil
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "ojkit.yaml"
	}
	return filepath.Join(dir, "ojkit", "config.yaml")
}
