package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

import (
	"github.com/benbjohnson/clock"
	"github.com/gorilla/mux"
)

import (
	"github.com/nanjiek/relay-sync/internal/api"
	"github.com/nanjiek/relay-sync/internal/config"
	"github.com/nanjiek/relay-sync/internal/controller"
	"github.com/nanjiek/relay-sync/internal/core"
	"github.com/nanjiek/relay-sync/internal/notify"
	"github.com/nanjiek/relay-sync/internal/probe"
	"github.com/nanjiek/relay-sync/internal/repo"
	"github.com/nanjiek/relay-sync/internal/rules"
)

func main() {
	// 解析命令行参数
	confPath := flag.String("c", "configs/relay-sync.yaml", "path to config file")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*confPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	// 初始化Redis连接
	rdb, err := repo.NewRedis(cfg, nil)
	if err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer rdb.Close()

	clk := clock.New()

	// Rule convergence + persistent ad-block rule
	synchronizer := rules.NewSynchronizer(rdb, cfg.Relay.UsherHost)
	if err := synchronizer.EnsureAdBlock(rootCtx); err != nil {
		// 非致命：探测与会话规则收敛不受影响，进程继续运行
		log.Printf("failed to install ad-block rule: %v", err)
	}

	// Read-side rule engine, refreshed on every published install
	engine := core.NewEngine(rdb)
	if err := engine.ReloadAll(rootCtx); err != nil {
		log.Printf("initial rule load failed: %v", err)
	}
	go engine.StartWatcher(rootCtx, rdb.WatchRuleUpdates(rootCtx))

	dispatcher := notify.NewDispatcher(rdb, clk)

	// Controller: startup + periodic + config-change triggers
	ctrl := controller.New(rdb, probe.NewHTTPProbe(cfg.Probe), synchronizer, dispatcher, controller.Config{
		DefaultBaseAddress: cfg.Relay.DefaultBaseAddress,
		Interval:           time.Duration(cfg.Probe.IntervalMs) * time.Millisecond,
		WatchedDomains:     cfg.Relay.WatchedDomains,
	}, clk)
	go ctrl.Start(rootCtx)
	go ctrl.WatchConfig(rootCtx, rdb.WatchConfig(rootCtx))

	// 初始化HTTP服务（只负责注册路由）
	httpServer := api.NewServer(cfg.Server, ctrl, engine, rdb)

	r := mux.NewRouter()
	httpServer.RegisterRoutes(r)

	// 原生 http.Server，方便优雅退出
	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: r,
	}

	go func() {
		log.Printf("server is running on %s (PID: %d)", cfg.Server.HTTPAddr, os.Getpid())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down server...")
	cancelRoot()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server shutdown failed: %v", err)
	}
	log.Println("server exited properly")
}
