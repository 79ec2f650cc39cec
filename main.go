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

	"zonerelay/server"
)

// zonerelay 入口：加载配置，启动反应器与 HTTP + WebSocket 服务
func main() {
	var (
		configPath string
		envPath    string
	)
	flag.StringVar(&configPath, "config", "config.yaml", "path to YAML config")
	flag.StringVar(&envPath, "env", ".env", "optional dotenv file")
	flag.Parse()

	if err := server.LoadDotEnv(envPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := server.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := server.InitLogger(cfg.Log); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer server.SyncLogger()

	bans, err := server.NewBanList(cfg.Redis)
	if err != nil {
		server.Log.Fatalw("ban list", "err", err)
	}
	defer bans.Close()

	hub := server.NewHub(cfg, bans)
	go hub.Run()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.HandleWS)
	mux.HandleFunc("/", hub.HandleStatus)
	// 管理与监控接口
	mux.HandleFunc("/admin/anticheat", hub.HandleAdminAntiCheat)
	mux.HandleFunc("/admin/suspicious", hub.HandleSuspicious)
	mux.HandleFunc("/admin/bans", hub.HandleBans)
	mux.HandleFunc("/metrics", hub.HandleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		server.Log.Infof("relay listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			server.Log.Fatalf("listen: %v", err)
		}
	}()

	// 优雅退出（Ctrl+C）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	server.Log.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		server.Log.Warnw("http shutdown", "err", err)
	}
	if err := hub.Stop(ctx); err != nil {
		server.Log.Warnw("hub stop", "err", err)
	}
}
