package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"greenfloor/internal/container"
)

func main() {
	programPath := flag.String("program", "config/program.yaml", "程序配置文件路径")
	marketsPath := flag.String("markets", "config/markets.yaml", "市场配置文件路径")
	overlayPath := flag.String("overlay", "", "叠加的市场配置（如 testnet），留空则不使用")
	envFile := flag.String("env", ".env", "dotenv 文件，不存在时忽略")
	dryRun := flag.Bool("dryRun", false, "仅记录日志与本地报价簿，不调用钱包")
	once := flag.Bool("once", false, "只执行一个周期后退出")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("加载 %s 失败: %v", *envFile, err)
	}

	c, err := container.New(container.Options{
		ProgramPath: *programPath,
		MarketsPath: *marketsPath,
		OverlayPath: *overlayPath,
		DryRun:      *dryRun,
	})
	if err != nil {
		log.Fatalf("初始化失败: %v", err)
	}
	if err := c.Build(); err != nil {
		log.Fatalf("构建组件失败: %v", err)
	}
	lg := c.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *once {
		res := c.Loop().TriggerOnce(ctx)
		lg.Info("single cycle finished",
			zap.String("status", res.Status),
			zap.Int("posted", res.Posted),
			zap.Int("planned", res.Planned))
		_ = lg.Close()
		if res.Status != "ok" {
			os.Exit(1)
		}
		return
	}

	if err := c.Start(ctx); err != nil {
		lg.Error("start failed", zap.Error(err))
		_ = lg.Close()
		os.Exit(1)
	}
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		lg.Warn("sd_notify ready failed", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		watchdog(gctx, c)
		return nil
	})

	<-ctx.Done()
	lg.Info("shutdown signal received")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	_ = g.Wait()
	if err := c.Stop(); err != nil {
		os.Exit(1)
	}
}

// watchdog 在 systemd 启用 WatchdogSec 时按一半间隔上报存活；组件不健康时不上报。
func watchdog(ctx context.Context, c *container.Container) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.HealthCheck(); err != nil {
				c.Logger().Warn("health check failed, skipping watchdog ping", zap.Error(err))
				continue
			}
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
