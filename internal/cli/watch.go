package cli

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"hongcang/internal/ops"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "按固定间隔持续抓取，并提供运维查询接口",
	Args:  cobra.NoArgs,
	Run:   watch,
}

func init() {
	RootCmd.AddCommand(watchCmd)
}

func watch(cmd *cobra.Command, args []string) {
	requireSubreddits()

	env, err := setup()
	if err != nil {
		log.Fatalf("初始化失败: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := resolveOptions(cmd, env.cfg)

	// 运维接口随定时抓取一起启动
	srv := ops.NewServer(ctx, env.store, env.scraper, flagSubreddits, opts, env.logger)
	httpSrv := srv.Start(env.cfg.OpsAddr)

	interval := time.Duration(env.cfg.ScrapeIntervalMinutes) * time.Minute
	if err := env.scraper.RunScheduled(ctx, flagSubreddits, opts, interval, srv.SetLast); err != nil {
		env.logger.Fatalf("定时抓取失败: %v", err)
	}

	// 定时抓取退出后优雅关闭运维接口
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		env.logger.Printf("关闭运维接口失败: %v", err)
	}
	env.logger.Println("已退出")
}
