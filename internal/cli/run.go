package cli

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "执行一次抓取后退出",
	Args:  cobra.NoArgs,
	Run:   runOnce,
}

func init() {
	RootCmd.AddCommand(runCmd)
}

func runOnce(cmd *cobra.Command, args []string) {
	requireSubreddits()

	env, err := setup()
	if err != nil {
		log.Fatalf("初始化失败: %v", err)
	}

	// Ctrl+C 或 SIGTERM 后在边界停止，正常退出
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := env.scraper.Run(ctx, flagSubreddits, resolveOptions(cmd, env.cfg))
	if err != nil {
		env.logger.Fatalf("抓取失败: %v", err)
	}
	if summary.Interrupted {
		env.logger.Println("收到中断信号，抓取已提前停止")
	}
}
