package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"safeconnect/internal/agent/app"
	"safeconnect/internal/config"
	"safeconnect/internal/logging"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "safeconnect-agent",
		Short:         "采集出站 TCP 连接并按信誉分类",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := config.ValidateAgent(cfg); err != nil {
				return fmt.Errorf("配置非法：\n%w", err)
			}
			logger := logging.NewWithComponent(cfg.Log, "agent")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := app.Run(ctx, cfg, logger); err != nil {
				return fmt.Errorf("agent 退出：%w", err)
			}
			logger.Info().Msg("agent 正常退出")
			return nil
		},
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("SAFECONNECT_CONFIG"), "YAML 配置文件路径，可选")

	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
