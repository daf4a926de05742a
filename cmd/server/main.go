package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"safeconnect/internal/config"
	"safeconnect/internal/logging"
	"safeconnect/internal/server/app"
)

func main() {
	var (
		configPath string
		listen     string
	)

	rootCmd := &cobra.Command{
		Use:           "safeconnect-server",
		Short:         "只读 dashboard API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.Listen = listen
			}
			if err := config.ValidateServer(cfg); err != nil {
				return fmt.Errorf("配置非法：%w", err)
			}
			logger := logging.NewWithComponent(cfg.Log, "server")
			if cfg.Log.Level != "debug" {
				gin.SetMode(gin.ReleaseMode)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, err := app.NewServer(cfg, logger)
			if err != nil {
				return fmt.Errorf("server 初始化失败：%w", err)
			}

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server 运行失败：%w", err)
			}
			return nil
		},
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("SAFECONNECT_CONFIG"), "YAML 配置文件路径，可选")
	rootCmd.Flags().StringVar(&listen, "listen", "", "监听地址，覆盖 server.listen")

	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
