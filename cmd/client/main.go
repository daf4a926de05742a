package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"safeconnect/internal/client/app"
)

func main() {
	var cfg app.Config

	rootCmd := &cobra.Command{
		Use:           "safeconnect-client",
		Short:         "查询 dashboard API 并以表格输出",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfg.Server, "server", "http://127.0.0.1:5000", "server 地址")
	rootCmd.PersistentFlags().DurationVar(&cfg.Timeout, "timeout", 10*time.Second, "请求超时")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "connections",
		Short: "当前连接及其风险等级",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Connections(cmd.Context(), cfg)
		},
	})

	var q app.HistoryQuery
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "历史账本",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q.Risk = strings.ToUpper(q.Risk)
			if cmd.Flags().Changed("active") {
				v, _ := cmd.Flags().GetBool("active")
				q.Active = fmt.Sprint(v)
			}
			return app.History(cmd.Context(), cfg, q)
		},
	}
	historyCmd.Flags().StringVar(&q.Risk, "risk", "", "按风险等级过滤：SAFE/SUSPICIOUS/MALICIOUS/UNKNOWN")
	historyCmd.Flags().Bool("active", false, "只看当前在线（--active=false 只看已断开）")
	rootCmd.AddCommand(historyCmd)

	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
