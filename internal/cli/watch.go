package cli

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"pokerclub/pkg/portalclient"

	"github.com/spf13/cobra"
)

func newWatchCmd() *cobra.Command {
	var (
		server   string
		appID    uint64
		tableID  uint64
		interval time.Duration
		noPush   bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "以门户客户端的方式跟踪玩家余额（推送 + 轮询）",
		RunE: func(cmd *cobra.Command, args []string) error {
			if appID == 0 {
				return fmt.Errorf("必须指定 --app-id")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			watcher := portalclient.NewWatcher(portalclient.NewClient(server, nil), appID, portalclient.WatcherOptions{
				PollInterval: interval,
				DisablePush:  noPush,
				TableID:      tableID,
				OnChange: func(snap *portalclient.Snapshot) {
					b := snap.Balance
					fmt.Fprintf(out, "%s v%d cash=%s credit=%s/%s table=%s seated=%t",
						time.Now().Format(time.RFC3339), b.Version,
						b.Cash.StringFixed(2), b.Credit.StringFixed(2), b.CreditLimit.StringFixed(2),
						b.TableBalance.Total.StringFixed(2), b.IsSeated)
					if snap.Seat != nil && snap.Seat.Session != nil {
						fmt.Fprintf(out, " seat=%d phase=%s", snap.Seat.Session.SeatNumber, snap.Seat.Phase)
					}
					fmt.Fprintln(out)
				},
			})
			watcher.Run(ctx)
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "http://127.0.0.1:8080", "服务地址")
	cmd.Flags().Uint64Var(&appID, "app-id", 0, "玩家ID")
	cmd.Flags().Uint64Var(&tableID, "table-id", 0, "同时跟踪该桌的座位会话")
	cmd.Flags().DurationVar(&interval, "poll", 30*time.Second, "轮询间隔")
	cmd.Flags().BoolVar(&noPush, "no-push", false, "只使用轮询")
	return cmd
}
