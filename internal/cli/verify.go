package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"pokerclub/internal/dependencies/clock"
	"pokerclub/internal/service"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// ErrLedgerMismatch 对账发现不一致，命令以非零状态退出
var ErrLedgerMismatch = errors.New("账本不一致")

func newVerifyLedgerCmd(opts *rootOptions) *cobra.Command {
	var appID uint64

	cmd := &cobra.Command{
		Use:   "verify-ledger",
		Short: "用流水重放余额并与玩家行比对",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDB(func(db *gorm.DB) error {
				ledger := service.NewLedgerService(db, nil, clock.New(), opts.cfg)
				out := cmd.OutOrStdout()
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")

				if appID != 0 {
					report, err := ledger.VerifyLedger(cmd.Context(), appID)
					if err != nil {
						return err
					}
					if err := enc.Encode(report); err != nil {
						return err
					}
					if !report.Consistent {
						return ErrLedgerMismatch
					}
					return nil
				}

				mismatches, checked, err := ledger.VerifyAll(cmd.Context())
				if err != nil {
					return err
				}
				for _, report := range mismatches {
					if err := enc.Encode(report); err != nil {
						return err
					}
				}
				fmt.Fprintf(out, "已校验 %d 个玩家，不一致 %d 个\n", checked, len(mismatches))
				if len(mismatches) > 0 {
					return ErrLedgerMismatch
				}
				return nil
			})
		},
	}

	cmd.Flags().Uint64Var(&appID, "app-id", 0, "只校验指定玩家，缺省校验全部")
	return cmd
}
