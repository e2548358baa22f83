// Package cli 运维命令行 clubctl：迁移表结构、补发 universal id、账本对账、观察玩家余额
package cli

import (
	"fmt"
	"os"

	"pokerclub/internal/config"
	"pokerclub/internal/dependencies/clock"
	"pokerclub/internal/infrastructure/database"
	"pokerclub/internal/service"
	"pokerclub/pkg/logger"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

type rootOptions struct {
	configPath string
	cfg        *config.Config
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "clubctl",
		Short: "扑克俱乐部运维工具",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			return logger.Init(cfg.Log.Level, cfg.Log.Format)
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "配置文件路径（为空时只读取环境变量 POKERCLUB_*）")

	rootCmd.AddCommand(newMigrateCmd(opts))
	rootCmd.AddCommand(newBackfillCmd(opts))
	rootCmd.AddCommand(newVerifyLedgerCmd(opts))
	rootCmd.AddCommand(newWatchCmd())

	return rootCmd
}

func Execute() {
	defer logger.Sync()
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// withDB 打开数据库执行 fn，结束后关闭连接
// 运维命令不自动迁移，避免误操作生产库表结构
func (o *rootOptions) withDB(fn func(db *gorm.DB) error) error {
	dbCfg := o.cfg.Database
	dbCfg.AutoMigrate = false

	db, err := database.Open(&dbCfg)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	return fn(db)
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "迁移表结构",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDB(func(db *gorm.DB) error {
				if err := database.Migrate(db); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "迁移完成")
				return nil
			})
		},
	}
}

func newBackfillCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backfill-universal-ids",
		Short: "给缺少 universal id 的历史玩家补发，可重复执行",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDB(func(db *gorm.DB) error {
				count, err := service.NewIdentityService(db, clock.New()).BackfillUniversalIDs(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "补发 %d 个 universal id\n", count)
				return nil
			})
		},
	}
}
