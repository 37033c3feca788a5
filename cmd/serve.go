package cmd

import (
	"errors"
	"fmt"

	"github.com/Mr-SGXXX/pyerm/config"
	"github.com/Mr-SGXXX/pyerm/router"
	"github.com/Mr-SGXXX/pyerm/service"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve the experiment database over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// 默认使用 release，避免以 debug 模式启动
		if gin.Mode() == gin.DebugMode {
			gin.SetMode(gin.ReleaseMode)
		}
		logger := config.EnsureLoggerInitialized()
		cfg := config.Current()

		database, err := openDatabase(cmd.Context())
		if err != nil {
			return err
		}
		defer database.Close()

		if err := config.InitRedis(); err != nil {
			if !errors.Is(err, config.ErrRedisNotConfigured) {
				logger.Warn("redis unavailable, statistics cache disabled", "error", err)
			}
		} else {
			defer config.CloseRedis()
		}
		cache := service.NewStatisticsCache(config.RedisClient, cfg.Redis.CacheTTL())

		r := router.SetupRouter(database, cache)

		port := cfg.Server.Port
		if servePort != 0 {
			port = servePort
		}
		logger.Info("server starting", "port", port, "db", database.Path)
		fmt.Printf("Server is running on port %d...\n", port)
		return r.Run(fmt.Sprintf(":%d", port))
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port, defaults to server.port in config")
}
