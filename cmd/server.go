package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/snakeclub/chat-robot/internal/api"
	"github.com/snakeclub/chat-robot/internal/auth"
	"github.com/snakeclub/chat-robot/internal/messages"
	"github.com/snakeclub/chat-robot/internal/server"
	"github.com/snakeclub/chat-robot/internal/session"
)

var serverPort int

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the QA HTTP and WebSocket server",
	Long:  `Starts the chat robot server with the session and search REST API, the push message queue and the WebSocket chat endpoint.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = serverPort
		}
		logger := newLogger(cfg)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		sweeper := session.NewSweeper(a.sessions, cfg.Session.IdleTimeout, cfg.Session.SweepInterval, logger)
		go sweeper.Run(ctx)

		srv := server.New(server.Config{
			Port:     cfg.Server.Port,
			AllowAll: cfg.Server.AllowAllOrigins,
		}, logger)
		queue := messages.NewQueue(a.db, cfg.QA.QuerySendMessageNum)
		handler := api.New(a.engine, a.sessions, queue, logger).WithNoMatchLog(a.answers)
		if a.segmenter != nil {
			handler.WithSegmenter(a.segmenter)
		}
		if cfg.Auth.Enabled {
			issuer, err := auth.NewIssuer(cfg.Auth)
			if err != nil {
				return err
			}
			handler.WithAuth(issuer)
		}
		handler.RegisterRoutes(srv.Router())

		// Graceful shutdown.
		go func() {
			<-ctx.Done()
			logger.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("server shutdown", "error", err)
			}
		}()

		logger.Info("starting chat-robot server",
			"version", Version,
			"port", cfg.Server.Port,
			"answer_db", a.db.Path(),
			"vectors", a.index.Count(),
			"sessions", cfg.Session.Backend,
			"auth", cfg.Auth.Enabled,
			"intent", cfg.NLP.UseIntent)

		return srv.Start()
	},
}

func init() {
	serverCmd.Flags().IntVar(&serverPort, "port", 8080, "port to listen on (overrides server.port)")
	rootCmd.AddCommand(serverCmd)
}
