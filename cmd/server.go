package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/itiky/chatsync/service/server"
	"github.com/itiky/chatsync/storage"
)

const (
	FlagPort           = "port"
	FlagQueueSize      = "queue-size"
	FlagBatchPeriod    = "batch-period"
	FlagPollTimeout    = "poll-timeout"
	FlagFullUpdateMsgs = "full-update-msgs"
	FlagEchoOperator   = "echo-operator"
)

// GetServerCmd returns stub chat server start command.
func GetServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start stub chat server",
		Run: func(cmd *cobra.Command, args []string) {
			// Parse inputs
			cfg := loadConfig(cmd, map[string]string{
				"server.port":                  FlagPort,
				"server.file_path":             FlagFilePath,
				"server.queue_size":            FlagQueueSize,
				"server.batch_period":          FlagBatchPeriod,
				"server.poll_timeout":          FlagPollTimeout,
				"server.full_update_msg_limit": FlagFullUpdateMsgs,
				"server.echo_operator":         FlagEchoOperator,
			})
			if err := cfg.Server.Validate(); err != nil {
				log.Fatalf("server config: %v", err)
			}

			// Init service
			deltaLog, err := storage.NewDeltaLogFromFile(cfg.Server.FilePath, cfg.Server.FullUpdateMsgLimit)
			if err != nil {
				log.Fatalf("storage.NewDeltaLogFromFile: %v", err)
			}

			svc, err := server.NewChatService(deltaLog, cfg.Server.BatchPeriod, server.ChatServiceOptions{
				QueueSize:    cfg.Server.QueueSize,
				PollTimeout:  cfg.Server.PollTimeout,
				EchoOperator: cfg.Server.EchoOperator,
			})
			if err != nil {
				log.Fatalf("service init: %v", err)
			}

			// Start server
			svc.Start()
			startMetricsServer(cfg.Metrics.Addr)

			httpSrv := &http.Server{
				Addr:    ":" + strconv.Itoa(cfg.Server.Port),
				Handler: server.NewRouter(svc),
			}
			go func() {
				if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatalf("HTTP server: %v", err)
				}
			}()

			log.Printf("HTTP server started: :%d", cfg.Server.Port)

			waitForSignal()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(ctx); err != nil {
				log.Printf("HTTP server: shutdown: %v", err)
			}
			svc.Stop()
		},
	}
	cmd.Flags().Int(FlagPort, 2412, "(optional) server port")
	cmd.Flags().Int(FlagQueueSize, 50, "(optional) visitor actions queue limit")
	cmd.Flags().Duration(FlagBatchPeriod, 500*time.Millisecond, "(optional) visitor actions handling period")
	cmd.Flags().Duration(FlagPollTimeout, 30*time.Second, "(optional) delta long-poll timeout")
	cmd.Flags().Int(FlagFullUpdateMsgs, 100, "(optional) max number of messages in a full update")
	cmd.Flags().Bool(FlagEchoOperator, false, "(optional) reply to visitor messages on behalf of the operator")
	cmd.Flags().String(FlagFilePath, "./resources/history.dat", "(optional) path to generated history file")

	return cmd
}

func init() {
	rootCmd.AddCommand(GetServerCmd())
}
