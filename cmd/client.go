package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/itiky/chatsync/cache"
	"github.com/itiky/chatsync/checkpoint"
	"github.com/itiky/chatsync/config"
	"github.com/itiky/chatsync/notify"
	"github.com/itiky/chatsync/service/client"
	"github.com/itiky/chatsync/storage"
)

const (
	FlagServerUrl      = "server-url"
	FlagSessionName    = "session-name"
	FlagPollRate       = "poll-rate"
	FlagRequestTimeout = "request-timeout"
	FlagPageLimit      = "page-limit"
	FlagCheckpointPath = "checkpoint-path"
	FlagMessagePeriod  = "message-period"
)

// clientFlagKeys binds the client flags to the config keys.
func clientFlagKeys() map[string]string {
	return map[string]string{
		"client.server_url":         FlagServerUrl,
		"client.session_name":       FlagSessionName,
		"client.poll_rate":          FlagPollRate,
		"client.request_timeout":    FlagRequestTimeout,
		"client.history_page_limit": FlagPageLimit,
	}
}

// addClientFlags registers the flags shared by the client commands.
func addClientFlags(cmd *cobra.Command) {
	cmd.Flags().String(FlagServerUrl, "http://127.0.0.1:2412", "(optional) server url")
	cmd.Flags().String(FlagSessionName, "default", "(optional) session name (checkpoint key)")
	cmd.Flags().Float64(FlagPollRate, 10, "(optional) max number of polls per second")
	cmd.Flags().Duration(FlagRequestTimeout, 45*time.Second, "(optional) HTTP request timeout (must exceed the server long-poll timeout)")
	cmd.Flags().Int(FlagPageLimit, 100, "(optional) number of messages per history page")
}

// newClientSession builds the Session with the optional integrations enabled by the config.
// The returned func releases the integrations.
func newClientSession(cfg *config.Config) (*client.Session, func()) {
	closers := make([]func(), 0)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	transport, err := client.NewHTTPTransport(cfg.Client.ServerURL, cfg.Client.RequestTimeout)
	if err != nil {
		log.Fatalf("transport init: %v", err)
	}

	opts := client.SessionOptions{
		PollRate:         rate.Limit(cfg.Client.PollRate),
		BackoffMin:       cfg.Client.BackoffMin,
		BackoffMax:       cfg.Client.BackoffMax,
		HistoryPageLimit: cfg.Client.HistoryPageLimit,
	}

	if cfg.Client.CheckpointPath != "" {
		store, err := checkpoint.Open(cfg.Client.CheckpointPath)
		if err != nil {
			log.Fatalf("checkpoint store init: %v", err)
		}
		closers = append(closers, func() {
			if err := store.Close(); err != nil {
				log.Printf("checkpoint store close: %v", err)
			}
		})
		opts.Checkpoints = store
	}

	if len(cfg.Redis.Addrs) > 0 {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    cfg.Redis.Addrs,
			Password: cfg.Redis.Password,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("redis ping: %v", err)
		}
		closers = append(closers, func() {
			rdb.Close()
		})

		historyCache, err := cache.NewRedisCache(rdb, cfg.Redis.TTL)
		if err != nil {
			log.Fatalf("history cache init: %v", err)
		}
		opts.HistoryCache = historyCache
	}

	session, err := client.NewSession(cfg.Client.SessionName, transport, opts)
	if err != nil {
		log.Fatalf("session init: %v", err)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := notify.NewKafkaProducer(cfg.Kafka.Brokers)
		if err != nil {
			log.Fatalf("kafka producer init: %v", err)
		}
		sink, err := notify.NewKafkaSink(producer, cfg.Kafka.Topic, cfg.Client.SessionName, notify.KafkaSinkOptions{
			QueueSize:   1000,
			MaxRetry:    3,
			BaseBackoff: 100 * time.Millisecond,
			MaxBackoff:  2 * time.Second,
		})
		if err != nil {
			log.Fatalf("kafka sink init: %v", err)
		}

		sink.Start()
		session.Subscribe(sink.Handle)
		closers = append(closers, func() {
			sink.Stop()
			if err := producer.Close(); err != nil {
				log.Printf("kafka producer close: %v", err)
			}
		})
	}

	return session, closeAll
}

// GetClientCmd returns chat client start command.
func GetClientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Start chat client keeping the session in sync",
		Run: func(cmd *cobra.Command, args []string) {
			// Parse inputs
			flagKeys := clientFlagKeys()
			flagKeys["client.checkpoint_path"] = FlagCheckpointPath
			flagKeys["client.message_period"] = FlagMessagePeriod
			cfg := loadConfig(cmd, flagKeys)
			if err := cfg.Client.Validate(); err != nil {
				log.Fatalf("client config: %v", err)
			}

			// Init session
			session, closeAll := newClientSession(cfg)
			defer closeAll()

			session.Subscribe(func(event storage.ChangeEvent) {
				log.Printf("%s: %s", session.String(), describeEvent(event))
			})

			if _, err := session.Resume(context.Background()); err != nil {
				log.Printf("%s: resume: %v", session.String(), err)
			}

			startMetricsServer(cfg.Metrics.Addr)
			session.Start()

			stopCh := make(chan struct{})
			if cfg.Client.MessagePeriod > 0 {
				go sendMockMessages(session, cfg.Client.MessagePeriod, stopCh)
			}

			waitForSignal()

			close(stopCh)
			session.Stop()
		},
	}
	addClientFlags(cmd)
	cmd.Flags().String(FlagCheckpointPath, "", "(optional) checkpoint directory (enables resume)")
	cmd.Flags().Duration(FlagMessagePeriod, 0, "(optional) mock visitor messages send period")

	return cmd
}

// sendMockMessages sends random visitor messages periodically.
func sendMockMessages(session *client.Session, period time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			// No session yet
			if _, ok := session.CurrentCursor(); !ok {
				continue
			}

			ctx, cancel := context.WithTimeout(context.Background(), period)
			if _, err := session.SendRandomMessage(ctx); err != nil {
				log.Printf("%s: sending message: %v", session.String(), err)
			}
			cancel()
		}
	}
}

// describeEvent builds a short event description for the log.
func describeEvent(event storage.ChangeEvent) string {
	switch event.Kind {
	case storage.ChangeSessionReset:
		return fmt.Sprintf("%s: session %s, %d messages", event.Kind, event.ID, len(event.Messages))
	case storage.ChangeMessageAdded, storage.ChangeMessageChanged, storage.ChangeMessageRemoved:
		if len(event.ListOps) == 1 {
			op := event.ListOps[0]
			return fmt.Sprintf("%s: [%d] %s", event.Kind, op.Index, op.Message)
		}
	case storage.ChangeRevision:
		return fmt.Sprintf("%s: %s", event.Kind, event.Revision)
	case storage.ChangeChatState:
		return fmt.Sprintf("%s: %s", event.Kind, event.ChatState)
	}

	return fmt.Sprintf("%s: %s", event.Kind, event.ID)
}

func init() {
	rootCmd.AddCommand(GetClientCmd())
}
