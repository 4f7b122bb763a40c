package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/itiky/chatsync/config"
)

const (
	FlagConfig      = "config"
	FlagMetricsAddr = "metrics-addr"
)

// rootCmd is a base command.
var rootCmd = &cobra.Command{
	Use:   "chatsync",
	Short: "Delta synchronized visitor chat client / stub server",
}

// loadConfig reads the config binding the command flags to config keys.
func loadConfig(cmd *cobra.Command, flagKeys map[string]string) *config.Config {
	filePath, err := cmd.Flags().GetString(FlagConfig)
	if err != nil {
		log.Fatalf("%s flag: %v", FlagConfig, err)
	}

	flagKeys["metrics.addr"] = FlagMetricsAddr
	cfg, err := config.Load(filePath, cmd, flagKeys)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	return cfg
}

// startMetricsServer exposes Prometheus metrics if the address is set.
func startMetricsServer(addr string) {
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Printf("Metrics server: %v", err)
		}
	}()

	log.Printf("Metrics server started: %s", addr)
}

// waitForSignal blocks until the process is interrupted.
func waitForSignal() {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	<-signalCh
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("rootCmd.Execute: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().String(FlagConfig, "", "(optional) YAML config file path")
	rootCmd.PersistentFlags().String(FlagMetricsAddr, "", "(optional) Prometheus metrics listen address")
}
