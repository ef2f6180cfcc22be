package main

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Mark-maati/collab-board/config"
	"github.com/Mark-maati/collab-board/metrics"
)

var version = "dev"

// app carries what every command shares once config is loaded.
type app struct {
	cfg      config.Config
	logger   *log.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

func main() {
	a := &app{logger: log.StandardLogger()}

	rootCmd := &cobra.Command{
		Use:           "collab-board",
		Short:         "Real-time sync client and reference hub for collaborative boards",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Debug {
				log.SetLevel(log.DebugLevel)
			}
			a.cfg = cfg
			a.registry = prometheus.NewRegistry()
			a.registry.MustRegister(collectors.NewGoCollector())
			a.metrics = metrics.New(a.registry)
			return nil
		},
	}

	rootCmd.AddCommand(a.watchCmd())
	rootCmd.AddCommand(a.moveCmd())
	rootCmd.AddCommand(a.createCmd())
	rootCmd.AddCommand(a.deleteCmd())
	rootCmd.AddCommand(a.hubCmd())
	rootCmd.AddCommand(a.tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
