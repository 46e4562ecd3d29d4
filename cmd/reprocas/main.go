// Command reprocas is a thin command-line front end over the store,
// resolve and lineage packages, grounded in the registry
// binary's cobra command tree. It intentionally does not reproduce that
// binary's argument-parsing polish (flag validation, shell completion,
// man-page generation); it exists to exercise the library packages end to
// end from a terminal.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	metrics "github.com/docker/go-metrics"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/distribution/repro-cas/internal/config"
	"github.com/distribution/repro-cas/lineage"
	"github.com/distribution/repro-cas/registry/storage/driver/factory"
	_ "github.com/distribution/repro-cas/registry/storage/driver/filesystem"
	_ "github.com/distribution/repro-cas/registry/storage/driver/inmemory"
	_ "github.com/distribution/repro-cas/registry/storage/driver/ipfsblock"
	"github.com/distribution/repro-cas/resolve"
	"github.com/distribution/repro-cas/store"
)

var configPath string

// RootCmd is the main command for the reprocas binary.
var RootCmd = &cobra.Command{
	Use:   "reprocas",
	Short: "content-addressed pipeline store for reproducible computation",
	Long:  "reprocas manages a content-addressed store of blobs, trees and run manifests.",
}

func init() {
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to reprocas config YAML")
	RootCmd.AddCommand(adoptCmd, aliasCmd, manifestCmd, whoBuiltCmd, traceCmd, serveMetricsCmd)
}

func main() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openStore() (*store.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if lvl, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logrus.SetLevel(lvl)
	}

	driver, err := factory.Create(context.Background(), cfg.Store.Backend, cfg.Store.Parameters)
	if err != nil {
		return nil, fmt.Errorf("reprocas: open backend %s: %w", cfg.Store.Backend, err)
	}

	s := store.New(driver)
	if err := s.EnsureLayout(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

var adoptCmd = &cobra.Command{
	Use:   "adopt <path>",
	Short: "commit a file or directory into the store and print its typed id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		r := resolve.New(s)
		typedID, _, err := r.Resolve(cmd.Context(), "@"+args[0])
		if err != nil {
			return err
		}
		fmt.Println(typedID)
		return nil
	},
}

var aliasCmd = &cobra.Command{
	Use:   "alias",
	Short: "get or set a mutable name pointing at a typed identifier",
}

var aliasSetCmd = &cobra.Command{
	Use:   "set <name> <typed-id>",
	Short: "overwrite an alias",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		return s.AliasSet(cmd.Context(), args[0], args[1])
	},
}

var aliasGetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "print an alias's target",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		target, ok, err := s.AliasGet(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("reprocas: alias not found: %s", args[0])
		}
		fmt.Println(target)
		return nil
	},
}

func init() {
	aliasCmd.AddCommand(aliasSetCmd, aliasGetCmd)
}

var manifestCmd = &cobra.Command{
	Use:   "manifest <run-id>",
	Short: "print a run's manifest as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		runID := strings.TrimPrefix(args[0], "run:")
		m, err := s.LoadManifest(cmd.Context(), runID)
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(m, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

var whoBuiltCmd = &cobra.Command{
	Use:   "who-built <type> <id>",
	Short: "print the run id that produced an artifact, or report it as adopted",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		w := lineage.New(s)
		runID, found, err := w.WhoBuilt(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		if !found {
			fmt.Println("adopted source")
			return nil
		}
		fmt.Println("run:" + runID)
		return nil
	},
}

var serveMetricsCmd = &cobra.Command{
	Use:   "serve-metrics",
	Short: "serve the reprocas Prometheus metrics namespace until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		addr := cfg.Metrics.Addr
		if !cfg.Metrics.Enabled {
			logrus.Warn("metrics.enabled is false in config; serving anyway since serve-metrics was invoked directly")
		}
		logrus.Infof("providing prometheus metrics on %s/metrics", addr)
		http.Handle("/metrics", metrics.Handler())
		return http.ListenAndServe(addr, nil)
	},
}

var traceCmd = &cobra.Command{
	Use:   "trace <type> <id>",
	Short: "walk an artifact back to its adopted sources",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		w := lineage.New(s)
		steps, err := w.Trace(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		for _, step := range steps {
			indent := strings.Repeat("  ", step.Depth)
			if step.Adopted {
				fmt.Printf("%s%s:%s (adopted)\n", indent, step.Type, step.ID)
			} else {
				fmt.Printf("%s%s:%s <- run:%s\n", indent, step.Type, step.ID, step.RunID)
			}
		}
		return nil
	},
}
