package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zeusync/behave/internal/config"
	"github.com/zeusync/behave/internal/injector"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [FILE...]",
		Short: "Load trees, spawn actors and tick them",
		Long: `Starts the runtime with the configuration file, BEHAVE_* environment overrides and flags.
Tree files given as arguments are loaded in addition to the configured ones.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := runConfig(cmd, args)
			if err != nil {
				return err
			}

			app, cleanup, err := injector.InitializeApp(cfg)
			if err != nil {
				return err
			}
			defer cleanup()
			if err = app.Load(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.Run(ctx)
		},
	}
	cmd.Flags().StringP("config", "c", "", "Path to a YAML config file")
	cmd.Flags().StringArrayP("actor", "a", nil, "Spawn an actor, as id=tree (repeatable)")
	cmd.Flags().String("listen", "", "Enable the websocket gateway on this address")
	return cmd
}

func runConfig(cmd *cobra.Command, args []string) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	cfg.Trees = append(cfg.Trees, args...)

	actors, _ := cmd.Flags().GetStringArray("actor")
	for _, a := range actors {
		id, tree, ok := strings.Cut(a, "=")
		if !ok || id == "" || tree == "" {
			return config.Config{}, fmt.Errorf("--actor %q: want id=tree", a)
		}
		cfg.Actors = append(cfg.Actors, config.ActorConfig{ID: id, Tree: tree})
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.Enabled = true
		cfg.Server.Addr = listen
	}
	if cmd.Flags().Changed("profile-nodes") {
		cfg.Features.ProfileNodes, _ = cmd.Flags().GetBool("profile-nodes")
	}
	return cfg, cfg.Validate()
}
