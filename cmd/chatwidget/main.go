package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"chatwidget/internal/bus"
	"chatwidget/internal/config"
	"chatwidget/internal/metrics"
	"chatwidget/internal/store"
	"chatwidget/internal/transport"
	"chatwidget/internal/widget"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	root := &cobra.Command{
		Use:   "chatwidget",
		Short: "Terminal client for the embeddable live-chat widget",
		Long:  "chatwidget runs the live-chat widget engine against a company backend: pre-chat form, realtime chat with polling fallback, offline messages, and the post-chat survey.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.chatwidget/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			fmt.Println("wrote", cfgPath)
			fmt.Println("set widget.id and backend.apiBase before running 'chatwidget chat'")
			return nil
		},
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func loadConfig() (*config.Config, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w (run 'chatwidget init' first)", cfgPath, err)
	}
	return cfg, nil
}

func chatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the widget in the terminal",
		RunE:  runChat,
	}
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "print session metrics on exit")
	return cmd
}

var showMetrics bool

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	def, err := widget.LoadDefinition(cfg.Widget.DefinitionPath, logger)
	if err != nil {
		return err
	}

	clientStore, err := store.NewSQLiteStore(cfg.Storage.DBPath, cfg.Widget.ID, logger)
	if err != nil {
		return err
	}
	defer clientStore.Close()

	backend := transport.NewClient(transport.ClientConfig{
		APIBase:   cfg.Backend.APIBase,
		WidgetID:  cfg.Widget.ID,
		CompanyID: cfg.Backend.CompanyID,
		APIKey:    cfg.Backend.APIKey,
		Logger:    logger,
	})

	queue := bus.New(100, logger)
	defer queue.Close()

	term := newTerminal(os.Stdin, os.Stdout)

	engine := widget.New(widget.Options{
		Config:   cfg,
		Def:      def,
		Store:    clientStore,
		Backend:  backend,
		Queue:    queue,
		Logger:   logger,
		OnChange: term.render,
		OnNotice: term.notice,
	})

	if !engine.ShouldDisplay(ctx) {
		fmt.Println("widget is hidden by targeting rules for this page")
		return nil
	}

	go func() {
		if err := engine.Run(ctx); err != nil {
			logger.Error("engine stopped", "err", err)
			stop()
		}
	}()

	err = term.run(ctx, engine)
	if showMetrics {
		fmt.Println(metrics.Collector.Render())
	}
	return err
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check backend reachability, targeting, and availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()

			def, err := widget.LoadDefinition(cfg.Widget.DefinitionPath, logger)
			if err != nil {
				return err
			}

			clientStore, err := store.NewSQLiteStore(cfg.Storage.DBPath, cfg.Widget.ID, logger)
			if err != nil {
				return err
			}
			defer clientStore.Close()

			backend := transport.NewClient(transport.ClientConfig{
				APIBase:   cfg.Backend.APIBase,
				WidgetID:  cfg.Widget.ID,
				CompanyID: cfg.Backend.CompanyID,
				APIKey:    cfg.Backend.APIKey,
				Logger:    logger,
			})

			engine := widget.New(widget.Options{
				Config:  cfg,
				Def:     def,
				Store:   clientStore,
				Backend: backend,
				Queue:   bus.New(1, logger),
				Logger:  logger,
			})

			fmt.Println("widget:   ", cfg.Widget.ID)
			fmt.Println("backend:  ", cfg.Backend.APIBase)
			fmt.Println("display:  ", engine.ShouldDisplay(ctx))
			fmt.Println("online:   ", engine.Online(ctx))
			if text := engine.EyeCatcher(ctx); text != "" {
				fmt.Println("catcher:  ", text)
			}
			for _, link := range engine.ContactLinks() {
				fmt.Println("link:     ", link.Type, link.URL)
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. transport.messagePollSeconds)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. widget.id wgt_123)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(resolveConfigPath(), cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Println("updated", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			sanitized := config.Sanitize(cfg)
			data, _ := json.MarshalIndent(sanitized, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
