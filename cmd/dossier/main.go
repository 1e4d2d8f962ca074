package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"dossier-ai/internal/apiclient"
)

type cli struct {
	apiURL  string
	token   string
	user    string
	verbose bool
	log     zerolog.Logger
	client  *apiclient.Client
}

func main() {
	_ = godotenv.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := &cli{}
	if err := c.rootCmd().ExecuteContext(ctx); err != nil {
		c.log.Error().Err(err).Msg("dossier: команда завершилась ошибкой")
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "dossier",
		Short: "Клиент Dossier AI: планы, черновики и презентации",
		Long: `dossier работает с API Dossier AI из терминала.

Примеры:
  dossier generate "Pitch deck для B2B SaaS на посевной раунд"
  dossier drafts list
  dossier edit <draft-id> --title "Новый заголовок"
  dossier present <draft-id> --style mla --markdown`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init()
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&c.apiURL, "api", envOr("DOSSIER_API_URL", "http://localhost:8080"), "адрес API")
	flags.StringVar(&c.token, "token", os.Getenv("DOSSIER_TOKEN"), "токен сессии Supabase")
	flags.StringVar(&c.user, "user", os.Getenv("DOSSIER_USER_ID"), "пользователь для dev-сервера (X-User-ID)")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "подробный вывод")

	root.AddCommand(
		c.generateCmd(),
		c.presentCmd(),
		c.draftsCmd(),
		c.editCmd(),
		c.healthCmd(),
	)
	return root
}

func (c *cli) init() error {
	level := zerolog.InfoLevel
	if c.verbose {
		level = zerolog.DebugLevel
	}
	c.log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger().Level(level)

	client, err := apiclient.New(c.apiURL,
		apiclient.WithToken(c.token),
		apiclient.WithDevUser(c.user),
		apiclient.WithLogger(c.log),
	)
	if err != nil {
		return err
	}
	c.client = client
	return nil
}

func (c *cli) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Показать активные бэкенды сервера",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			health, err := c.client.Health(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), health)
		},
	}
}
