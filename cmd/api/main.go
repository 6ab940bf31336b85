package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/01moynul/storefront-ledger/internal/app"
	"github.com/01moynul/storefront-ledger/internal/config"
	"github.com/01moynul/storefront-ledger/internal/database"
	"github.com/01moynul/storefront-ledger/internal/logger"
	"github.com/01moynul/storefront-ledger/internal/users"
)

func main() {
	cliApp := &cli.App{
		Name:  "storefront",
		Usage: "Order and ledger API for the digital goods storefront",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "HTTP port, overrides HTTP_PORT"},
			&cli.StringFlag{Name: "dsn", Aliases: []string{"d"}, Usage: "MySQL DSN, overrides DB_DSN"},
			&cli.BoolFlag{Name: "development", Aliases: []string{"D"}, Usage: "Development mode"},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API and background jobs (default)",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "Create any missing tables and exit",
				Action: migrate,
			},
			{
				Name:  "create-admin",
				Usage: "Create an admin account, or promote an existing user",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Required: true},
					&cli.StringFlag{Name: "password", Required: true},
					&cli.StringFlag{Name: "name", Value: "Administrator"},
				},
				Action: createAdmin,
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// setup loads .env and the environment, applies flag overrides and builds
// the logger.
func setup(c *cli.Context) (*config.Config, *logger.Logger, error) {
	// 0. --- Load Environment Variables (.env) ---
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file loaded, relying on the environment")
	}

	// 1. --- Flags override the environment ---
	if c.IsSet("dsn") {
		os.Setenv("DB_DSN", c.String("dsn"))
	}
	if c.IsSet("port") {
		os.Setenv("HTTP_PORT", fmt.Sprint(c.Int("port")))
	}
	if c.IsSet("development") && c.Bool("development") {
		os.Setenv("APP_ENV", "development")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	// 2. --- Logger ---
	lg, err := logger.NewLogger(cfg.IsDevelopment())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, lg, nil
}

func serve(c *cli.Context) error {
	cfg, lg, err := setup(c)
	if err != nil {
		return err
	}
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, lg)
	if err != nil {
		return err
	}
	defer a.Close()

	lg.Infow("storefront API starting", "port", cfg.HTTPPort, "env", cfg.AppEnv, "assistant", cfg.AssistantEnabled())
	return a.Run(ctx)
}

func migrate(c *cli.Context) error {
	cfg, lg, err := setup(c)
	if err != nil {
		return err
	}
	defer lg.Sync()

	db, err := database.Open(c.Context, cfg.DBDSN, cfg.DBMaxOpenConns)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Migrate(c.Context, db, database.MySQL); err != nil {
		return err
	}
	lg.Info("migrations applied")
	return nil
}

func createAdmin(c *cli.Context) error {
	cfg, lg, err := setup(c)
	if err != nil {
		return err
	}
	defer lg.Sync()

	ctx := context.Background()
	db, err := database.Open(ctx, cfg.DBDSN, cfg.DBMaxOpenConns)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.Migrate(ctx, db, database.MySQL); err != nil {
		return err
	}

	svc := users.NewService(db, nil, lg)
	u, err := svc.EnsureAdmin(ctx, c.String("email"), c.String("password"), c.String("name"))
	if err != nil {
		return err
	}
	lg.Infow("admin ready", "user_id", u.ID, "email", u.Email, "customer_id", u.CustomerID)
	return nil
}
