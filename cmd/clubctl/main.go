// Command clubctl runs the identity schema migrations and provisions
// administrator accounts out of band.
package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/iliyamo/club-event-registration/internal/auth"
	"github.com/iliyamo/club-event-registration/internal/config"
	"github.com/iliyamo/club-event-registration/internal/database"
	"github.com/iliyamo/club-event-registration/internal/repository"
)

func main() {
	app := &cli.App{
		Name:  "clubctl",
		Usage: "club registration maintenance",
		Commands: []*cli.Command{
			newMigrateCommand(),
			newAdminCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// openDB loads the server configuration and connects to the identity store.
func openDB(c *cli.Context) (config.Config, *sql.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	db, err := database.Open(c.Context, database.MySQLParams{
		User: cfg.DBUser, Pass: cfg.DBPass, Host: cfg.DBHost, Port: cfg.DBPort, Name: cfg.DBName,
	})
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("connect identity store: %w", err)
	}
	return cfg, db, nil
}

func newMigrateCommand() *cli.Command {
	steps := &cli.IntFlag{Name: "steps", Usage: "number of migrations to apply (0 = all)"}
	run := func(direction string) cli.ActionFunc {
		return func(c *cli.Context) error {
			_, db, err := openDB(c)
			if err != nil {
				return err
			}
			defer db.Close()
			v, err := database.Migrate(db, direction, c.Int("steps"))
			if err != nil {
				return err
			}
			fmt.Printf("identity schema at version %d\n", v)
			return nil
		}
	}
	return &cli.Command{
		Name:  "migrate",
		Usage: "identity schema migrations",
		Subcommands: []*cli.Command{
			{Name: database.MigrateUp, Usage: "apply migrations", Flags: []cli.Flag{steps}, Action: run(database.MigrateUp)},
			{Name: database.MigrateDown, Usage: "revert migrations", Flags: []cli.Flag{steps}, Action: run(database.MigrateDown)},
		},
	}
}

func newAdminCommand() *cli.Command {
	return &cli.Command{
		Name:  "admin",
		Usage: "administrator accounts",
		Subcommands: []*cli.Command{
			{
				Name:  "bootstrap",
				Usage: "create an administrator unless the username or email already exists",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "username", Required: true},
					&cli.StringFlag{Name: "email", Required: true},
					&cli.StringFlag{Name: "name"},
					&cli.StringFlag{Name: "password", EnvVars: []string{"ADMIN_PASSWORD"}, Required: true},
				},
				Action: func(c *cli.Context) error {
					cfg, db, err := openDB(c)
					if err != nil {
						return err
					}
					defer db.Close()

					svc := auth.NewService(repository.NewIdentityRepo(db), nil, auth.Options{
						Secret:     cfg.JWTSecret,
						BcryptCost: cfg.BcryptCost,
					}, config.NewLogger(cfg, os.Stderr), nil, nil)
					a, created, err := svc.BootstrapAdmin(c.Context, auth.BootstrapInput{
						Username: c.String("username"),
						Email:    c.String("email"),
						Name:     c.String("name"),
						Password: c.String("password"),
					})
					if err != nil {
						return err
					}
					if created {
						fmt.Printf("created admin %q (id %d)\n", a.Username, a.ID)
					} else {
						fmt.Printf("admin %q already exists (id %d)\n", a.Username, a.ID)
					}
					return nil
				},
			},
		},
	}
}
