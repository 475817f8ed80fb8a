// Command useradd registers a user in the configured storage. The service
// itself has no sign-up endpoint, so this is how accounts are created.
//
// Usage:
//
//	useradd -email alice@example.com -password secret
//
// Storage and token settings come from the same environment variables and
// CONFIG file as the server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"

	"github.com/patric-chuzhbe/tasktracker/internal/app"
	"github.com/patric-chuzhbe/tasktracker/internal/config"
	"github.com/patric-chuzhbe/tasktracker/internal/logger"
)

func run() (err error) {
	email := flag.String("email", "", "email of the new user")
	password := flag.String("password", "", "password of the new user")
	flag.Parse()

	if *email == "" || *password == "" {
		return errors.New("both -email and -password are required")
	}

	cfg, err := config.New(config.WithDisableFlagsParsing(true))
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.LogLevel); err != nil {
		return err
	}

	db, err := app.OpenStorage(cfg)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, db.Close())
	}()

	sessions, err := app.NewCredentials(cfg, db)
	if err != nil {
		return err
	}

	usr, err := sessions.Register(context.Background(), *email, *password)
	if err != nil {
		return err
	}
	fmt.Printf("created user %s (%s)\n", usr.Email, usr.ID)

	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
