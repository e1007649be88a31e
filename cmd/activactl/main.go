// activactl is a small command line front end for the Gestión Activa API
// client: log in, inspect the current session, refresh it, and log out.
// The session survives between runs in a JSON file, so the token lifecycle
// (proactive refresh, expiry, forced logout) can be exercised end to end.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gestionactiva/go-activa-client/auth"
	"github.com/gestionactiva/go-activa-client/broadcast"
	"github.com/gestionactiva/go-activa-client/gateway"
	"github.com/gestionactiva/go-activa-client/internal/config"
	"github.com/gestionactiva/go-activa-client/session"
	"github.com/gestionactiva/go-activa-client/session/repofile"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("activactl failed")
	}
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	_ = godotenv.Load()

	cfg := config.New()
	logger := newLogger(cfg)

	if len(os.Args) < 2 {
		usage()
		return nil
	}
	command := os.Args[1]

	svc, err := buildService(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GetHTTPTimeout())
	defer cancel()

	switch command {
	case "login":
		displayAppname(cfg.GetAppName())
		return login(ctx, svc)
	case "whoami":
		return whoami(ctx, svc)
	case "logout":
		svc.Logout(ctx)
		fmt.Println("logged out")
		return nil
	case "forgot-password":
		return forgotPassword(ctx, svc)
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func buildService(cfg config.Config, logger zerolog.Logger) (*auth.Service, error) {
	repo := repofile.New(cfg.GetSessionFile(), logger)
	store := session.NewStore(repo, logger)
	hub := broadcast.NewHub()

	gw, err := gateway.New(cfg.GetAPIBaseURL(), store, hub, logger,
		gateway.WithRefreshThreshold(cfg.GetRefreshThreshold()),
		gateway.WithRateLimit(cfg.GetRequestRate(), cfg.GetRequestBurst()),
	)
	if err != nil {
		return nil, err
	}

	return auth.NewService(gw, logger,
		auth.WithInactivityWindow(cfg.GetInactivityTimeout()),
	)
}

func login(ctx context.Context, svc *auth.Service) error {
	email := os.Getenv("ACTIVA_EMAIL")
	if email == "" {
		email = prompt("email: ")
	}
	password := os.Getenv("ACTIVA_PASSWORD")
	if password == "" {
		password = prompt("password: ")
	}

	result, err := svc.Login(ctx, auth.Credentials{Email: email, Password: password})
	if err != nil {
		return err
	}
	if !result.Success {
		return errors.New(result.Message)
	}

	fmt.Printf("logged in as %s (%s)\n", result.User.Name, result.User.RoleLabel())
	return nil
}

func whoami(ctx context.Context, svc *auth.Service) error {
	state := svc.Bootstrap(ctx)
	if !state.IsAuthenticated || state.Identity == nil {
		fmt.Println("not logged in")
		return nil
	}
	fmt.Printf("%s <%s> role=%s admin=%t\n",
		state.Identity.Name, state.Identity.Email, state.Identity.RoleLabel(), svc.IsAdmin())
	return nil
}

func forgotPassword(ctx context.Context, svc *auth.Service) error {
	email := prompt("email: ")
	message, err := svc.ForgotPassword(ctx, email)
	if err != nil {
		return err
	}
	fmt.Println(message)
	return nil
}

func prompt(label string) string {
	fmt.Print(label)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Scan()
	return strings.TrimSpace(scanner.Text())
}

func newLogger(cfg config.Config) zerolog.Logger {
	level := zerolog.InfoLevel
	if cfg.GetEnv() == "DEV" {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}

func usage() {
	fmt.Println("usage: activactl <login|whoami|logout|forgot-password>")
}
