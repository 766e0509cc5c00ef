// classpulse serves live classroom sessions: instructors launch questions,
// students answer them, and answers are graded as they arrive.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"classpulse/internal/app"
	"classpulse/internal/config"
)

const shutdownTimeout = 30 * time.Second

type options struct {
	configPath string
	envFiles   []string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatal(err)
	}
}

func parseFlags(args []string) (options, error) {
	opts := options{configPath: os.Getenv("CLASSPULSE_CONFIG_FILE")}

	flagSet := pflag.NewFlagSet("classpulse", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.configPath, "config", "c", opts.configPath, "JSON config file layered over the environment")
	flagSet.StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, "dotenv files to load before reading the environment")
	if err := flagSet.Parse(args); err != nil {
		return opts, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return opts, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return opts, nil
}

// run serves until ctx is cancelled or the server fails, then shuts down.
func run(ctx context.Context, args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	if err := config.LoadDotEnv(opts.envFiles...); err != nil {
		return err
	}
	cfg := config.LoadConfigWithPrecedence(opts.configPath)

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	if err := application.Start(ctx); err != nil {
		_ = application.Stop(context.Background())
		return fmt.Errorf("failed to start application: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- application.Wait() }()

	var runErr error
	select {
	case <-ctx.Done():
		log.Printf("Received shutdown signal, shutting down gracefully")
	case runErr = <-serveErr:
		if runErr != nil {
			runErr = fmt.Errorf("application error: %w", runErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("shutdown error: %w", err)
	}
	return runErr
}
