// classpulse-monitor follows a live session from the terminal. It joins by
// code or session id, subscribes as an instructor and reprints results and
// connected students whenever they change, until the session ends.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"classpulse/pkg/client"
	"classpulse/pkg/poller"
	"classpulse/pkg/types"
)

// requestTimeout bounds each HTTP call of a refresh.
const requestTimeout = 10 * time.Second

type options struct {
	server    string
	code      string
	sessionID int64
	interval  time.Duration
	clientID  string
	noPush    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var opts options

	flagSet := pflag.NewFlagSet("classpulse-monitor", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.server, "server", "s", "http://localhost:8080", "classpulse server URL")
	flagSet.StringVar(&opts.code, "code", "", "join code of the session to follow")
	flagSet.Int64Var(&opts.sessionID, "session", 0, "id of the session to follow")
	flagSet.DurationVarP(&opts.interval, "interval", "i", poller.DefaultInterval, "refresh interval")
	flagSet.StringVar(&opts.clientID, "client-id", "", "connection id (default: random)")
	flagSet.BoolVar(&opts.noPush, "no-push", false, "poll only, without a WebSocket subscription")

	if err := flagSet.Parse(args); err != nil {
		return opts, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return opts, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	if (opts.code == "") == (opts.sessionID == 0) {
		return opts, errors.New("exactly one of --code or --session is required")
	}
	if opts.interval <= 0 {
		return opts, errors.New("--interval must be positive")
	}
	if opts.clientID == "" {
		opts.clientID = "monitor-" + uuid.NewString()
	}
	return opts, nil
}

// run follows the session until it ends or ctx is cancelled. A session
// that ends while being followed is not an error.
func run(ctx context.Context, args []string, out io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	c := client.New(opts.server, client.WithHTTPClient(&http.Client{Timeout: requestTimeout}))

	sessionID := opts.sessionID
	if opts.code != "" {
		sessionID, err = c.Join(ctx, opts.code)
		if err != nil {
			return fmt.Errorf("failed to join %s: %w", opts.code, err)
		}
	}

	p := poller.New(
		func(ctx context.Context) (client.InstructorView, error) {
			return c.InstructorSnapshot(ctx, sessionID)
		},
		poller.WithInterval[client.InstructorView](opts.interval),
		poller.EvictWhen[client.InstructorView](client.IsNotFound),
		poller.OnUpdate(func(view client.InstructorView) {
			fmt.Fprintln(out)
			render(out, sessionID, view)
		}),
		poller.OnError[client.InstructorView](func(err error) {
			log.Printf("Refresh failed: %v", err)
		}),
		poller.OnEvicted[client.InstructorView](func() {
			fmt.Fprintf(out, "\nSession %d has ended.\n", sessionID)
		}),
	)

	if !opts.noPush {
		sub, err := c.Subscribe(ctx, sessionID, opts.clientID, "", types.RoleInstructor)
		switch {
		case client.IsNotFound(err):
			fmt.Fprintf(out, "Session %d has ended.\n", sessionID)
			return nil
		case err != nil:
			log.Printf("Push updates unavailable, polling only: %v", err)
		default:
			defer sub.Close()
			go forward(sub, p)
		}
	}

	if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// forward feeds pushes into the poller. A server-side close means the
// session is gone; any other disconnect leaves the poller running on its
// timer.
func forward(sub *client.Subscription, p *poller.Poller[client.InstructorView]) {
	for env := range sub.Envelopes() {
		p.HandleEnvelope(env)
	}
	<-sub.Done()
	if sub.Evicted() {
		p.Evict()
		return
	}
	if err := sub.Err(); err != nil {
		log.Printf("Push connection lost, polling only: %v", err)
	}
}
