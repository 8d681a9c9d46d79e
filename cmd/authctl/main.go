// Command authctl is an interactive terminal client for the authserver.
//
// It signs in, answers the second-factor challenge, manages the
// authenticator enrollment and watches push events. With -state the
// session token and cached view survive restarts.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/goElevate"
	"github.com/MrEthical07/goElevate/devicestore"
	"github.com/MrEthical07/goElevate/transport/rest"
	"github.com/MrEthical07/goElevate/transport/ws"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "authserver base URL")
	state := flag.String("state", "", "sqlite file for the device state; empty keeps it in memory")
	sentinel := flag.String("sentinel", "", "captcha sentinel token accepted by a dev server")
	queryToken := flag.Bool("query-token", false, "send the push token as a query parameter")
	verbose := flag.Bool("v", false, "debug logging to stderr")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, options{
		server:     *server,
		state:      *state,
		sentinel:   *sentinel,
		queryToken: *queryToken,
	}, logger); err != nil {
		fmt.Fprintln(os.Stderr, "authctl:", err)
		os.Exit(1)
	}
}

type options struct {
	server     string
	state      string
	sentinel   string
	queryToken bool
}

func run(ctx context.Context, opts options, logger *slog.Logger) error {
	be, err := rest.New(opts.server, rest.WithLogger(logger))
	if err != nil {
		return err
	}
	var wsOpts []ws.Option
	wsOpts = append(wsOpts, ws.WithLogger(logger))
	if opts.queryToken {
		wsOpts = append(wsOpts, ws.WithQueryToken())
	}
	tr, err := ws.New(opts.server, wsOpts...)
	if err != nil {
		return err
	}

	cfg := goElevate.DefaultConfig()
	// a person solves the visible challenge
	cfg.BotMitigation.Timeout = 2 * time.Minute
	if opts.sentinel != "" {
		cfg.Production = false
		cfg.BotMitigation.SentinelToken = opts.sentinel
	}

	in := bufio.NewReader(os.Stdin)
	a := &app{in: in, out: os.Stdout, readSecret: readTerminalSecret}

	b := goElevate.New().
		WithConfig(cfg).
		WithBackend(be).
		WithTransport(tr).
		WithCaptchaProvider(&pasteCaptcha{in: in, out: os.Stdout}).
		WithLogger(logger).
		OnSessionInvalidated(func() {
			fmt.Fprintln(a.out, "\nsession ended by the server; sign in again")
		})

	if opts.state != "" {
		st, err := devicestore.Open(ctx, "file:"+opts.state)
		if err != nil {
			return err
		}
		defer st.Close()
		b = b.WithDeviceStore(st)
	}

	c, err := b.Build()
	if err != nil {
		return err
	}
	defer c.Close()
	a.client = c

	if opts.state != "" {
		if view, err := c.Restore(ctx); err != nil {
			logger.Warn("restore failed", "error", err)
		} else if view.Authenticated {
			fmt.Fprintln(a.out, "restored session for", describe(view))
		}
	}

	a.loop(ctx)
	return nil
}
