package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	phx "github.com/go-phx-channels/phxclient"
)

func listenCmd(flags *rootFlags) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Join topics and print every inbound envelope",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.resolve(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.MetricsAddr = metricsAddr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runListen(ctx, cfg, initLogger(cfg.LogLevel), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

func clientOptions(cfg config, logger *zerolog.Logger) *phx.Options {
	return &phx.Options{
		ConnectOptions: phx.ConnectOptions{
			Logger:       logger,
			WriteTimeout: cfg.WriteTimeout,
		},
		HeartbeatInterval: cfg.HeartbeatInterval,
	}
}

func runListen(ctx context.Context, cfg config, logger zerolog.Logger, out io.Writer) error {
	opts := clientOptions(cfg, &logger)

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		metrics, err := phx.NewMetrics("phxcat", reg)
		if err != nil {
			return err
		}
		opts.Metrics = metrics
		go serveMetrics(ctx, cfg.MetricsAddr, reg, logger)
	}

	client, inbox, err := phx.New(ctx, cfg.URL, cfg.Params, opts)
	if err != nil {
		return err
	}
	defer func() {
		client.Close()
		if err := client.Wait(); err != nil {
			logger.Error().Err(err).Msg("client stopped with error")
		}
	}()

	pending := make(map[uint64]string)
	for _, topic := range cfg.Topics {
		ref, err := client.Join(topic)
		if err != nil {
			return err
		}
		pending[ref] = topic
	}

	p := newPrinter(out, logger.GetLevel() <= zerolog.DebugLevel)
	for {
		msg, err := inbox.Recv(ctx)
		switch {
		case errors.Is(err, io.EOF):
			logger.Info().Msg("connection closed by server")
			return nil
		case ctx.Err() != nil:
			return nil
		case err != nil:
			p.printError(err)
			continue
		}

		if ref, ok := msg.RefNumber(); ok {
			if topic, waiting := pending[ref]; waiting {
				delete(pending, ref)
				p.printJoin(topic, msg)
				continue
			}
		}
		p.printMessage(msg)
	}
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger zerolog.Logger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server failed")
	}
}

// printer renders deliveries, one per line
type printer struct {
	out        io.Writer
	heartbeats bool

	topic lipgloss.Style
	event lipgloss.Style
	ok    lipgloss.Style
	fail  lipgloss.Style
	dim   lipgloss.Style
}

func newPrinter(out io.Writer, heartbeats bool) *printer {
	return &printer{
		out:        out,
		heartbeats: heartbeats,
		topic:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6")),
		event:      lipgloss.NewStyle().Foreground(lipgloss.Color("5")),
		ok:         lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		fail:       lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		dim:        lipgloss.NewStyle().Faint(true),
	}
}

func (p *printer) printMessage(msg phx.Message) {
	if msg.Topic == "phoenix" && msg.Event == phx.EventReply && !p.heartbeats {
		return
	}
	ref := msg.Ref
	if ref == "" {
		ref = "-"
	}
	fmt.Fprintf(p.out, "%s %s %s %s\n",
		p.topic.Render(msg.Topic),
		p.event.Render(msg.Event.String()),
		p.dim.Render(ref),
		string(msg.Payload),
	)
}

func (p *printer) printJoin(topic string, msg phx.Message) {
	reply, err := msg.Reply()
	if err != nil {
		p.printError(err)
		return
	}
	status := p.ok.Render("joined")
	if !reply.OK() {
		status = p.fail.Render("join " + reply.Status)
	}
	fmt.Fprintf(p.out, "%s %s %s\n", p.topic.Render(topic), status, string(reply.Response))
}

func (p *printer) printError(err error) {
	fmt.Fprintf(p.out, "%s %v\n", p.fail.Render("error"), err)
}
