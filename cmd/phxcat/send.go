package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	phx "github.com/go-phx-channels/phxclient"
)

func sendCmd(flags *rootFlags) *cobra.Command {
	var (
		event   string
		payload string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Join a topic and push one event to it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.resolve(cmd)
			if err != nil {
				return err
			}
			if len(cfg.Topics) != 1 {
				return fmt.Errorf("send needs exactly one --topic, got %d", len(cfg.Topics))
			}
			if event == "" {
				return errors.New("send needs --event")
			}
			if !json.Valid([]byte(payload)) {
				return fmt.Errorf("payload is not valid JSON: %s", payload)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			logger := initLogger(cfg.LogLevel)
			return runSend(ctx, cfg, &logger, cfg.Topics[0], phx.Custom(event), json.RawMessage(payload))
		},
	}

	cmd.Flags().StringVarP(&event, "event", "e", "", "event name")
	cmd.Flags().StringVarP(&payload, "payload", "d", "{}", "JSON payload")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "time allowed for connect and join")
	return cmd
}

// runSend joins topic, waits for the join reply and then pushes one event.
// The close frame is written after the event, so the server sees both.
func runSend(ctx context.Context, cfg config, logger *zerolog.Logger, topic string, event phx.Event, payload json.RawMessage) error {
	client, inbox, err := phx.New(ctx, cfg.URL, cfg.Params, clientOptions(cfg, logger))
	if err != nil {
		return err
	}
	defer func() {
		client.Close()
		client.Wait()
	}()

	ref, err := client.Join(topic)
	if err != nil {
		return err
	}

	if err := awaitJoin(ctx, inbox, topic, ref); err != nil {
		return err
	}

	return client.Send(topic, event, payload)
}

func awaitJoin(ctx context.Context, inbox *phx.Inbox, topic string, ref uint64) error {
	for {
		msg, err := inbox.Recv(ctx)
		if err != nil {
			var msgErr *phx.MessageError
			if errors.As(err, &msgErr) && msgErr.Kind == phx.MessageDecode {
				continue
			}
			return fmt.Errorf("waiting for join reply: %w", err)
		}

		if n, ok := msg.RefNumber(); !ok || n != ref || msg.Event != phx.EventReply {
			continue
		}

		reply, err := msg.Reply()
		if err != nil {
			return err
		}
		if !reply.OK() {
			return fmt.Errorf("join %s rejected: %s %s", topic, reply.Status, string(reply.Response))
		}
		return nil
	}
}
