package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/autofixd/internal/event"
	"github.com/fyrsmithlabs/autofixd/internal/feed"
)

type emitOptions struct {
	subject  string
	typ      string
	severity string
	message  string
	payload  string
	stack    string
	file     string
	line     int
	token    string
}

func newEmitCmd(opts *options) *cobra.Command {
	eo := &emitOptions{}
	cmd := &cobra.Command{
		Use:   "emit",
		Short: "Publish a synthetic event to the feed",
		Long: `Publish one event on the autofixd event subject, as if the runtime
had reported it.

Examples:
  # A runtime null reference
  afx emit --message "NullReferenceException: Object reference not set"

  # A capture that resolved a tie
  afx emit --type gameplay.capture --severity info \
    --payload '{"attackerValue":3,"defenderValue":3,"result":true}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ev, err := eo.build()
			if err != nil {
				return err
			}
			data, err := json.Marshal(ev)
			if err != nil {
				return fmt.Errorf("encoding event: %w", err)
			}

			natsOpts := []nats.Option{nats.Name("afx"), nats.Timeout(5 * time.Second)}
			if eo.token != "" {
				natsOpts = append(natsOpts, nats.Token(eo.token))
			}
			nc, err := nats.Connect(opts.natsURL, natsOpts...)
			if err != nil {
				return fmt.Errorf("failed to connect to NATS at %s: %w", opts.natsURL, err)
			}
			defer nc.Close()

			if err := nc.Publish(eo.subject, data); err != nil {
				return fmt.Errorf("publish %s: %w", eo.subject, err)
			}
			if err := nc.FlushTimeout(5 * time.Second); err != nil {
				return fmt.Errorf("flush %s: %w", eo.subject, err)
			}
			return opts.print(cmd.OutOrStdout(), ev, fmt.Sprintf("Published %s %s to %s", ev.Type, ev.ID, eo.subject))
		},
	}
	f := cmd.Flags()
	f.StringVar(&eo.subject, "subject", feed.DefaultEventSubject, "event subject")
	f.StringVar(&eo.typ, "type", string(event.TypeRuntimeError), "event type")
	f.StringVar(&eo.severity, "severity", string(event.SeverityError), "info, warning or error")
	f.StringVar(&eo.message, "message", "", "event message")
	f.StringVar(&eo.payload, "payload", "", "JSON payload for gameplay and asset events")
	f.StringVar(&eo.stack, "stack", "", "stack trace")
	f.StringVar(&eo.file, "file", "", "source file")
	f.IntVar(&eo.line, "line", 0, "source line")
	f.StringVar(&eo.token, "nats-token", "", "NATS auth token")
	return cmd
}

func (eo *emitOptions) build() (event.Event, error) {
	sev := event.Severity(eo.severity)
	switch sev {
	case event.SeverityInfo, event.SeverityWarning, event.SeverityError:
	default:
		return event.Event{}, fmt.Errorf("invalid severity %q", eo.severity)
	}
	if eo.typ == "" {
		return event.Event{}, errors.New("event type is required")
	}
	typ := event.Type(eo.typ)

	ev := event.New(typ, sev, eo.message, nil)
	if eo.payload != "" {
		p, err := event.DecodePayload(typ, json.RawMessage(eo.payload))
		if err != nil {
			return event.Event{}, fmt.Errorf("invalid payload: %w", err)
		}
		ev.Payload = p
	}
	ev.StackTrace = eo.stack
	ev.File = eo.file
	ev.Line = eo.line
	return ev, nil
}
