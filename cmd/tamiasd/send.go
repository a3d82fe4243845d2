package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/desduvauchelle/tamias-sub001/internal/delivery/client"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/event"

	"github.com/spf13/cobra"
)

func newSendCommand(c *cli) *cobra.Command {
	var sessionID, model, author string
	var noWait bool
	cmd := &cobra.Command{
		Use:   "send [text...]",
		Short: "Send one message and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if sessionID == "" {
				sess, err := api.CreateSession(ctx, client.CreateRequest{Model: model})
				if err != nil {
					return err
				}
				sessionID = sess.ID
				fmt.Fprintln(cmd.ErrOrStderr(), gray("session "+sess.ID))
			}
			msg := client.Message{Text: strings.Join(args, " "), Author: author}
			if noWait {
				jobID, err := api.Send(ctx, sessionID, msg)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, jobID)
				return nil
			}

			stream, err := api.Events(ctx, sessionID, false)
			if err != nil {
				return err
			}
			defer func() { _ = stream.Close() }()
			if _, err := api.Send(ctx, sessionID, msg); err != nil {
				return err
			}
			return printReply(stream, out)
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "target session (default: create one)")
	cmd.Flags().StringVarP(&model, "model", "m", "", "model for a new session")
	cmd.Flags().StringVar(&author, "author", "", "author name recorded with the message")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "print the job id instead of waiting for the reply")
	return cmd
}

type eventSource interface {
	Next() (event.Event, error)
}

// printReply renders events until the first finished turn. An error event
// becomes the command's error.
func printReply(stream eventSource, out io.Writer) error {
	for {
		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("stream closed before the reply finished")
		}
		if err != nil {
			return err
		}
		switch e := ev.(type) {
		case event.Error:
			return errors.New(e.Message)
		case event.Start:
			continue
		}
		renderEvent(out, ev)
		if _, ok := ev.(event.Done); ok {
			return nil
		}
	}
}
