package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/desduvauchelle/tamias-sub001/internal/delivery/client"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/event"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/async"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/logging"

	"github.com/spf13/cobra"
)

func newChatCommand(c *cli) *cobra.Command {
	var sessionID, model, name string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat interactively with a session",
		Long:  "Opens a WebSocket to the daemon. Type /quit to leave; the session keeps running.",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if sessionID == "" {
				sess, err := api.CreateSession(ctx, client.CreateRequest{Model: model, Name: name})
				if err != nil {
					return err
				}
				sessionID = sess.ID
				fmt.Fprintln(cmd.OutOrStdout(), gray(fmt.Sprintf("session %s (%s)", sess.ID, sess.Model)))
			}
			conn, err := api.Attach(ctx, sessionID, false)
			if err != nil {
				return err
			}
			defer func() { _ = conn.Close() }()
			return runChat(ctx, conn, cmd.InOrStdin(), cmd.OutOrStdout(), isTTY())
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "attach to an existing session")
	cmd.Flags().StringVarP(&model, "model", "m", "", "model for a new session (connection/model)")
	cmd.Flags().StringVar(&name, "name", "", "name for a new session")
	return cmd
}

// chatConn is the live session attachment.
type chatConn interface {
	Send(msg client.Message) error
	Next() (event.Event, error)
}

// turnEnded reports whether ev closes a job's stream.
func turnEnded(ev event.Event) bool {
	switch ev.(type) {
	case event.Done, event.Error:
		return true
	}
	return false
}

// runChat pumps stdin lines to the session and renders events until stdin
// ends, the user quits or the connection drops.
func runChat(ctx context.Context, conn chatConn, in io.Reader, out io.Writer, interactive bool) error {
	var ended atomic.Int64
	notify := make(chan struct{}, 1)
	readErr := make(chan error, 1)
	async.Go(logging.Nop(), "chat.reader", func() {
		for {
			ev, err := conn.Next()
			if err != nil {
				readErr <- err
				return
			}
			renderEvent(out, ev)
			if !turnEnded(ev) {
				continue
			}
			if interactive {
				fmt.Fprint(out, bold("you> "))
			}
			ended.Add(1)
			select {
			case notify <- struct{}{}:
			default:
			}
		}
	})

	prompt := func() {
		if interactive {
			fmt.Fprint(out, bold("you> "))
		}
	}
	prompt()
	var sent int64
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			prompt()
			continue
		case "/quit", "/exit":
			return nil
		}
		if err := conn.Send(client.Message{Text: line}); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		sent++
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	// Input closed: wait for the replies still in flight.
	for ended.Load() < sent {
		select {
		case <-notify:
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
