package daemon

import (
	"context"
	"fmt"
	"strings"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/ports"
)

// HandleInbound routes a bridge message to the identity's session, creating
// one on first contact. It satisfies ports.InboundHandler.
func (e *Engine) HandleInbound(ctx context.Context, msg ports.InboundMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.ChannelID == "" || msg.ChannelUserID == "" {
		return fmt.Errorf("inbound message requires channel id and channel user id")
	}
	if strings.TrimSpace(msg.Text) == "" && len(msg.Attachments) == 0 {
		return fmt.Errorf("inbound message from %s:%s is empty", msg.ChannelID, msg.ChannelUserID)
	}
	ls, err := e.bridgeSession(msg.ChannelID, msg.ChannelUserID, msg.ChannelName)
	if err != nil {
		return err
	}
	_, err = e.EnqueueMessage(ls.id(), msg.Text, EnqueueOptions{
		AuthorName:  msg.AuthorName,
		Attachments: msg.Attachments,
	})
	return err
}
