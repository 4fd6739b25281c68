// cmd/messenger/oneshot.go
// Single REST calls for scripts

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fisionet/messaging/internal/messaging"
)

func newSendCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "send [user-id] [text...]",
		Short: "Send one message over REST",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := a.client().SendMessage(cmd.Context(), a.cfg.ChatIdentity, messaging.SendMessageRequest{
				ReceiverID: args[0],
				Content:    strings.Join(args[1:], " "),
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "sent %s in %s\n", msg.ID, msg.ConversationID)
			return nil
		},
	}
}

func newConversationsCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"ls"},
		Short:   "List conversations, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			convs, err := a.client().Conversations(cmd.Context(), a.cfg.ChatIdentity)
			if err != nil {
				return err
			}
			if len(convs) == 0 {
				fmt.Fprintln(a.out, "no conversations")
				return nil
			}

			for i, c := range convs {
				if limit > 0 && i == limit {
					break
				}
				name := c.OtherUserName
				if strings.TrimSpace(name) == "" {
					name = c.OtherUserID
				}
				when := "-"
				if c.LastMessageTime > 0 {
					when = time.Unix(c.LastMessageTime, 0).Format("2006-01-02 15:04")
				}
				fmt.Fprintf(a.out, "%s\t%s\t%d unread\t%s\t%s\n", c.ConversationID, name, c.UnreadCount, when, c.LastMessage)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show at most n conversations")
	return cmd
}

func newUnreadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unread",
		Short: "Print the unread message total",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.client().UnreadCount(cmd.Context(), a.cfg.ChatIdentity)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, n)
			return nil
		},
	}
}
