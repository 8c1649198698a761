package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cmejo/AI-Scholar-sub007/internal/conversation"
	"github.com/cmejo/AI-Scholar-sub007/internal/privacy"
	"github.com/cmejo/AI-Scholar-sub007/internal/session"
)

const chatHelp = `Commands:
  /rate N   rate the last response from 1 to 5
  /quit     end the conversation
`

func newChatCmd() *cobra.Command {
	var (
		userID  string
		domain  string
		consent bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Converse with the assistant on the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return chat(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), userID, domain, consent)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "local", "user id for the session")
	cmd.Flags().StringVar(&domain, "domain", "general", "conversation domain")
	cmd.Flags().BoolVar(&consent, "training-consent", false, "grant training consent so rated turns are stored")
	return cmd
}

func chat(ctx context.Context, in io.Reader, out io.Writer, userID, domain string, consent bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := setup(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = rt.shutdown() }()

	if err := rt.core.Start(ctx); err != nil {
		return err
	}
	if consent {
		if err := rt.core.Privacy().RequestConsent(userID, privacy.ConversationContent, privacy.ConsentTraining); err != nil {
			return err
		}
	}

	fmt.Fprint(out, chatHelp)
	sessions := rt.core.Sessions()
	var sess *session.Session
	lastTurn := -1

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			if sess != nil {
				sessions.End(ctx, sess.ID(), "user quit")
			}
			return rt.core.Feedback().Flush(ctx)
		case strings.HasPrefix(line, "/rate"):
			if sess == nil || lastTurn < 0 {
				fmt.Fprintln(out, "nothing to rate yet")
				continue
			}
			stars, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "/rate")))
			if err != nil {
				fmt.Fprintln(out, "usage: /rate N")
				continue
			}
			err = rt.core.Feedback().Submit(conversation.FeedbackEvent{
				Kind:           conversation.FeedbackRating,
				ConversationID: sess.ConversationID(),
				TurnIndex:      lastTurn,
				UserID:         userID,
				Rating:         stars,
			})
			if err != nil {
				fmt.Fprintf(out, "rating rejected: %v\n", err)
				continue
			}
			fmt.Fprintln(out, "thanks")
			continue
		}

		var resp *conversation.Response
		if sess == nil {
			sess, resp, err = sessions.Start(ctx, userID, line, session.WithDomain(domain))
		} else {
			resp, err = sessions.SubmitTurn(ctx, sess.ID(), line)
		}
		if err != nil {
			return err
		}
		lastTurn++
		fmt.Fprintln(out, resp.Text)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if sess != nil {
		sessions.End(ctx, sess.ID(), "input closed")
	}
	return rt.core.Feedback().Flush(ctx)
}
