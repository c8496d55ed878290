// ABOUTME: chat, history and recent subcommands for marvify-chat
// ABOUTME: chat keeps a live stream open and sends each typed line; /image PATH sends a picture

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/marv1n-le/marvify/internal/chat"
	"github.com/marv1n-le/marvify/internal/client"
)

var historyCmd = &cobra.Command{
	Use:   "history <user-id>",
	Short: "Print the conversation with a user, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, self, err := session()
		if err != nil {
			return err
		}
		msgs, err := api.History(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		set := client.NewLocalMessageSet()
		set.Merge(msgs)
		out := cmd.OutOrStdout()
		for _, m := range set.Messages() {
			fmt.Fprintln(out, formatMessage(self, m))
		}
		return nil
	},
}

var recentLimit int

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Print the latest messages sent to you",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		api, self, err := session()
		if err != nil {
			return err
		}
		msgs, err := api.Inbox(cmd.Context(), recentLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, m := range msgs {
			fmt.Fprintln(out, formatMessage(self, m))
		}
		return nil
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat <user-id>",
	Short: "Open a live conversation with a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, self, err := session()
		if err != nil {
			return err
		}
		return runChat(cmd.Context(), api, self, args[0], cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	recentCmd.Flags().IntVar(&recentLimit, "limit", 20, "Maximum number of messages")
}

// lockedWriter serializes output from the input loop and the stream goroutine.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func runChat(ctx context.Context, api *client.Client, self, peer string, in io.Reader, w io.Writer) error {
	out := &lockedWriter{w: w}
	gray := color.New(color.FgHiBlack)

	c := client.NewChat(api, self, client.ChatOptions{
		OnState: func(s client.State) {
			gray.Fprintf(out, "  [%s]\n", s)
		},
		// Sent messages arrive here once, from Send or from the stream echo.
		OnMessage: func(m chat.ChatMessage, o client.Outcome) {
			if o == client.OutcomeAccepted {
				fmt.Fprintln(out, formatMessage(self, m))
			}
		},
		Logger: newLogger(),
	})

	if err := c.Open(ctx, peer); err != nil {
		return err
	}
	for _, m := range c.Messages() {
		fmt.Fprintln(out, formatMessage(self, m))
	}
	gray.Fprintf(out, "  chatting with %s; /image PATH sends a picture, /quit exits\n", peer)

	runDone := make(chan error, 1)
	go func() { runDone <- c.Run(ctx) }()
	defer func() {
		c.Close()
		<-runDone
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := handleLine(ctx, c, line)
			if err != nil {
				color.New(color.FgRed).Fprintf(out, "  send failed: %v\n", err)
				continue
			}
			if quit {
				return nil
			}
		}
	}
}

// handleLine sends one line of input. Returns true when the user asked to quit.
func handleLine(ctx context.Context, c *client.Chat, line string) (bool, error) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false, nil
	case line == "/quit":
		return true, nil
	case strings.HasPrefix(line, "/image "):
		path := strings.TrimSpace(strings.TrimPrefix(line, "/image "))
		data, err := os.ReadFile(path)
		if err != nil {
			return false, err
		}
		_, err = c.Send(ctx, "", &client.Attachment{Name: filepath.Base(path), Data: data})
		return false, err
	default:
		_, err := c.Send(ctx, line, nil)
		return false, err
	}
}

// formatMessage renders one message as a single terminal line.
func formatMessage(self string, m chat.ChatMessage) string {
	name := m.SenderID()
	if p := m.From.Profile(); p != nil && p.Username != "" {
		name = p.Username
	}

	who := color.CyanString(name)
	if m.SenderID() == self {
		who = color.GreenString("you")
	}

	body := m.Text
	if m.MediaType == chat.MediaImage {
		body = strings.TrimSpace(body + " " + color.YellowString("[image] "+m.MediaURL))
	}

	ts := color.HiBlackString(m.CreatedAt.Local().Format("15:04"))
	return fmt.Sprintf("%s %s: %s", ts, who, body)
}
