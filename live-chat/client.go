package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gosuda/portal-chat/live-chat/chatclient"
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Terminal chat client: prints history and live messages, sends stdin lines",
	RunE:  runClient,
}

var (
	flagClientURL   string
	flagAuthor      string
	flagStateDir    string
	flagDialTimeout time.Duration
)

func init() {
	flags := clientCmd.Flags()
	flags.StringVar(&flagClientURL, "url", "http://127.0.0.1:8000", "chat server base URL")
	flags.StringVar(&flagAuthor, "author", "", "author name to use and remember (defaults to the stored one)")
	flags.StringVar(&flagStateDir, "state-dir", "", "directory for remembered client state (default: user config dir)")
	flags.DurationVar(&flagDialTimeout, "dial-timeout", 10*time.Second, "timeout for the websocket dial")
}

func runClient(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dir := flagStateDir
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("locate config dir: %w", err)
		}
		dir = filepath.Join(base, "live-chat")
	}
	storage, err := chatclient.NewFileStorage(dir)
	if err != nil {
		return err
	}
	c, err := chatclient.New(flagClientURL, chatclient.WithStorage(storage))
	if err != nil {
		return err
	}
	if flagAuthor != "" {
		if err := c.SetAuthor(flagAuthor); err != nil {
			return fmt.Errorf("store author: %w", err)
		}
	}

	dctx, cancel := context.WithTimeout(ctx, flagDialTimeout)
	defer cancel()
	if err := c.Connect(dctx); err != nil {
		return err
	}
	defer c.Close()

	err = runClientSession(ctx, c, cmd.InOrStdin(), cmd.OutOrStdout(), time.Local)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runClientSession prints the history and then live messages from a
// connected client to out, and sends every line read from in. A line
// "/nick NAME" changes the stored author instead of sending. It returns when
// the socket closes, in reaches EOF, or ctx is done.
func runClientSession(ctx context.Context, c *chatclient.Client, in io.Reader, out io.Writer, loc *time.Location) error {
	history, err := c.History(ctx)
	if err != nil {
		fmt.Fprintf(out, "! history unavailable: %v\n", err)
	}
	for _, m := range history {
		fmt.Fprint(out, chatclient.Format(m, loc))
	}
	if author := c.Author(); author != "" {
		fmt.Fprintf(out, "* chatting as %s\n", author)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			case <-c.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-c.Messages():
			if !ok {
				// Like the widget disabling its form: report and stop sending.
				if err := c.Err(); err != nil && !errors.Is(err, chatclient.ErrClosed) {
					fmt.Fprintf(out, "! connection closed: %v\n", err)
				} else {
					fmt.Fprintln(out, "! connection closed")
				}
				return nil
			}
			fmt.Fprint(out, chatclient.Format(m, loc))
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if name, isNick := strings.CutPrefix(line, "/nick "); isNick {
				name = strings.TrimSpace(name)
				if err := c.SetAuthor(name); err != nil {
					fmt.Fprintf(out, "! %v\n", err)
					continue
				}
				fmt.Fprintf(out, "* chatting as %s\n", name)
				continue
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if err := c.Send(line); err != nil {
				fmt.Fprintf(out, "! %v\n", err)
				if errors.Is(err, chatclient.ErrClosed) {
					return nil
				}
			}
		}
	}
}
