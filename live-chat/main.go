package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "live-chat",
	Short: "Portal demo: live chat with history and a websocket widget",
	RunE:  runChat,
}

var (
	flagServerURLs   []string
	flagPort         int
	flagName         string
	flagDataPath     string
	flagHistoryLimit int
	flagCredKey      string
	flagHide         bool
	flagDescription  string
	flagOwner        string
	flagTags         string
)

func init() {
	flags := rootCmd.Flags()
	flags.StringSliceVar(&flagServerURLs, "server-url", strings.Split(os.Getenv("RELAY"), ","), "relay websocket URL(s); repeat or comma-separated (from env RELAY if set)")
	flags.IntVar(&flagPort, "port", 8000, "local HTTP port (negative to disable)")
	flags.StringVar(&flagName, "name", "live-chat", "backend display name")
	flags.StringVar(&flagDataPath, "data-path", "", "optional directory to persist chat history via PebbleDB")
	flags.IntVar(&flagHistoryLimit, "history-limit", 100, "messages kept in memory and loaded at startup (0 for unbounded)")
	flags.StringVar(&flagCredKey, "cred-key", "", "optional credential key to use for the relay listener (base64 encoded)")
	flags.BoolVar(&flagHide, "hide", false, "hide this lease from portal listings")
	flags.StringVar(&flagDescription, "description", "Portal demo: live chat", "lease description")
	flags.StringVar(&flagOwner, "owner", "Live Chat", "lease owner")
	flags.StringVar(&flagTags, "tags", "chat", "comma-separated lease tags")

	rootCmd.AddCommand(clientCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute chat command")
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flagHistoryLimit < 0 {
		return fmt.Errorf("--history-limit must not be negative")
	}
	hub := newHub(flagHistoryLimit)
	store := restoreHistory(hub, flagDataPath, flagHistoryLimit)

	handler := NewHandler(flagName, hub)

	clients, listeners, err := relayListeners(relayConfig{
		ServerURLs:  flagServerURLs,
		Name:        flagName,
		CredKey:     flagCredKey,
		Description: flagDescription,
		Owner:       flagOwner,
		Tags:        flagTags,
		Hide:        flagHide,
	})
	if err != nil {
		_ = store.Close()
		return err
	}
	if len(listeners) == 0 && flagPort < 0 {
		_ = store.Close()
		return fmt.Errorf("nothing to serve: no relay via --server-url or RELAY env and local port disabled")
	}

	for i, ln := range listeners {
		go serveRelay(ctx, i, ln, handler)
	}
	var httpSrv *http.Server
	if flagPort >= 0 {
		httpSrv = serveLocal(flagPort, handler)
	}

	<-ctx.Done()
	for _, ln := range listeners {
		_ = ln.Close()
	}
	for _, c := range clients {
		_ = c.Close()
	}
	if httpSrv != nil {
		// Shutdown does not wait for hijacked websocket connections; closeAll handles those.
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := httpSrv.Shutdown(sctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("[chat] http server shutdown error")
		}
		cancel()
	}
	hub.closeAll()
	hub.wait()
	if err := store.Close(); err != nil {
		log.Warn().Err(err).Msg("[chat] store close error")
	}
	log.Info().Msg("[chat] shutdown complete")
	return nil
}

func serveRelay(ctx context.Context, idx int, ln net.Listener, handler http.Handler) {
	err := http.Serve(ln, handler)
	if err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
		log.Error().Err(err).Int("listener", idx).Msg("[chat] relay http error")
	}
}

func serveLocal(port int, handler http.Handler) *http.Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	log.Info().Msgf("[chat] serving locally at http://127.0.0.1:%d", port)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Msg("[chat] local http stopped")
		}
	}()
	return srv
}
