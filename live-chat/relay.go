package main

import (
	"encoding/base64"
	"fmt"
	"net"
	"strings"

	"github.com/rs/zerolog/log"

	"gosuda.org/portal/portal/core/cryptoops"
	"gosuda.org/portal/sdk"
)

// relayConfig describes how the chat is advertised on portal relays.
type relayConfig struct {
	ServerURLs  []string
	Name        string
	CredKey     string
	Description string
	Owner       string
	Tags        string
	Hide        bool
}

// relayURLs flattens repeated and comma-separated relay URLs, dropping blanks.
func relayURLs(raw []string) []string {
	var out []string
	for _, r := range raw {
		for _, p := range strings.Split(r, ",") {
			if u := strings.TrimSpace(p); u != "" {
				out = append(out, u)
			}
		}
	}
	return out
}

func relayTags(raw string) []string {
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func relayCredential(credKey string) (*cryptoops.Credential, error) {
	if credKey == "" {
		return sdk.NewCredential(), nil
	}
	key, err := base64.StdEncoding.DecodeString(credKey)
	if err != nil {
		return nil, fmt.Errorf("decode cred key: %w", err)
	}
	cred, err := cryptoops.NewCredentialFromPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("new credential from private key: %w", err)
	}
	return cred, nil
}

// relayListeners opens one listener per configured relay. A relay whose client
// cannot be created is skipped; a failed lease aborts.
func relayListeners(cfg relayConfig) ([]*sdk.RDClient, []net.Listener, error) {
	urls := relayURLs(cfg.ServerURLs)
	if len(urls) == 0 {
		return nil, nil, nil
	}
	cred, err := relayCredential(cfg.CredKey)
	if err != nil {
		return nil, nil, err
	}

	var clients []*sdk.RDClient
	var listeners []net.Listener
	closeAll := func() {
		for _, ln := range listeners {
			_ = ln.Close()
		}
		for _, c := range clients {
			_ = c.Close()
		}
	}
	for _, u := range urls {
		client, err := sdk.NewClient(func(c *sdk.RDClientConfig) { c.BootstrapServers = []string{u} })
		if err != nil {
			log.Error().Err(err).Str("url", u).Msg("[chat] new relay client failed")
			continue
		}
		clients = append(clients, client)
		ln, err := client.Listen(cred, cfg.Name, []string{"http/1.1"},
			sdk.WithDescription(cfg.Description),
			sdk.WithHide(cfg.Hide),
			sdk.WithOwner(cfg.Owner),
			sdk.WithTags(relayTags(cfg.Tags)),
		)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("listen (%s): %w", u, err)
		}
		listeners = append(listeners, ln)
		log.Info().Str("url", u).Msg("[chat] advertising on relay")
	}
	return clients, listeners, nil
}
