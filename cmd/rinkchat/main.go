// rinkchat is the terminal client. It embeds the chat engine directly;
// no daemon required.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/sunmoonron/rinkchat/internal/chat"
	"github.com/sunmoonron/rinkchat/internal/identity"
)

func main() {
	dataDir := pflag.String("data-dir", defaultDataDir(), "state directory")
	relays := pflag.StringSlice("relays", []string{
		"wss://relay.damus.io",
		"wss://nos.lol",
		"wss://relay.nostr.band",
	}, "relay websocket urls")
	baseURL := pflag.String("base-url", "https://sunmoonron.github.io", "base url for share links")
	passphrase := pflag.String("passphrase", os.Getenv("RINKCHAT_PASSPHRASE"), "identity key passphrase")
	verbose := pflag.Bool("verbose", false, "debug logging")
	pflag.Parse()

	// The terminal belongs to the TUI; logs go to a file.
	logCfg := zap.NewProductionConfig()
	if *verbose {
		logCfg = zap.NewDevelopmentConfig()
	}
	if err := os.MkdirAll(*dataDir, 0o700); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logCfg.OutputPaths = []string{filepath.Join(*dataDir, "rinkchat.log")}
	logCfg.ErrorOutputPaths = logCfg.OutputPaths
	log, err := logCfg.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	store := identity.NewStore(*dataDir, *passphrase, log.Named("identity"))
	id, err := store.Ensure()
	if err != nil {
		fmt.Fprintln(os.Stderr, "identity:", err)
		os.Exit(1)
	}

	manager, err := chat.NewManager(chat.Config{
		DataDir: *dataDir,
		BaseURL: *baseURL,
		Relays:  *relays,
	}, id, log.Named("chat"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "chat engine:", err)
		os.Exit(1)
	}
	defer manager.Close()

	p := tea.NewProgram(newModel(manager), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("data", "chat")
	}
	return filepath.Join(home, ".rinkchat")
}
