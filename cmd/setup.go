package cmd

import (
	"fmt"
	"os"

	"oauthgate/internal/config"
	"oauthgate/internal/credstore"
	"oauthgate/internal/flow"
	"oauthgate/internal/prompt"
	"oauthgate/internal/registry"
	"oauthgate/internal/transport"
	"oauthgate/pkg/oauth"
)

// engine bundles the wired components behind a command: the registry,
// the credential store and the interposing transport. Close releases
// the credential database.
type engine struct {
	cfg       config.Config
	registry  *registry.Registry
	creds     *credstore.Store
	transport *transport.Transport
	backend   credstore.Backend
}

// buildEngine loads the configuration and wires the full engine. The
// caller must Close the returned engine.
func buildEngine() (*engine, error) {
	path := configPath
	if path == "" {
		path = config.GetDefaultConfigPathOrPanic()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	entries, err := cfg.Entries()
	if err != nil {
		return nil, err
	}

	reg := registry.New()
	if err := reg.ReplaceAll(entries); err != nil {
		return nil, err
	}

	passphrase, err := cfg.Passphrase()
	if err != nil {
		return nil, err
	}

	backend, err := credstore.NewBoltBackend(cfg.Storage.Path, passphrase)
	if err != nil {
		return nil, fmt.Errorf("opening credential store: %w", err)
	}

	prompter := prompt.NewConsolePrompter(os.Stderr)
	creds := credstore.New(backend, prompter)
	client := oauth.NewClient()

	tr := transport.New(reg, creds,
		flow.NewDriver(client, creds, prompter),
		flow.NewRefreshManager(client, creds))

	return &engine{
		cfg:       cfg,
		registry:  reg,
		creds:     creds,
		transport: tr,
		backend:   backend,
	}, nil
}

// Close releases the credential database.
func (e *engine) Close() {
	if err := e.backend.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing credential store: %v\n", err)
	}
}
