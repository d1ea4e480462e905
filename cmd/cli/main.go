package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"codearena/internal/cli/command"
	"codearena/internal/cli/config"
	httpclient "codearena/internal/cli/http"
	"codearena/internal/cli/repl"
	"codearena/internal/cli/state"
)

const defaultConfigPath = "configs/cli.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	baseURL := flag.String("base", "", "Override base URL")
	timeout := flag.Duration("timeout", 0, "Override HTTP timeout (e.g. 10s)")
	token := flag.String("token", "", "Override access token")
	user := flag.String("user", "", "Override user id sent in header identity mode")
	role := flag.String("role", "", "Override role sent in header identity mode")
	statePath := flag.String("state", "", "Override identity state path")
	pretty := flag.Bool("pretty", false, "Pretty print JSON response")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}
	if *timeout > 0 {
		cfg.Timeout = *timeout
	}
	if *statePath != "" {
		cfg.StatePath = *statePath
	}
	if *pretty {
		trueValue := true
		cfg.PrettyJSON = &trueValue
	}

	identity, err := state.Load(cfg.StatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load identity state failed: %v\n", err)
		os.Exit(1)
	}
	if *token != "" {
		identity.AccessToken = *token
	}
	if *user != "" {
		identity.UserID = *user
	}
	if *role != "" {
		identity.Role = *role
	}

	commands := command.Registry()
	rl, err := repl.NewReadline(cfg.HistoryPath, commands)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init terminal failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = rl.Close() }()

	client := httpclient.New(cfg.BaseURL, cfg.Timeout, repl.IdentityHeaders(&identity))
	session := repl.New(client, commands, &identity, rl, rl.Stdout(), repl.Options{
		StatePath:    cfg.StatePath,
		PrettyJSON:   cfg.PrettyJSON != nil && *cfg.PrettyJSON,
		WaitInterval: cfg.WaitInterval,
		WaitAttempts: cfg.WaitAttempts,
	})
	session.Run(context.Background())
}
