// Command recordbase-token mints bearer tokens signed with the key named in
// the server configuration.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/recordbase/recordbase-server/internal/config"
	"github.com/recordbase/recordbase-server/internal/server"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the server config file")
	subject := flag.String("subject", "", "principal the token is issued to")
	ttl := flag.Duration("ttl", 0, "token lifetime; 0 uses auth.token_ttl")
	verbose := flag.Bool("v", false, "print the token ID and expiry to stderr")
	flag.Parse()

	if *configPath == "" {
		*configPath = "./config.yaml"
	}
	if *subject == "" {
		fmt.Fprintln(os.Stderr, "-subject is required")
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	tokens, err := server.NewTokenManager(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create token manager: %v\n", err)
		os.Exit(1)
	}

	token, claims, err := tokens.Issue(*subject, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to issue token: %v\n", err)
		os.Exit(1)
	}

	if *verbose {
		fmt.Fprintf(os.Stderr, "token_id=%s expires_at=%s\n", claims.TokenID, claims.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Println(token)
}
