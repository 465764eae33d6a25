// Visastatuses queries the visa status API with the configured credentials
// and prints the detailed result.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"agentlist/config"
	"agentlist/visa"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "TOML config file")
	origin := flag.String("origin", "", "student origin (default from config)")
	verbose := flag.Bool("v", false, "log requests")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	if *origin == "" {
		*origin = cfg.Visa.DefaultOrigin
	}

	logger := zap.NewNop()
	if *verbose {
		if logger, err = zap.NewDevelopment(); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		defer logger.Sync()
	}

	client := visa.New(visa.Credentials{
		BaseURL:  cfg.Visa.BaseURL,
		Username: cfg.Visa.Username,
		Password: cfg.Visa.Password,
	}, nil, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()

	res := client.StatusesDetailed(ctx, *origin)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	if !res.Success {
		os.Exit(1)
	}
}
