package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/dgellow/oauth-relay/internal"
	"github.com/dgellow/oauth-relay/internal/config"
	"github.com/dgellow/oauth-relay/internal/log"
)

var BuildVersion = "dev"

func newProvider(path string) config.Provider {
	if path == "" {
		return config.NewEnvProvider()
	}
	return config.NewFileProvider(path)
}

func validateConfig(ctx context.Context, path string) error {
	source := "environment"
	if path != "" {
		source = path
	}
	fmt.Printf("Validating: %s\n", source)

	cfg, err := newProvider(path).Load(ctx)
	if err != nil {
		fmt.Printf("\nErrors (1):\n  - %s\n\nResult: FAIL\n", err)
		return err
	}
	if _, err := config.LoadServerSettings(); err != nil {
		fmt.Printf("\nErrors (1):\n  - %s\n\nResult: FAIL\n", err)
		return err
	}

	fmt.Printf("\nMode:          %s\n", cfg.Mode())
	fmt.Printf("Init path:     %s\n", cfg.InitPath)
	fmt.Printf("Callback path: %s\n", cfg.CallbackPath)
	if cfg.RedirectURI != "" {
		fmt.Printf("Redirect URI:  %s\n", cfg.RedirectURI)
	}
	fmt.Println("\nResult: PASS")
	return nil
}

func main() {
	conf := flag.String("config", "", "path to JSON config file (default: read OAUTH_* environment variables)")
	version := flag.Bool("version", false, "print version and exit")
	help := flag.Bool("help", false, "print help and exit")
	validate := flag.Bool("validate", false, "validate configuration and exit")
	logLevel := flag.String("log-level", "", "log level (error, warn, info, debug, trace); overrides LOG_LEVEL")
	flag.Parse()
	if *help {
		flag.Usage()
		return
	}
	if *logLevel != "" {
		if err := log.SetLogLevel(*logLevel); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	if *version {
		fmt.Println(BuildVersion)
		return
	}

	ctx := context.Background()

	if *validate {
		if err := validateConfig(ctx, *conf); err != nil {
			os.Exit(1)
		}
		return
	}

	settings, err := config.LoadServerSettings()
	if err != nil {
		log.LogError("Failed to load server settings: %v", err)
		os.Exit(1)
	}

	provider := newProvider(*conf)
	// Configuration is re-read per request; a bad one is reported early but
	// does not prevent startup.
	if _, err := provider.Load(ctx); err != nil {
		log.LogWarnWithFields("main", "Configuration is currently invalid", map[string]any{
			"error": err.Error(),
		})
	}

	log.LogInfoWithFields("main", "Starting oauth-relay", map[string]any{
		"version":   BuildVersion,
		"config":    *conf,
		"log_level": log.GetLogLevel(),
	})

	relay, err := internal.NewRelay(settings, provider)
	if err != nil {
		log.LogError("Failed to create relay: %v", err)
		os.Exit(1)
	}

	if err := relay.Run(ctx); err != nil {
		log.LogError("Relay exited: %v", err)
		os.Exit(1)
	}
}
