package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/airbusgeo/cdse-dl/interface/auth"
	"github.com/airbusgeo/cdse-dl/service/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type globalConfig struct {
	Username string
	Password string
	EnvFile  string
	Verbose  bool
}

var global globalConfig

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		cancel()
		log.Fatal("error", zap.Error(err))
	}
	cancel()
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cdse-dl",
		Short: "Search and download products of the Copernicus Data Space Ecosystem",
		Long: `cdse-dl searches the catalogue of the Copernicus Data Space Ecosystem (OData and OpenSearch),
downloads products over https (resumable, checksum-verified) or from the eodata S3 bucket,
and manages the product subscriptions.

Credentials are read from --username/--password, then CDSE_USERNAME/CDSE_PASSWORD,
then the machine identity.dataspace.copernicus.eu of ~/.netrc.
A .env file is loaded if present.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadDotEnv(global.EnvFile); err != nil {
				return err
			}
			if global.Verbose {
				log.SetLevel(zapcore.DebugLevel)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&global.Username, "username", "", "CDSE account username")
	cmd.PersistentFlags().StringVar(&global.Password, "password", "", "CDSE account password")
	cmd.PersistentFlags().StringVar(&global.EnvFile, "env-file", "", "env file to load (default: .env of the current directory or its parents)")
	cmd.PersistentFlags().BoolVarP(&global.Verbose, "verbose", "v", false, "debug logs")

	cmd.AddCommand(
		newSearchCmd(),
		newDownloadCmd(),
		newS3DownloadCmd(),
		newSubscriptionsCmd(),
		newServeNotificationsCmd(),
		newTraceCmd(),
	)
	return cmd
}

// loadDotEnv loads path, or the first .env file found from the current directory up to the root.
// The variables already set are not overridden.
func loadDotEnv(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("loadDotEnv: %w", err)
		}
		return nil
	}
	dir, err := os.Getwd()
	if err != nil {
		return nil
	}
	for {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil
		}
		dir = parent
	}
}

// newSession authenticates with the first credentials found
func newSession(ctx context.Context) (*auth.Session, error) {
	creds, err := auth.FindCredentials(global.Username, global.Password)
	if err != nil {
		return nil, err
	}
	store, err := auth.NewTokenStore(ctx, creds)
	if err != nil {
		return nil, err
	}
	log.Logger(ctx).Sugar().Debugf("authenticated as %s", creds.Username())
	return auth.NewSession(store), nil
}
