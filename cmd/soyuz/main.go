package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/frederic-klein/soyuz/internal/config"
	"github.com/frederic-klein/soyuz/internal/credentials"
	"github.com/frederic-klein/soyuz/internal/policy"
	"github.com/frederic-klein/soyuz/internal/resolver"
	"github.com/frederic-klein/soyuz/internal/signing"
	"github.com/frederic-klein/soyuz/internal/store"
	"github.com/frederic-klein/soyuz/internal/upload"
)

var rootCmd = &cobra.Command{
	Use:   "soyuz",
	Short: "Soyuz - upload checks and build dependency resolution",
	Long: `Soyuz parses and validates Debian source and binary uploads against named
upload policies, and computes the APT sources a build may install its
build-dependencies from.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SOYUZ")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultPath, "config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("store", "", "SQLite store path (overrides config)")
	rootCmd.PersistentFlags().String("librarian", "", "content store directory (overrides config)")
	rootCmd.PersistentFlags().String("keyring", "", "OpenPGP keyring for signature checks (overrides config)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("store", rootCmd.PersistentFlags().Lookup("store"))
	_ = viper.BindPFlag("librarian", rootCmd.PersistentFlags().Lookup("librarian"))
	_ = viper.BindPFlag("keyring", rootCmd.PersistentFlags().Lookup("keyring"))
}

func registerCommands() {
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(classifyCmd())
	rootCmd.AddCommand(policiesCmd())
	rootCmd.AddCommand(sourcesListCmd())
	rootCmd.AddCommand(storeCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

// loadConfig reads the config file and applies flag and environment
// overrides. A missing file is only an error when named explicitly.
func loadConfig() (*config.Config, error) {
	path := viper.GetString("config")
	var (
		cfg *config.Config
		err error
	)
	if viper.IsSet("config") && path != config.DefaultPath {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadOptional(path)
	}
	if err != nil {
		return nil, err
	}

	if v := viper.GetString("store"); v != "" {
		cfg.Store.Path = v
	}
	if v := viper.GetString("librarian"); v != "" {
		cfg.Librarian.Dir = v
	}
	if v := viper.GetString("keyring"); v != "" {
		cfg.Keyring = v
	}
	if v := viper.GetString("credentials-secret"); v != "" {
		cfg.Credentials.Secret, cfg.Credentials.SecretFile = v, ""
	}
	return cfg, cfg.Validate()
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// newProcessor returns an upload processor checking signatures against the
// configured keyring, if any.
func newProcessor(cfg *config.Config, logger *slog.Logger) (*upload.Processor, error) {
	if cfg.Keyring == "" {
		logger.Warn("no keyring configured, signed uploads cannot be verified")
		return upload.NewProcessor(nil, logger), nil
	}
	v, err := signing.LoadKeyring(cfg.Keyring)
	if err != nil {
		return nil, err
	}
	logger.Debug("loaded keyring", "path", cfg.Keyring, "keys", v.Len())
	return upload.NewProcessor(v, logger), nil
}

// policyOptions returns the options every looked-up policy starts from.
func policyOptions(cfg *config.Config) (policy.Options, error) {
	comps, err := cfg.Components()
	if err != nil {
		return policy.Options{}, err
	}
	return policy.Options{Context: cfg.Policy, PermittedComponents: comps}, nil
}

// newIssuer returns the archive token issuer, or nil when no credentials
// secret is configured.
func newIssuer(cfg *config.Config) (*credentials.Issuer, error) {
	secret, ok, err := cfg.RootSecret()
	if err != nil || !ok {
		return nil, err
	}
	return credentials.NewIssuer(secret)
}

// newResolver wires a resolver to st. Private archives need a credentials
// secret; without one their lines fail to resolve.
func newResolver(cfg *config.Config, st *store.Store, logger *slog.Logger) (*resolver.Resolver, error) {
	issuer, err := newIssuer(cfg)
	if err != nil {
		return nil, err
	}
	var creds resolver.CredentialProvider
	if issuer != nil {
		creds = issuer
	}
	return resolver.NewResolver(st, cfg.Layout(), creds, logger), nil
}

func withStore(ctx context.Context, cfg *config.Config, fn func(st *store.Store) error) error {
	st, err := store.Open(ctx, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()
	return fn(st)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
