package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cloudx-io/sealedbid/config"
	"github.com/cloudx-io/sealedbid/controller"
	"github.com/cloudx-io/sealedbid/httpapi"
	"github.com/cloudx-io/sealedbid/ledger"
	"github.com/cloudx-io/sealedbid/ledger/lvldb"
	"github.com/cloudx-io/sealedbid/ledger/memstore"
	"github.com/cloudx-io/sealedbid/logging"
	"github.com/cloudx-io/sealedbid/metrics"
	"github.com/cloudx-io/sealedbid/receipt"
	"github.com/cloudx-io/sealedbid/server"
	"github.com/cloudx-io/sealedbid/signing"
)

const daemonName = "auctiond"

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:          daemonName,
	Short:        "auctiond runs the sealed-bid auction ledger",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the auction ledger over TCP or vsock, with an optional HTTP read API",
	RunE: func(c *cobra.Command, _ []string) error {
		cfg, err := config.Load(v)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a node key file",
	RunE: func(c *cobra.Command, _ []string) error {
		out, err := c.Flags().GetString("out")
		if err != nil {
			return err
		}
		key, err := signing.NewKeyManager()
		if err != nil {
			return err
		}
		if err := key.SaveKeyFile(out); err != nil {
			return err
		}
		pub, err := key.PublicKeyPEM()
		if err != nil {
			return err
		}
		if err := os.WriteFile(out+".pub", pub, 0o644); err != nil {
			return fmt.Errorf("write public key: %w", err)
		}
		fmt.Fprintf(c.OutOrStdout(), "wrote %s and %s.pub\nidentity: %s\n", out, out, key.Identity())
		return nil
	},
}

func init() {
	if err := config.ConfigureCLI(v, config.EnvPrefix, config.Flags, serveCmd.Flags()); err != nil {
		panic(err)
	}
	keygenCmd.Flags().String("out", "auctiond.key", "Path of the key file to create")

	rootCmd.AddCommand(serveCmd, keygenCmd)
}

func openStore(cfg config.StoreConfig) (ledger.Store, error) {
	switch cfg.Backend {
	case config.StoreMemory:
		return memstore.New(), nil
	case config.StoreLevelDB:
		return lvldb.Open(cfg.Path, lvldb.Options{CacheSize: cfg.CacheSize})
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Backend)
	}
}

// loadOrCreateKey reads the node key, generating it on first start.
func loadOrCreateKey(path string, log *slog.Logger) (*signing.KeyManager, error) {
	key, err := signing.LoadKeyFile(path)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	key, err = signing.NewKeyManager()
	if err != nil {
		return nil, err
	}
	if err := key.SaveKeyFile(path); err != nil {
		return nil, err
	}
	log.Info("generated node key", "path", path, "identity", key.Identity())
	return key, nil
}

func openIssuer(cfg *config.Config, log *slog.Logger) (receipt.Issuer, error) {
	switch cfg.Receipts {
	case config.ReceiptsKey:
		key, err := loadOrCreateKey(cfg.KeyFile, log)
		if err != nil {
			return nil, fmt.Errorf("node key: %w", err)
		}
		log.Info("signing receipts with node key", "identity", key.Identity())
		return receipt.NewKeyIssuer(key), nil
	case config.ReceiptsNitro:
		issuer, err := receipt.OpenNitroIssuer()
		if err != nil {
			return nil, err
		}
		log.Info("attesting receipts with the Nitro Security Module")
		return issuer, nil
	default:
		return nil, nil
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.New(os.Stderr, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	log := logger.With("pkg", daemonName)

	store, err := openStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("failed to close store", "err", err)
		}
	}()
	log.Info("store opened", "backend", cfg.Store.Backend, "path", cfg.Store.Path)

	m := metrics.New()
	ctl := controller.New(store,
		controller.WithLogger(logger),
		controller.WithMetrics(m),
		controller.WithProtocol(cfg.Protocol),
	)
	if err := ctl.SyncMetrics(ctx); err != nil {
		return err
	}

	issuer, err := openIssuer(cfg, log)
	if err != nil {
		return err
	}

	opts := []server.Option{server.WithLogger(logger), server.WithMetrics(m)}
	apiOpts := []httpapi.Option{
		httpapi.WithLogger(logger),
		httpapi.WithMetrics(m),
		httpapi.WithDecimals(cfg.Decimals),
	}
	if issuer != nil {
		opts = append(opts, server.WithIssuer(issuer))
		apiOpts = append(apiOpts, httpapi.WithIssuer(issuer))
	}

	if cfg.HTTPAddr != "" {
		httpSrv := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           httpapi.New(ctl, apiOpts...).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info("http api listening", "addr", cfg.HTTPAddr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http api stopped", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				log.Error("failed to shut down http api", "err", err)
			}
		}()
	}

	listener, err := server.Listen(cfg.Server)
	if err != nil {
		return err
	}
	return server.New(ctl, cfg.Server, opts...).Serve(ctx, listener)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
