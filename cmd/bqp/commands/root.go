package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"e2e_pairing/internal/config"
	"e2e_pairing/internal/cryptographic"
	"e2e_pairing/internal/model"
	transportKeysRepo "e2e_pairing/internal/repository/transportkeys"
	"e2e_pairing/internal/service/keystore"
	redisSvc "e2e_pairing/internal/service/redis"
	"e2e_pairing/internal/utils/log"
)

var (
	configPath string
	logLevel   string

	cfg    *config.Config
	crypto *cryptographic.Component
	store  *keystore.Store

	// closers run after the command, in reverse order
	closers []func() error
)

func Execute() error {
	root := &cobra.Command{
		Use:           "bqp",
		Short:         "Pair two devices out of band and derive their transport keys",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if configPath != "" {
				cfg, err = config.LoadConfig(configPath)
				if err != nil {
					return err
				}
			} else {
				cfg = config.DefaultConfig()
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			if err := log.Init(cfg.LogLevel); err != nil {
				return err
			}

			crypto = cryptographic.NewComponent(nil)
			store, err = openStore(cmd.Context(), cfg.Storage)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return closeAll()
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides the config)")

	root.AddCommand(pairCmd(), keysCmd(), initCmd())

	err := root.ExecuteContext(context.Background())
	if err != nil {
		// PersistentPostRunE is skipped when RunE fails
		if cerr := closeAll(); cerr != nil {
			log.Warn("close storage failed", zap.Error(cerr))
		}
	}
	return err
}

// openStore builds the transport key store for the configured backend and
// loads whatever it already holds.
func openStore(ctx context.Context, sc config.StorageConfig) (*keystore.Store, error) {
	if sc.Backend == config.BackendMemory {
		return keystore.NewStore(crypto, nil, model.SecretKey{}), nil
	}

	sealKey, err := keystore.DeriveSealKey([]byte(sc.Secret))
	if err != nil {
		return nil, err
	}

	var persister keystore.Persister
	switch sc.Backend {
	case config.BackendRedis:
		rdb, err := redisSvc.Dial(ctx, sc.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		closers = append(closers, rdb.Close)
		persister = keystore.NewRedisPersister(rdb, sc.RedisKey)
	case config.BackendMongo:
		client, err := transportKeysRepo.Connect(ctx, sc.MongoURI)
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		closers = append(closers, func() error { return client.Disconnect(context.Background()) })
		persister = transportKeysRepo.NewMongoRepo(client.Database(sc.MongoDatabase))
	default:
		return nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
	}

	s := keystore.NewStore(crypto, persister, sealKey)
	if err := s.Load(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("load transport keys: %w", err)
	}
	log.Debug("storage opened", zap.String("backend", sc.Backend), zap.Int("sets", s.Len()))
	closers = append(closers, func() error { s.Close(); return nil })
	return s, nil
}

func closeAll() error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		errs = append(errs, closers[i]())
	}
	closers = nil
	return errors.Join(errs...)
}

// initCmd writes the default configuration to a file for editing.
func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write a default config file",
		Args:  cobra.ExactArgs(1),
		// no storage needed
		PersistentPreRunE:  func(cmd *cobra.Command, args []string) error { return nil },
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force)", path)
			}
			if err := config.SaveConfig(path, config.DefaultConfig()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
