// Command obelisk runs one node of an obelisk consensus network.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/obelisk-engine/obelisk/bft/bftapp"
	"github.com/obelisk-engine/obelisk/bft/bftengine"
	"github.com/obelisk-engine/obelisk/bft/bftp2p/bftlibp2p"
	"github.com/obelisk-engine/obelisk/odb"
	"github.com/obelisk-engine/obelisk/odb/odbmem"
	"github.com/obelisk-engine/obelisk/odb/odbpebble"
	"github.com/obelisk-engine/obelisk/oserver"
	"github.com/obelisk-engine/obelisk/owatchdog"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "obelisk",
		Short:        "Obelisk BFT consensus node",
		SilenceUsage: true,
	}
	cmd.AddCommand(runCommand(), keygenCommand())
	return cmd
}

func runCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a node from a TOML config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			log := slog.New(slog.NewTextHandler(os.Stderr, nil))

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()

			return runNode(ctx, log, cfg)
		},
	}

	addConfigFlag(cmd.Flags(), &configPath)
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func addConfigFlag(fs *pflag.FlagSet, dst *string) {
	fs.StringVarP(dst, "config", "c", "", "path to the node's TOML config file")
}

func runNode(ctx context.Context, log *slog.Logger, cfg Config) error {
	wd, ctx := owatchdog.New(ctx, log.With("sys", "watchdog"))

	vs, err := cfg.validatorSet()
	if err != nil {
		return err
	}
	signer, err := cfg.signer()
	if err != nil {
		return err
	}

	var db odb.Database
	if cfg.Node.DBPath == "" {
		log.Info("No db_path configured; state is in-memory and will not survive restart")
		db = odbmem.New()
	} else {
		pdb, err := odbpebble.Open(cfg.Node.DBPath)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		db = pdb
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Warn("Error closing database", "err", err)
		}
	}()

	var p2pOpts []libp2p.Option
	if len(cfg.P2P.Listen) > 0 {
		p2pOpts = append(p2pOpts, libp2p.ListenAddrStrings(cfg.P2P.Listen...))
	}
	host, err := bftlibp2p.NewHost(ctx, bftlibp2p.HostOptions{Options: p2pOpts})
	if err != nil {
		return fmt.Errorf("starting p2p host: %w", err)
	}
	log.Info("Started libp2p host", "id", host.Libp2pHost().ID().String())

	conn, err := bftlibp2p.NewConnection(ctx, log.With("sys", "p2p"), host)
	if err != nil {
		return fmt.Errorf("joining gossip topics: %w", err)
	}
	defer conn.Disconnect()

	for _, addr := range cfg.P2P.Peers {
		ai, err := peer.AddrInfoFromString(addr)
		if err != nil {
			return fmt.Errorf("bad peer address %q: %w", addr, err)
		}
		if err := host.Connect(ctx, *ai); err != nil {
			log.Warn("Failed to dial peer", "addr", addr, "err", err)
		}
	}

	engine, err := bftengine.New(ctx, log.With("sys", "engine"), bftengine.Config{
		Validators: vs,
		Signer:     signer,
		DB:         db,
		App:        bftapp.KVApp{},
		Transport:  conn,
		Watchdog:   wd,
		TimeoutStrategy: bftengine.LinearTimeoutStrategy{
			Base: durationOr(cfg.Consensus.RoundTimeoutBaseMs, 3*time.Second),
			Step: durationOr(cfg.Consensus.RoundTimeoutStepMs, 500*time.Millisecond),
		},
		ProposeTimeout: durationOr(cfg.Consensus.ProposeTimeoutMs, 500*time.Millisecond),
		MaxTxsPerBlock: cfg.Consensus.MaxTxsPerBlock,
	})
	if err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}
	conn.SetHandler(engine, engine)

	var srv *oserver.Server
	if cfg.HTTP.Listen != "" {
		ln, err := net.Listen("tcp", cfg.HTTP.Listen)
		if err != nil {
			return fmt.Errorf("listening for explorer API: %w", err)
		}
		srv = oserver.New(ctx, log.With("sys", "http"), oserver.Config{
			Listener:   ln,
			Engine:     engine,
			Validators: vs,
		})
		log.Info("Explorer API listening", "addr", ln.Addr().String())
	}

	log.Info(
		"Node running",
		"height", engine.Store().Height(),
		"validators", vs.Len(),
		"voting", signer != nil,
	)

	engine.Wait()
	if srv != nil {
		srv.Wait()
	}
	wd.Wait()
	return nil
}

func keygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a validator key: a signer seed and its public key",
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, priv, err := ed25519.GenerateKey(rand.Reader)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "signer_seed = %q\n", hex.EncodeToString(priv.Seed()))
			fmt.Fprintf(cmd.OutOrStdout(), "public_key = %q\n", hex.EncodeToString(pub))
			return nil
		},
	}
}
