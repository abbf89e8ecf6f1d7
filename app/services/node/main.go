package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/ardanlabs/powchain/app/services/node/handlers"
	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/genesis"
	"github.com/ardanlabs/powchain/foundation/blockchain/memhash"
	"github.com/ardanlabs/powchain/foundation/blockchain/peer"
	"github.com/ardanlabs/powchain/foundation/blockchain/signature"
	"github.com/ardanlabs/powchain/foundation/blockchain/state"
	"github.com/ardanlabs/powchain/foundation/blockchain/storage/disk"
	"github.com/ardanlabs/powchain/foundation/blockchain/storage/memory"
	"github.com/ardanlabs/powchain/foundation/blockchain/weaksub"
	"github.com/ardanlabs/powchain/foundation/events"
	"github.com/ardanlabs/powchain/foundation/keystore"
	"github.com/ardanlabs/powchain/foundation/logger"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("NODE")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	// This is all the configuration for the application and the default values.
	// Configuration values will be passed through the application as individual
	// values.
	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			DebugHost       string        `conf:"default:0.0.0.0:7080"`
			PublicHost      string        `conf:"default:0.0.0.0:8080"`
			PrivateHost     string        `conf:"default:0.0.0.0:9080"`
		}
		State struct {
			Storage            string        `conf:"default:disk,help:disk or memory"`
			DBPath             string        `conf:"default:zblock/"`
			GenesisFile        string        `conf:"help:genesis json file, the development genesis is used when empty"`
			KnownPeers         []string      `conf:"default:0.0.0.0:9080;0.0.0.0:9180"`
			PeerUpdateInterval time.Duration `conf:"default:1m"`
			MempoolCapacity    int           `conf:"default:10000"`
		}
		Consensus struct {
			SealVersion             uint8         `conf:"default:2"`
			DisableWeakSubjectivity bool          `conf:"default:false"`
			GrowthRate              float64       `conf:"default:1.1"`
			Period                  time.Duration `conf:"default:30m"`
			CheckInherentsAfter     uint64        `conf:"default:0"`
			MaxTimestampDrift       time.Duration `conf:"default:1m"`
		}
		Mining struct {
			Author          string        `conf:"help:hex compressed public key to mine for, a key is generated when empty"`
			KeysFolder      string        `conf:"default:zblock/keys/"`
			Threads         int           `conf:"default:1"`
			Round           int           `conf:"default:1000"`
			ProposalTimeout time.Duration `conf:"default:10s"`
		}
		Memhash struct {
			Profile     string `conf:"default:default,help:default or dev"`
			MemoryLimit uint64 `conf:"default:0,help:bytes available for caches and datasets, zero means system memory"`
			LargePages  bool   `conf:"default:false"`
			Secure      bool   `conf:"default:false"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "proof of work consensus node",
		},
	}

	// Parse will set the defaults and then look for any overriding values
	// in environment variables and command line flags.
	const prefix = "NODE"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	// Display the current configuration to the logs.
	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Key Store Support

	// The keystore package holds the keys of the authors this node mines for.
	// The names come from the file names in the keys folder.
	ks, err := keystore.New(cfg.Mining.KeysFolder)
	if err != nil {
		return fmt.Errorf("unable to load key store: %w", err)
	}

	// Logging the authors for documentation in the logs.
	for author, name := range ks.Copy() {
		log.Infow("startup", "status", "keystore", "name", name, "author", author)
	}

	author, generated, err := ks.ResolveAuthor(cfg.Mining.Author)
	if err != nil {
		return fmt.Errorf("unable to resolve author: %w", err)
	}

	if generated {
		log.Infow("startup", "status", "generated author key", "author", signature.AuthorString(author), "folder", cfg.Mining.KeysFolder, "name", keystore.DefaultName)
	}

	// =========================================================================
	// Blockchain Support

	gen := genesis.Default()
	if cfg.State.GenesisFile != "" {
		if gen, err = genesis.Load(cfg.State.GenesisFile); err != nil {
			return fmt.Errorf("unable to load genesis: %w", err)
		}
	}

	var storage database.Storage
	switch cfg.State.Storage {
	case "memory":
		storage, err = memory.New()
	case "disk":
		storage, err = disk.New(cfg.State.DBPath)
	default:
		err = fmt.Errorf("unknown storage %q", cfg.State.Storage)
	}
	if err != nil {
		return fmt.Errorf("unable to open storage: %w", err)
	}

	machines := memhash.DefaultConfig()
	if cfg.Memhash.Profile == "dev" {
		machines = memhash.DevConfig()
	}
	machines.MemoryLimit = cfg.Memhash.MemoryLimit
	machines.Flags = memhash.Flags{
		LargePages: cfg.Memhash.LargePages,
		Secure:     cfg.Memhash.Secure,
	}

	// A peer set is a collection of known nodes in the network so blocks
	// can be shared.
	peerSet := peer.NewPeerSet()
	for _, host := range cfg.State.KnownPeers {
		peerSet.Add(peer.New(host))
	}

	// The blockchain packages accept a function of this signature to allow the
	// application to log. For now, these raw messages are sent to any websocket
	// client that is connected into the system through the events package.
	evts := events.New[string]()
	ev := func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)
		log.Infow(s, "traceid", "00000000-0000-0000-0000-000000000000")
		evts.Send(s)
	}

	// The state value represents the blockchain node and manages the blockchain
	// database and provides an API for application support.
	st, err := state.New(state.Config{
		Host:        cfg.Web.PrivateHost,
		Genesis:     gen,
		Storage:     storage,
		Machines:    machines,
		SealVersion: memhash.Version(cfg.Consensus.SealVersion),
		WeakSubjectivity: weaksub.Exponential{
			GrowthRate: cfg.Consensus.GrowthRate,
			Period:     cfg.Consensus.Period,
		},
		DisableWeakSubjectivity: cfg.Consensus.DisableWeakSubjectivity,
		CheckInherentsAfter:     cfg.Consensus.CheckInherentsAfter,
		MaxTimestampDrift:       cfg.Consensus.MaxTimestampDrift,
		ProposalTimeout:         cfg.Mining.ProposalTimeout,
		MempoolCapacity:         cfg.State.MempoolCapacity,
		Author:                  author,
		Keys:                    ks,
		Threads:                 cfg.Mining.Threads,
		Round:                   cfg.Mining.Round,
		KnownPeers:              peerSet,
		PeerUpdateInterval:      cfg.State.PeerUpdateInterval,
		EvHandler:               ev,
	})
	if err != nil {
		return err
	}
	defer st.Shutdown()

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug v1 router started", "host", cfg.Web.DebugHost)

	// The Debug function returns a mux to listen and serve on for all the debug
	// related endpoints. This includes the standard library endpoints.

	// Construct the mux for the debug calls.
	debugMux := handlers.DebugMux(build, log, st)

	// Start the service listening for debug requests.
	// Not concerned with shutting this down with load shedding.
	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug v1 router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Service Start/Stop Support

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	// =========================================================================
	// Start Public Service

	log.Infow("startup", "status", "initializing V1 public API support")

	// Construct the mux for the public API calls.
	publicMux := handlers.PublicMux(handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		State:    st,
		KS:       ks,
		Evts:     evts,
	})

	// Construct a server to service the requests against the mux.
	public := http.Server{
		Addr:         cfg.Web.PublicHost,
		Handler:      publicMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Start the service listening for api requests.
	go func() {
		log.Infow("startup", "status", "public api router started", "host", public.Addr)
		serverErrors <- public.ListenAndServe()
	}()

	// =========================================================================
	// Start Private Service

	log.Infow("startup", "status", "initializing V1 private API support")

	// Construct the mux for the private API calls.
	privateMux := handlers.PrivateMux(handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		State:    st,
	})

	// Construct a server to service the requests against the mux.
	private := http.Server{
		Addr:         cfg.Web.PrivateHost,
		Handler:      privateMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Start the service listening for api requests.
	go func() {
		log.Infow("startup", "status", "private api router started", "host", private.Addr)
		serverErrors <- private.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	// Blocking main and waiting for shutdown.
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		// Release any web sockets that are currently active.
		log.Infow("shutdown", "status", "shutdown web socket channels")
		evts.Shutdown()

		// Give outstanding requests a deadline for completion.
		ctx, cancelPri := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPri()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown private API started")
		if err := private.Shutdown(ctx); err != nil {
			private.Close()
			return fmt.Errorf("could not stop private service gracefully: %w", err)
		}

		// Give outstanding requests a deadline for completion.
		ctx, cancelPub := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPub()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown public API started")
		if err := public.Shutdown(ctx); err != nil {
			public.Close()
			return fmt.Errorf("could not stop public service gracefully: %w", err)
		}
	}

	return nil
}
