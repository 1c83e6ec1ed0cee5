package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/lanikai/golive"
	"github.com/lanikai/golive/internal/logging"
	"github.com/lanikai/golive/internal/media"
)

var log = logging.DefaultLogger.WithTag("golived")

func main() {
	flag.Parse()

	if flagHelp {
		help()
		os.Exit(0)
	}
	if flagVersion {
		version()
		os.Exit(0)
	}

	if flagLogLevel != "" {
		if err := logging.Configure(flagLogLevel); err != nil {
			log.Fatal(err)
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal(err)
	}

	if err := run(cfg); err != nil {
		if media.IsDeviceError(err) {
			log.Error("Cannot capture: %v", err)
		} else {
			log.Error("%v", err)
		}
		os.Exit(1)
	}
}

// loadConfig merges the configuration file, if any, with command line flags.
func loadConfig() (golive.Config, error) {
	cfg := golive.DefaultConfig()
	if flagConfig != "" {
		var err error
		if cfg, err = golive.LoadConfig(flagConfig); err != nil {
			return cfg, err
		}
	}

	if flagURL != "" {
		cfg.URL = flagURL
	}
	if flagKey != "" {
		cfg.StreamKey = flagKey
	}
	if flagToken != "" {
		cfg.Token = flagToken
	}
	if flagFPS > 0 {
		cfg.FPS = flagFPS
	}
	if flagNoAudio {
		cfg.Constraints.Audio = false
	}
	if flagNoVideo {
		cfg.Constraints.Video = false
	}
	if flagChunkInterval != "" {
		d, err := time.ParseDuration(flagChunkInterval)
		if err != nil {
			return cfg, errors.Wrap(err, "--chunk-interval")
		}
		cfg.ChunkInterval = d
	}
	if flagMaxAttempts >= 0 {
		cfg.Reconnect.MaxAttempts = flagMaxAttempts
	}

	return cfg, cfg.Validate()
}

func run(cfg golive.Config) error {
	statsInterval, err := time.ParseDuration(flagStatsInterval)
	if err != nil {
		return errors.Wrap(err, "--stats-interval")
	}

	dev, err := media.OpenDevice(flagSource)
	if err != nil {
		return err
	}
	stream, err := dev.Acquire(&cfg.Constraints)
	if err != nil {
		return err
	}
	defer stream.Stop()

	session, err := golive.NewSession(cfg, stream)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	// Status reports
	g.Go(func() error {
		for st := range session.Status() {
			switch st.Kind {
			case golive.StatusFailed, golive.StatusEncoderError:
				log.Error("%v", st)
			case golive.StatusCongested, golive.StatusReconnecting:
				log.Warn("%v", st)
			default:
				log.Info("%v", st)
			}
		}
		return nil
	})

	// Signals
	g.Go(func() error {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, unix.SIGINT, unix.SIGTERM, unix.SIGUSR1, unix.SIGUSR2)
		defer signal.Stop(sigs)

		enabled := map[media.Kind]bool{media.Audio: true, media.Video: true}
		for {
			select {
			case sig := <-sigs:
				switch sig {
				case unix.SIGUSR1, unix.SIGUSR2:
					kind := media.Audio
					if sig == unix.SIGUSR2 {
						kind = media.Video
					}
					enabled[kind] = !enabled[kind]
					if err := session.SetTrackEnabled(kind, enabled[kind]); err != nil {
						log.Warn("Toggle %s: %v", kind, err)
					}
				default:
					log.Info("Received %v, ending broadcast", sig)
					session.Stop()
					return nil
				}
			case <-session.Done():
				return nil
			}
		}
	})

	// Periodic statistics
	if statsInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(statsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					st := session.Stats()
					log.Info("%s: sent %d chunks (%d bytes), %d queued, %d evicted, %d lost, %d packets dropped, backlog %d",
						st.State, st.Sent, st.SentBytes, st.Queued, st.Evicted, st.Discarded, st.Dropped, st.Backlog)
				case <-session.Done():
					return nil
				}
			}
		})
	}

	if err := session.Start(ctx); err != nil {
		cancel()
		g.Wait()
		return err
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return session.Err()
}
