// Command golive-sink is a development ingest server. It records every
// broadcast it receives under a directory, one file per stream key.
//
//	GET  /live/<key>          broadcast websocket
//	GET  /streams             JSON list of streams
//	POST /streams/<key>/stop  ask a broadcaster to stop
//	POST /streams/<key>/drop  drop a connection, as a network failure would
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/lanikai/golive/internal/logging"
	"github.com/lanikai/golive/internal/sink"
)

var log = logging.DefaultLogger.WithTag("golive-sink")

var (
	flagListen   string
	flagDir      string
	flagPrefix   string
	flagToken    string
	flagAckEvery int
	flagHelp     bool
)

func init() {
	flag.StringVarP(&flagListen, "listen", "l", ":8080", "Address to listen on")
	flag.StringVarP(&flagDir, "dir", "d", "recordings", "Recording directory (empty to discard)")
	flag.StringVarP(&flagPrefix, "prefix", "p", "/live", "Path prefix for stream keys")
	flag.StringVarP(&flagToken, "token", "t", "", "Require this bearer token")
	flag.IntVarP(&flagAckEvery, "ack-every", "a", sink.DefaultAckEvery, "Acknowledge every N chunks")
	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
}

func main() {
	flag.Parse()
	if flagHelp {
		fmt.Println("Usage: golive-sink [OPTION]...")
		flag.PrintDefaults()
		os.Exit(0)
	}

	if flagDir != "" {
		if err := os.MkdirAll(flagDir, 0755); err != nil {
			log.Fatal(err)
		}
	}

	if err := serve(); err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}
}

func serve() error {
	s := sink.NewServer(sink.Options{
		Dir:        flagDir,
		PathPrefix: flagPrefix,
		AckEvery:   flagAckEvery,
		Token:      flagToken,
	})
	defer s.Close()

	mux := http.NewServeMux()
	mux.Handle(strings.TrimSuffix(flagPrefix, "/")+"/", s)
	mux.HandleFunc("/streams", func(w http.ResponseWriter, r *http.Request) {
		var all []sink.Stats
		for _, key := range s.Keys() {
			if st, ok := s.Stats(key); ok {
				all = append(all, st)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(all)
	})
	mux.HandleFunc("/streams/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		rest := strings.TrimPrefix(r.URL.Path, "/streams/")
		i := strings.LastIndex(rest, "/")
		if i <= 0 {
			http.NotFound(w, r)
			return
		}
		key, action := rest[:i], rest[i+1:]

		var err error
		switch action {
		case "stop":
			err = s.Stop(key)
		case "drop":
			err = s.Drop(key)
		default:
			http.NotFound(w, r)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	srv := &http.Server{Addr: flagListen, Handler: mux}

	ctx, cancel := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("Listening on %s, recording to %q", flagListen, flagDir)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "listen")
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
