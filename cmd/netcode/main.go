// Command netcode runs the client and/or server session over either
// transport backend, wiring together the config, transport, and session
// packages and logging through zerolog.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/tankgam/netcode/internal/config"
	"github.com/tankgam/netcode/internal/netmetrics"
	"github.com/tankgam/netcode/pkg/netaddr"
	"github.com/tankgam/netcode/pkg/tickclock"
	"github.com/tankgam/netcode/pkg/transport"
	"github.com/tankgam/netcode/source/client"
	"github.com/tankgam/netcode/source/server"
)

const version = "0.1.0"

func main() {
	cfg := config.Default()

	if path := os.Getenv("NETCODE_ENV_FILE"); path != "" {
		if err := config.LoadEnvFile(&cfg, path); err != nil {
			fmt.Fprintf(os.Stderr, "netcode: %v\n", err)
			os.Exit(1)
		}
	}
	if err := config.LoadProcessEnv(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "netcode: %v\n", err)
		os.Exit(1)
	}

	fs := pflag.NewFlagSet("netcode", pflag.ExitOnError)
	roleFlags := config.BindFlags(&cfg, fs)
	_ = fs.Parse(os.Args[1:])
	roleFlags.Resolve(&cfg)

	log := newLogger(cfg)
	log.Info().Str("version", version).Str("backend", cfg.Backend).Bool("server", cfg.RunServer).Bool("client", cfg.RunClient).Msg("starting")

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, log)
	}

	serverEP, clientEP, err := openEndpoints(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open transport endpoints")
	}

	var srv *server.Server
	if cfg.RunServer && serverEP != nil {
		srv = server.New(serverEP, cfg.MaxSlots, log)
	}

	var sess *client.Session
	if cfg.RunClient && clientEP != nil {
		dst := netaddr.ServerAddr
		if cfg.Backend == "crossprocess" {
			dst = netaddr.Addr{Type: netaddr.Loopback, Port: cfg.ServerPort}
		}
		sess = client.New(clientEP, dst, nil, log)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second / tickclock.Rate)
	defer ticker.Stop()

	var tick uint64
	for {
		select {
		case <-sigCh:
			log.Info().Msg("shutting down")
			if sess != nil {
				sess.Shutdown()
			}
			return
		case <-ticker.C:
			if srv != nil {
				srv.Frame(tick)
			}
			if sess != nil {
				sess.Frame()
			}
			tick++
		}
	}
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var out zerolog.ConsoleWriter
	if cfg.LogPretty {
		out = zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) { w.Out = os.Stderr })
		return zerolog.New(out).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}

func serveMetrics(addr string, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		netmetrics.WritePrometheus(w, true)
	})
	log.Info().Str("addr", addr).Msg("serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("metrics server stopped")
	}
}

// openEndpoints builds the server and/or client transport.Endpoint for
// the selected backend. With the loopback backend both endpoints share
// one in-process transport.LoopbackNetwork, useful for local
// single-process smoke testing; crossprocess dials the real OS UDP
// socket pair instead, one process per role in practice.
func openEndpoints(cfg config.Config, log zerolog.Logger) (transport.Endpoint, transport.Endpoint, error) {
	switch cfg.Backend {
	case "crossprocess":
		net, err := transport.NewCrossProcessNetwork("", log)
		if err != nil {
			return nil, nil, err
		}
		var serverEP, clientEP transport.Endpoint
		if cfg.RunServer {
			serverEP, err = net.NewServerEndpoint()
			if err != nil {
				return nil, nil, err
			}
		}
		if cfg.RunClient {
			clientEP, err = net.NewClientEndpoint()
			if err != nil {
				return nil, nil, err
			}
		}
		return serverEP, clientEP, nil
	default:
		net := transport.NewLoopbackNetwork(log)
		var serverEP, clientEP transport.Endpoint
		var err error
		if cfg.RunServer {
			serverEP, err = net.NewServerEndpoint()
			if err != nil {
				return nil, nil, err
			}
		}
		if cfg.RunClient {
			clientEP, err = net.NewClientEndpoint()
			if err != nil {
				return nil, nil, err
			}
		}
		return serverEP, clientEP, nil
	}
}
