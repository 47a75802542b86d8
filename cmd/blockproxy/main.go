// Command blockproxy runs the proxy core's external listener: it accepts
// player connections, authenticates them, and bridges each to the
// configured local game server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/blockproxy/blockproxy/internal/config"
	"github.com/blockproxy/blockproxy/internal/eventbus"
	"github.com/blockproxy/blockproxy/internal/netlog"
	"github.com/blockproxy/blockproxy/internal/proxy"
	"github.com/blockproxy/blockproxy/internal/sessionservice"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string
	var eventTimeoutMS int

	cmd := &cobra.Command{
		Use:   "blockproxy",
		Short: "Man-in-the-middle proxy for a block-world game server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			netlog.Configure(cfg.LogLevel, cfg.LogLevel == "debug")

			bus := eventbus.New(time.Duration(eventTimeoutMS) * time.Millisecond)
			svc := sessionservice.New("")
			p := proxy.New(cfg, bus, svc)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return p.Listen(ctx)
		},
	}

	flags := cmd.Flags()
	flags.String("proxy.bind", "0.0.0.0:25565", "external listener address")
	flags.Int("proxy.server-port", 25564, "local game server port")
	flags.Bool("proxy.online-mode", true, "authenticate clients against the session service")
	flags.Int("proxy.compression-threshold", 256, "packet size at or above which compression is applied, -1 disables")
	flags.Int("proxy.max-players", 20, "advertised player cap")
	flags.Int("proxy.encryption-key-size", 1024, "RSA key size used for the login encryption handshake")
	flags.String("proxy.log-level", "info", "zerolog level name")
	flags.Int("proxy.idle-timeout-seconds", 30, "seconds without a keep-alive before a session is closed")
	flags.Bool("proxy.cross-server", false, "allow the session coordinator's rebind operation")
	flags.StringVar(&configFile, "config", "", "optional config file (yaml/toml/json)")
	flags.IntVar(&eventTimeoutMS, "event-timeout-ms", 200, "per-event-handler timeout before demoting to pass-through")

	return cmd
}
