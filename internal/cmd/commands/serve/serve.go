package serve

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/quarrylabs/quarry/internal/cmd/base"
	"github.com/quarrylabs/quarry/internal/config"
	"github.com/quarrylabs/quarry/internal/server"
)

type Command struct {
	*base.Command

	flagConfig string
}

func (c *Command) Synopsis() string {
	return "Run the retrieval server"
}

func (c *Command) Help() string {
	return `Usage: quarryd serve
       quarryd serve -config=config.hcl

  Run the retrieval server: HTTP API, ingestion workers, the optional
  Kafka upload consumer, and the embedding backfill loop.

  Without -config the server runs in zero-config mode: embedded SQLite
  database, in-memory search index, no external services.
`
}

func (c *Command) flags() *flag.FlagSet {
	f := flag.NewFlagSet("serve", flag.ContinueOnError)
	f.StringVar(&c.flagConfig, "config", "", "Path to the HCL configuration file")
	return f
}

func (c *Command) Run(args []string) int {
	f := c.flags()
	if err := f.Parse(args); err != nil {
		c.UI.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}

	cfg := config.Default()
	if c.flagConfig != "" {
		loaded, err := config.NewConfig(c.flagConfig)
		if err != nil {
			c.UI.Error(fmt.Sprintf("error loading configuration: %v", err))
			return 1
		}
		cfg = loaded
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg, c.Log)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error building server: %v", err))
		return 1
	}
	defer func() {
		if err := srv.Close(); err != nil {
			c.UI.Warn(fmt.Sprintf("error during shutdown: %v", err))
		}
	}()

	if err := srv.Run(ctx); err != nil {
		c.UI.Error(fmt.Sprintf("server error: %v", err))
		return 1
	}
	return 0
}
