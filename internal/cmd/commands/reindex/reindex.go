// Package reindex implements the one-shot embedding backfill command,
// for operators recovering from an embedding backend outage.
package reindex

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

	flagConfig    string
	flagBatchSize int
}

func (c *Command) Synopsis() string {
	return "Backfill missing chunk embeddings"
}

func (c *Command) Help() string {
	return `Usage: quarryd reindex -config=config.hcl [-batch-size=100]

  Recompute embeddings for chunks that were ingested while the embedding
  backend was unavailable, and refresh their search index entries. Runs
  until no flagged chunks remain, then exits.
`
}

func (c *Command) flags() *flag.FlagSet {
	f := flag.NewFlagSet("reindex", flag.ContinueOnError)
	f.StringVar(&c.flagConfig, "config", "", "Path to the HCL configuration file")
	f.IntVar(&c.flagBatchSize, "batch-size", 100, "Chunks per backfill batch")
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
	defer srv.Close()

	total := 0
	for {
		backfilled, err := srv.Pipeline.ReindexPending(ctx, c.flagBatchSize)
		total += backfilled
		if err != nil {
			c.UI.Error(fmt.Sprintf("backfill stopped after %d chunks: %v", total, err))
			return 1
		}
		if backfilled < c.flagBatchSize {
			break
		}
	}

	c.UI.Output(fmt.Sprintf("backfilled %d chunks", total))
	return 0
}
