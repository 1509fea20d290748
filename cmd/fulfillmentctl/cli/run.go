package cli

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/odyssey-erp/fulfillment/jobs"
)

// Ops is the job surface the command line drives.
type Ops interface {
	Trigger(ctx context.Context, name string, requestedBy int64) (string, error)
	InspectQueue(ctx context.Context, queue string) (QueueStats, error)
}

const usage = `usage:
  fulfillmentctl trigger [-by ACTOR_ID] replenishment
  fulfillmentctl queues
`

// Run executes one command and writes its result to out.
func Run(ctx context.Context, args []string, out io.Writer, ops Ops) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return fmt.Errorf("missing command")
	}
	switch args[0] {
	case "trigger":
		fs := flag.NewFlagSet("trigger", flag.ContinueOnError)
		fs.SetOutput(out)
		by := fs.Int64("by", 0, "actor id recorded on the run")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if fs.NArg() != 1 {
			fmt.Fprint(out, usage)
			return fmt.Errorf("trigger needs exactly one job name")
		}
		id, err := ops.Trigger(ctx, fs.Arg(0), *by)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "enqueued %s as %s\n", fs.Arg(0), id)
		return nil
	case "queues":
		for _, q := range []string{jobs.QueueNotify, jobs.QueueDefault} {
			stats, err := ops.InspectQueue(ctx, q)
			if err != nil {
				return fmt.Errorf("inspect %s: %w", q, err)
			}
			fmt.Fprintf(out, "%-8s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
				stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
		}
		return nil
	default:
		fmt.Fprint(out, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}
