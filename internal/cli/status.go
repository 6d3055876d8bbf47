package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/cruciblehq/imgforge/internal/client"
)

// Represents the 'imgforge status' command.
type StatusCmd struct{}

// Executes the status command.
func (c *StatusCmd) Run(ctx context.Context) error {
	status, err := client.New(socketPath()).Status(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "version\t%s\n", status.Version)
	fmt.Fprintf(tw, "pid\t%d\n", status.Pid)
	fmt.Fprintf(tw, "uptime\t%s\n", status.Uptime)
	fmt.Fprintf(tw, "builds\t%d\n", status.Builds)
	fmt.Fprintf(tw, "failed\t%d\n", status.Failed)
	return tw.Flush()
}
