// Command nse-alerts watches the NSE corporate-announcement feed and
// forwards new announcements to the destinations named in a routing sheet.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"nse-alerts/internal/cli"
)

func main() {
	cmd := cli.NewRootCmd()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
