// Command rover-drive sends motion commands to a running rover, one request
// per direction, in order.
//
//	rover-drive -host 192.168.4.1 up up left
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/teslashibe/go-rover/internal/config"
	"github.com/teslashibe/go-rover/internal/httpc"
	"github.com/teslashibe/go-rover/pkg/command"
)

func main() {
	host := flag.String("host", config.RoverHost("127.0.0.1"), "Rover host or host:port (or set ROVER_HOST env)")
	repeat := flag.Int("repeat", 1, "Send each direction this many times")
	gap := flag.Duration("gap", 50*time.Millisecond, "Pause between requests")
	timeout := flag.Duration("timeout", httpc.DefaultTimeout, "Per-request timeout")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: rover-drive [flags] up|down|left|right ...\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	var cmds []command.Command
	for _, arg := range flag.Args() {
		c, err := command.ParseDirection(arg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "❌ %v\n", err)
			os.Exit(2)
		}
		cmds = append(cmds, c)
	}

	client := httpc.NewClient(*timeout)
	ctx := context.Background()
	for _, c := range cmds {
		for i := 0; i < *repeat; i++ {
			url := config.CommandURL(*host, c.Direction())
			if _, err := httpc.Get(ctx, client, url); err != nil {
				fmt.Fprintf(os.Stderr, "❌ %s: %v\n", c, err)
				os.Exit(1)
			}
			fmt.Printf("➡️  %s\n", c)
			time.Sleep(*gap)
		}
	}
}
