// winprobe dumps what the switcher would see right now: the active window,
// the stacking order, and every known client with its filter-relevant
// attributes. Useful when a window shows up in the wrong group or not at all.
package main

import (
	"context"
	"fmt"
	"os"

	"quickswitch/internal/util"
	"quickswitch/pkg/integrations/x11"
	"quickswitch/pkg/system"
)

func main() {
	logger := util.NewLogger(util.LevelWarn)

	server := system.DetectDisplayServer()
	fmt.Printf("Display server: %s\n", server)
	if server != "x11" {
		fmt.Println("winprobe needs an X11 session")
		os.Exit(1)
	}

	client, err := x11.Connect(logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	ctx := context.Background()

	if id, pid, ok := client.ActiveWindow(ctx); ok {
		fmt.Printf("\nActive window: 0x%x (pid %d)\n", uint32(id), pid)
	} else {
		fmt.Println("\nActive window: none")
	}

	if order, ok := client.StackingOrder(ctx); ok {
		fmt.Printf("\nStacking order (topmost first):\n")
		for i, id := range order {
			fmt.Printf("  %2d. 0x%x\n", i, uint32(id))
		}
	}

	infos, err := client.AllWindows(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "enumerate: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nKnown clients (%d):\n", len(infos))
	for _, info := range infos {
		flags := ""
		if info.Hidden {
			flags += " hidden"
		}
		if info.Minimized {
			flags += " minimized"
		}
		if info.Shell {
			flags += " shell"
		}
		if info.OverrideRedirect {
			flags += " override-redirect"
		}
		if info.Opacity < 1 {
			flags += fmt.Sprintf(" opacity=%.2f", info.Opacity)
		}
		fmt.Printf("  0x%08x pid=%-6d %3dx%-4d %-20q %q%s\n",
			uint32(info.Window), info.Process, info.Width, info.Height,
			info.AppName, info.Title, flags)
	}
}
