package main

import (
	"fmt"
	"os"
	"strings"

	cli "github.com/spf13/pflag"

	"aegis/internal/ipc"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: aegis-ctl [flags] <command> [text]

Commands:
  speak <text>    queue text at normal priority
  say-now <text>  speak text before anything queued
  trigger         start a command capture (push-to-talk)
  retry           re-open voice input after a device failure
  status          print engine status
  stop            shut the daemon down

Flags:
`)
	cli.PrintDefaults()
}

func main() {
	socket := cli.StringP("socket", "s", ipc.DefaultSocketPath, "Control socket path")
	cli.Usage = usage
	cli.Parse()

	args := cli.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	msg := ipc.ControlMessage{Cmd: args[0], Text: strings.Join(args[1:], " ")}
	if (msg.Cmd == ipc.CmdSpeak || msg.Cmd == ipc.CmdSayNow) && msg.Text == "" {
		fmt.Fprintln(os.Stderr, msg.Cmd, "needs text")
		os.Exit(2)
	}

	reply, err := ipc.Send(*socket, msg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "aegis:", err)
		os.Exit(1)
	}

	switch {
	case reply.Status != nil:
		s := reply.Status
		fmt.Printf("phase:     %s\n", s.Phase)
		fmt.Printf("state:     %s\n", s.State)
		fmt.Printf("text only: %t\n", s.TextOnly)
		fmt.Printf("speaking:  %t\n", s.Speaking)
		fmt.Printf("pending:   %d\n", s.Pending)
	case reply.ID != "":
		fmt.Println(reply.ID)
	}
}
