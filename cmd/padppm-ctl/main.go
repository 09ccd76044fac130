package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"time"
)

// ============================================================================
// padppm-ctl - Command-line IPC Client
// ============================================================================
// Queries or stops a running padppm daemon over its Unix socket.
//
// Usage:
//   padppm-ctl status
//   padppm-ctl status --json
//   padppm-ctl quit
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/padppm.sock)
// ============================================================================

const requestTimeout = 2 * time.Second

// IPC types (duplicated from main package for standalone binary)
type IPCRequest struct {
	Type string `json:"type"`
}

type ChannelStatus struct {
	Channel  int     `json:"channel"`
	Name     string  `json:"name,omitempty"`
	Assigned bool    `json:"assigned"`
	Active   bool    `json:"active"`
	Raw      *int32  `json:"raw,omitempty"`
	Percent  float64 `json:"percent"`
}

type Status struct {
	At       time.Time       `json:"at"`
	Frames   uint64          `json:"frames"`
	Device   bool            `json:"device_available"`
	Channels []ChannelStatus `json:"channels"`
}

type IPCResponse struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

func main() {
	socketPath := "/tmp/padppm.sock"

	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "-socket" || args[0] == "--socket" {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "status", "st":
		resp, err := request(socketPath, "status")
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		if len(args) > 1 && args[1] == "--json" {
			fmt.Printf("%s\n", resp.Data)
			return
		}
		var st Status
		if err := json.Unmarshal(resp.Data, &st); err != nil {
			fmt.Fprintf(os.Stderr, "error: decode status: %v\n", err)
			os.Exit(1)
		}
		printStatus(st)

	case "quit", "stop":
		if _, err := request(socketPath, "quit"); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("ok")

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "error: unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func request(socketPath, typ string) (IPCResponse, error) {
	conn, err := net.DialTimeout("unix", socketPath, requestTimeout)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(requestTimeout))

	data, err := json.Marshal(IPCRequest{Type: typ})
	if err != nil {
		return IPCResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	// Line-delimited JSON
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return IPCResponse{}, fmt.Errorf("send request: %w", err)
	}

	var response IPCResponse
	if err := json.NewDecoder(conn).Decode(&response); err != nil {
		return IPCResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if response.Status == "error" {
		return response, fmt.Errorf("daemon error: %s", response.Error)
	}
	return response, nil
}

func printStatus(st Status) {
	device := "connected"
	if !st.Device {
		device = "unavailable (holding last frame)"
	}
	fmt.Printf("device:  %s\n", device)
	fmt.Printf("frames:  %d\n", st.Frames)
	fmt.Printf("updated: %s\n", st.At.Local().Format(time.RFC3339))
	fmt.Println()

	for _, ch := range st.Channels {
		if !ch.Assigned {
			fmt.Printf("  CH%d  %-20s\n", ch.Channel, "-")
			continue
		}
		raw := "-"
		if ch.Raw != nil {
			raw = fmt.Sprintf("%d", *ch.Raw)
		}
		state := " "
		if ch.Active {
			state = "*"
		}
		fmt.Printf("  CH%d %s%-20s %7s  %s %3.0f%%\n",
			ch.Channel, state, ch.Name, raw, bar(ch.Percent, 20), ch.Percent*100)
	}
}

func bar(p float64, width int) string {
	n := int(p*float64(width) + 0.5)
	n = min(max(n, 0), width)
	return "[" + strings.Repeat("#", n) + strings.Repeat(".", width-n) + "]"
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `padppm-ctl - Query or stop a running padppm daemon via IPC

Usage:
  padppm-ctl [options] <command> [args]

Options:
  -socket PATH    Unix domain socket path (default: /tmp/padppm.sock)

Commands:
  status, st [--json]     Show device state and every channel's value
  quit, stop              Stop the daemon (same as pressing the exit input)
  help, -h, --help        Show this help message

Examples:
  padppm-ctl status
  padppm-ctl -socket /run/padppm.sock quit
`)
}
