package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// Lets padppm-ctl (or a script) query and stop a running daemon.
//
// Protocol: line-delimited JSON
//   - Client sends: {"type": "status"} or {"type": "quit"}
//   - Server responds: {"status": "ok", "data": {...}} or
//     {"status": "error", "error": "msg"}
// ============================================================================

const (
	ipcTypeStatus = "status"
	ipcTypeQuit   = "quit"
)

// IPCRequest is one client command.
type IPCRequest struct {
	Type string `json:"type"`
}

// IPCResponse is sent back for every request line.
type IPCResponse struct {
	Status string  `json:"status"`          // "ok" or "error"
	Error  string  `json:"error,omitempty"` // set when status == "error"
	Data   *Status `json:"data,omitempty"`
}

// IPCHandlers are the daemon operations exposed over IPC. Both must be safe
// to call from any goroutine.
type IPCHandlers struct {
	Status func() Status
	Quit   func()
}

// runIPCServer serves socketPath until ctx is canceled.
func runIPCServer(ctx context.Context, socketPath string, h IPCHandlers, logger *slog.Logger) error {
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	if err := os.Chmod(socketPath, 0o660); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	// Closing the listener unblocks Accept().
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				logger.Debug("IPC listener closed")
				return nil
			}
			logger.Error("IPC accept error", "error", err)
			continue
		}
		go handleIPCConnection(ctx, conn, h, logger)
	}
}

func handleIPCConnection(ctx context.Context, conn net.Conn, h IPCHandlers, logger *slog.Logger) {
	defer conn.Close()

	// Do not let an idle client pin the goroutine past shutdown.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		logger.Debug("IPC received", "line", line)

		resp := dispatchIPC(line, h)
		if err := encoder.Encode(resp); err != nil {
			logger.Error("IPC failed to send response", "error", err)
			return
		}
	}
}

func dispatchIPC(line string, h IPCHandlers) IPCResponse {
	var req IPCRequest
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		return IPCResponse{Status: "error", Error: fmt.Sprintf("parse request: %v", err)}
	}

	switch req.Type {
	case ipcTypeStatus:
		if h.Status == nil {
			return IPCResponse{Status: "error", Error: "status not available"}
		}
		st := h.Status()
		return IPCResponse{Status: "ok", Data: &st}

	case ipcTypeQuit:
		if h.Quit == nil {
			return IPCResponse{Status: "error", Error: "quit not available"}
		}
		h.Quit()
		return IPCResponse{Status: "ok"}

	default:
		return IPCResponse{Status: "error", Error: fmt.Sprintf("unknown request type %q", req.Type)}
	}
}

// SendIPCRequest sends one request and returns the daemon's response.
func SendIPCRequest(socketPath, typ string, timeout time.Duration) (IPCResponse, error) {
	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	data, err := json.Marshal(IPCRequest{Type: typ})
	if err != nil {
		return IPCResponse{}, fmt.Errorf("marshal request: %w", err)
	}
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return IPCResponse{}, fmt.Errorf("send request: %w", err)
	}

	var resp IPCResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return IPCResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != "ok" {
		return resp, fmt.Errorf("ipc error: %s", resp.Error)
	}
	return resp, nil
}
