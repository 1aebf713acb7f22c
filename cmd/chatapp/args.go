package main

import (
	"fmt"
	"net"
	"strconv"
)

const rootHelp = `ChatApp allows you to spin up a client and server for UDP based chatting.

Commands:
    -c      Starts client with required server information.
    -s      Starts server mode at specified port.

Usage:
    chatapp [flags] [options]

Use "chatapp <command> -h" for more information about a given command.`

const clientHelp = `Starts client with required server information.

Examples:
    # Connect to a server at 1.2.3.4:5000, listening on port 6000
    chatapp -c alice 1.2.3.4 5000 6000

Options:
    <name>: The unique client name to register.
    <server-ip>: The already running server IPv4 addr.
    <server-port>: The already running server port.
    <client-port>: The port of the listening client.`

const serverHelp = `Starts server mode at specified port.

Examples:
    # Start a server on port 5000
    chatapp -s 5000

    # Start a server on port 5000 with the status API on 8080
    chatapp -s 5000 8080

Options:
    <port>: The port to serve on UDP.
    [api-port]: Optional HTTP status API port.`

type serverOptions struct {
	Port    int
	APIPort int
}

type clientOptions struct {
	Name       string
	ServerIP   string
	ServerPort int
	ClientPort int
}

// validPort parses a port argument, accepting the unprivileged range
// 1024-65535 only.
func validPort(value string) (int, error) {
	port, err := strconv.Atoi(value)
	if err != nil || port < 1024 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q; must be within 1024-65535", value)
	}
	return port, nil
}

// validIPv4 checks the argument is a literal IPv4 address.
func validIPv4(value string) error {
	ip := net.ParseIP(value)
	if ip == nil || ip.To4() == nil {
		return fmt.Errorf("invalid address %q; use only IPv4 addressing", value)
	}
	return nil
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "-h" {
			return true
		}
	}
	return false
}

// parseServerArgs validates `-s <port> [api-port]`.
func parseServerArgs(args []string) (*serverOptions, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, fmt.Errorf("`-s` only accepts <port> [api-port]")
	}
	port, err := validPort(args[0])
	if err != nil {
		return nil, fmt.Errorf("invalid <port>: %w", err)
	}
	opts := &serverOptions{Port: port}
	if len(args) == 2 {
		apiPort, err := validPort(args[1])
		if err != nil {
			return nil, fmt.Errorf("invalid [api-port]: %w", err)
		}
		opts.APIPort = apiPort
	}
	return opts, nil
}

// parseClientArgs validates `-c <name> <server-ip> <server-port> <client-port>`.
func parseClientArgs(args []string) (*clientOptions, error) {
	if len(args) != 4 {
		return nil, fmt.Errorf("`-c` only accepts <name> <server-ip> <server-port> <client-port>")
	}
	name, serverIP := args[0], args[1]
	if err := validIPv4(serverIP); err != nil {
		return nil, fmt.Errorf("invalid <server-ip>: %w", err)
	}
	serverPort, err := validPort(args[2])
	if err != nil {
		return nil, fmt.Errorf("invalid <server-port>: %w", err)
	}
	clientPort, err := validPort(args[3])
	if err != nil {
		return nil, fmt.Errorf("invalid <client-port>: %w", err)
	}
	return &clientOptions{
		Name:       name,
		ServerIP:   serverIP,
		ServerPort: serverPort,
		ClientPort: clientPort,
	}, nil
}
