package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chatnet/chatapp/pkg/api"
	"github.com/chatnet/chatapp/pkg/network"
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, rootHelp)
		os.Exit(1)
	}

	mode, rest := args[0], args[1:]
	switch mode {
	case "-h":
		fmt.Println(rootHelp)

	case "-s":
		if hasHelpFlag(rest) {
			fmt.Println(serverHelp)
			return
		}
		opts, err := parseServerArgs(rest)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Invalid arg:", err)
			os.Exit(1)
		}
		if err := runServer(opts); err != nil {
			log.Fatalf("Server error: %v", err)
		}

	case "-c":
		if hasHelpFlag(rest) {
			fmt.Println(clientHelp)
			return
		}
		opts, err := parseClientArgs(rest)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Invalid arg:", err)
			os.Exit(1)
		}
		if err := runClient(opts); err != nil {
			log.Fatalf("Client error: %v", err)
		}

	default:
		fmt.Fprintf(os.Stderr, "Invalid arg: %s is not a valid mode\n", mode)
		os.Exit(1)
	}
}

func runServer(opts *serverOptions) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	core := network.NewServer(network.DefaultServerConfig(opts.Port))

	if opts.APIPort > 0 {
		apiServer := api.NewServer(core, api.DefaultConfig(opts.APIPort))
		if err := apiServer.Start(); err != nil {
			return err
		}
		log.Printf("✓ Status API on port %d", opts.APIPort)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = apiServer.Shutdown(shutdownCtx)
		}()
	}

	return core.Run(ctx)
}

func runClient(opts *clientOptions) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := network.NewClient(network.ClientConfig{
		Name:       opts.Name,
		ServerIP:   opts.ServerIP,
		ServerPort: opts.ServerPort,
		ClientPort: opts.ClientPort,
	})
	return client.Run(ctx, os.Stdin)
}
