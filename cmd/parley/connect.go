package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/parley-chat/parley/pkg/client"
)

func connectCmd() *cobra.Command {
	var (
		addr  string
		name  string
		token string
	)

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Join a chat relay from the terminal",
		Long: `Connect to a relay and chat from the terminal.

Type to talk. Commands:
  !who    list who is online
  !exit   leave the chat

Examples:
  parley connect --name alice
  parley connect --addr chat.example.com:7465 --name alice --token <token>`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnect(addr, name, token)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", client.DefaultAddr, "Relay address")
	cmd.Flags().StringVarP(&name, "name", "n", "", "Display name (prompted when omitted)")
	cmd.Flags().StringVar(&token, "token", "", "Handshake token from /api/login")

	return cmd
}

func runConnect(addr, name, token string) error {
	if name == "" {
		fmt.Print("Enter your name: ")
		sc := bufio.NewScanner(os.Stdin)
		if !sc.Scan() {
			return errors.New("no name entered")
		}
		name = strings.TrimSpace(sc.Text())
	}

	// The terminal belongs to the conversation; keep log noise down.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	c, err := client.Dial(client.Config{
		Addr:   addr,
		Name:   name,
		Token:  token,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Connected to %s as %s. Type !exit to leave.\n", addr, name)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	fmt.Println("Goodbye.")
	return nil
}
