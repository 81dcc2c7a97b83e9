package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/omochice/chatwire/internal/client"
	"github.com/omochice/chatwire/internal/config"
	"github.com/omochice/chatwire/pkg/protocol"
)

func main() {
	cfg, err := config.Load("chatwire-client", os.Args[1:], os.Getenv)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := cfg.Logger(os.Stderr)

	if cfg.Username == "" {
		logger.Error("Username is required. Use -username flag")
		os.Exit(2)
	}

	c := client.New(client.Config{
		Address:    cfg.Address,
		Transport:  cfg.Transport,
		Username:   cfg.Username,
		Connection: cfg.Connection(logger),
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HandshakeTimeout)
	err = c.Connect(ctx)
	cancel()
	if err != nil {
		logger.Error("Failed to connect to server", "error", err)
		os.Exit(1)
	}
	defer c.Disconnect()

	logger.Info("Connected", "addr", cfg.Address, "username", cfg.Username)

	if err := c.Register(); err != nil {
		logger.Error("Failed to register", "error", err)
		os.Exit(1)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		display(c)
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			logger.Warn("Error reading input", "error", err)
		}
	}()

	fmt.Println("Type your messages (/map <layout> to share a map, /quit to exit):")
	for {
		select {
		case <-done:
			logger.Info("Connection closed by server")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !handleLine(c, strings.TrimSpace(line)) {
				return
			}
		}
	}
}

// handleLine sends one line of input. It returns false when the user quits.
func handleLine(c *client.Client, text string) bool {
	switch {
	case text == "":
		return true
	case text == "/quit" || text == "quit" || text == "exit":
		return false
	case strings.HasPrefix(text, "/map "):
		// Rows are separated by "|" on the command line
		layout := strings.ReplaceAll(strings.TrimPrefix(text, "/map "), "|", "\n")
		if err := c.SendMap(layout); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to send map: %v\n", err)
		}
	default:
		if err := c.SendMessage(text); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to send message: %v\n", err)
		}
	}
	return true
}

func display(c *client.Client) {
	names := make(map[string]string)
	for p := range c.Packets() {
		ts := time.Now().Format("15:04:05")
		switch p.Type {
		case protocol.PacketTypeMessage:
			fmt.Printf("%s [%s]: %s\n", ts, p.Field(0), p.Field(1))
		case protocol.PacketTypeWelcome:
			names[p.Field(0)] = p.Field(1)
			if p.Field(0) == c.ID() {
				fmt.Printf("*** registered as %s ***\n", p.Field(1))
			} else {
				fmt.Printf("*** %s joined the chat ***\n", p.Field(1))
			}
		case protocol.PacketTypeNameDenied:
			fmt.Printf("*** name %q is already taken ***\n", p.Field(0))
		case protocol.PacketTypeQuit:
			name, ok := names[p.Field(0)]
			if !ok {
				name = p.Field(0)
			}
			delete(names, p.Field(0))
			fmt.Printf("*** %s left the chat ***\n", name)
		case protocol.PacketTypeMap:
			fmt.Printf("*** map shared ***\n%s\n", p.Field(0))
		}
	}
}
