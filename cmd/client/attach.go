package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cbodonnell/sessionkeeper/pkg/messages"
	"github.com/cbodonnell/sessionkeeper/pkg/network"
	"github.com/spf13/cobra"
)

func newAttachCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Attach to a running runtime as a text presentation layer",
		Long:  "attach connects to serve, sends Ready and prints every message it receives as \"Target.Method payload\". Each line typed on stdin is sent as a command of the form \"Method payload\".",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = fmt.Sprintf("ws://localhost:%d/", a.cfg.Client.WSPort)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runAttach(ctx, cmd, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "WebSocket address of the runtime")
	return cmd
}

func runAttach(ctx context.Context, cmd *cobra.Command, addr string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := network.NewWSClient(addr)
	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Close()

	out := cmd.OutOrStdout()
	done := make(chan error, 1)
	go func() {
		done <- c.HandleMessages(ctx, func(msg *messages.Message) {
			fmt.Fprintf(out, "%s.%s %s\n", msg.Target, msg.Method, msg.Payload)
		})
	}()

	if err := c.SendMessage(ctx, &messages.Message{Method: messages.CommandReady}); err != nil {
		return err
	}

	go func() {
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			msg, ok := parseCommandLine(scanner.Text())
			if !ok {
				continue
			}
			if err := c.SendMessage(ctx, msg); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "send failed: %v\n", err)
				cancel()
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-done:
		return err
	}
}

// parseCommandLine splits "Method payload" at the first space.
func parseCommandLine(line string) (*messages.Message, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, false
	}
	method, payload, _ := strings.Cut(line, " ")
	return &messages.Message{Method: method, Payload: strings.TrimSpace(payload)}, true
}
