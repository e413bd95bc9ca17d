package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/nugget/charmbot/internal/agent"
	"github.com/nugget/charmbot/internal/session"
)

// runAsk answers a single customer message and prints the reply. With
// -o json it prints the full turn result including the scratchpad.
func runAsk(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt, message string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	res := a.loop.Run(ctx, nil, message)
	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintln(stdout, res.Reply)
	if res.Outcome != agent.OutcomeResponded {
		fmt.Fprintf(stderr, "turn ended with %s: %v\n", res.Outcome, res.Cause)
	}
	return nil
}

// runChat holds a conversation on the terminal until EOF or "exit".
func runChat(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, configPath string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	sessions := session.NewManager(a.loop, logger)
	id := sessions.Create()

	fmt.Fprintln(stdout, "Charmbot: Hi! How can I help you with your order today?")
	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(stdout, "You: ")
		if !scanner.Scan() {
			fmt.Fprintln(stdout)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit", "bye":
			fmt.Fprintln(stdout, "Charmbot: Thanks for reaching out. Goodbye!")
			return nil
		}

		reply, err := sessions.Turn(ctx, id, line)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Charmbot: %s\n", reply.Reply)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
