package main

import (
	"context"
	"fmt"

	"github.com/kletsmajoor/klets/pkg/config"
	"github.com/kletsmajoor/klets/pkg/pipeline"
)

// AskCmd runs a single turn without the HTTP server.
type AskCmd struct {
	Message string `arg:"" help:"The question to ask."`

	Session  string `help:"Continue an existing session."`
	NoMemory bool   `help:"Disable session memory for this turn."`
	Verbose  bool   `short:"v" help:"Print sources and triage details."`
}

func (c *AskCmd) Run(cli *CLI) error {
	cfg, err := config.LoadOrDefault(cli.Config)
	if err != nil {
		return err
	}

	ctx := context.Background()
	app, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	req := pipeline.Request{
		Message:   c.Message,
		SessionID: c.Session,
	}
	if c.NoMemory {
		useMemory := false
		req.UseMemory = &useMemory
	}

	resp, err := app.Orchestrator.Process(ctx, req)
	if err != nil {
		return fmt.Errorf("turn failed: %w", err)
	}

	fmt.Println(resp.MainAnswer)

	if c.Verbose {
		fmt.Printf("\n--\nsessie: %s\nexchange: %s\nroute: %s\nverwerkt in: %dms\n",
			resp.SessionID, resp.ExchangeID, resp.Triage.Route, resp.ProcessingTimeMS)
		for _, src := range resp.KnowledgeSources {
			fmt.Printf("bron: %s (%s, score %.2f)\n", src.Title, src.DocumentID, src.Score)
		}
	} else if resp.SessionID != "" {
		fmt.Printf("\n(sessie: %s)\n", resp.SessionID)
	}
	return nil
}
