package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"scout.app/research/common/llm"
	"scout.app/research/core/config"
	"scout.app/research/internal/firecrawl"
	"scout.app/research/internal/research"
)

func main() {
	ctx := context.Background()

	// Load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	reasoningClient, err := llm.New(llm.Config{
		Provider:             cfg.Reasoning.Provider,
		APIKey:               cfg.Reasoning.APIKey,
		BaseURL:              cfg.Reasoning.BaseURL,
		Model:                cfg.Reasoning.Model,
		BypassJSONValidation: cfg.Reasoning.BypassJSONValidation,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create reasoning client: %v\n", err)
		os.Exit(1)
	}

	crawler := firecrawl.New(firecrawl.Config{
		APIKey:  cfg.Firecrawl.APIKey,
		BaseURL: cfg.Firecrawl.BaseURL,
	})

	engine := research.NewEngine(research.Clients{
		Search:      crawler,
		Extract:     crawler,
		Planner:     research.NewPlanner(reasoningClient),
		Synthesizer: research.NewSynthesizer(reasoningClient, cfg.Reasoning.MaxTokens),
	}, research.Options{
		MaxFailedAttempts: cfg.Research.MaxFailedAttempts,
	})

	fmt.Fprintf(os.Stderr, "Research CLI ready (model=%s, max_depth=%d, time_limit=%s)\n",
		cfg.Reasoning.Model, cfg.Research.MaxDepth, cfg.Research.TimeLimit)
	fmt.Fprintln(os.Stderr, "Enter your research topic (or 'quit' to exit):")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		topic := strings.TrimSpace(scanner.Text())
		if topic == "" {
			continue
		}
		if topic == "quit" || topic == "exit" || topic == "q" {
			break
		}

		fmt.Fprintf(os.Stderr, "\nResearching: %s\n", topic)
		fmt.Fprintln(os.Stderr, "---")

		result := engine.Run(ctx, research.Request{
			Topic:     topic,
			MaxDepth:  cfg.Research.MaxDepth,
			TimeLimit: cfg.Research.TimeLimit,
		}, research.SinkFunc(printEvent))

		if !result.Success {
			fmt.Fprintf(os.Stderr, "Research failed: %s (%d findings gathered)\n", result.Error, len(result.Findings))
			continue
		}

		fmt.Println()
		fmt.Println(result.Analysis)
		fmt.Println()
	}

	fmt.Fprintln(os.Stderr, "Goodbye!")
}

func printEvent(e research.Event) error {
	switch ev := e.(type) {
	case research.ProgressInit:
		fmt.Fprintf(os.Stderr, "[plan] max depth %d, %d expected steps\n", ev.MaxDepth, ev.TotalSteps)
	case research.DepthDelta:
		fmt.Fprintf(os.Stderr, "[depth %d/%d]\n", ev.Current, ev.Max)
	case research.ActivityDelta:
		fmt.Fprintf(os.Stderr, "  %-9s %-8s %s\n", ev.Type, ev.Status, ev.Message)
	case research.SourceDelta:
		fmt.Fprintf(os.Stderr, "  source    %s\n", ev.URL)
	case research.Finish:
		fmt.Fprintln(os.Stderr, "---")
	}
	return nil
}
