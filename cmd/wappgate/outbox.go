package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/trueselph/wappgate/pkg/config"
	"github.com/trueselph/wappgate/pkg/outbox"
)

// runOutboxAdmin dispatches the outbox maintenance flags against the agent
// backend. Exactly one of exportPath, importPath or purgeJob is expected;
// when several are set they run in that order.
func runOutboxAdmin(ctx context.Context, cfg config.OutboxConfig, exportPath, importPath, purgeJob string, purgeFirst bool) {
	client, err := newOutboxClient(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	if exportPath != "" {
		out := io.Writer(os.Stdout)
		if exportPath != "-" {
			f, err := os.Create(exportPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "create export file: %v\n", err)
				os.Exit(1)
			}
			defer f.Close()
			out = f
		}
		if err := exportOutbox(ctx, client, out); err != nil {
			fmt.Fprintf(os.Stderr, "export outbox: %v\n", err)
			os.Exit(1)
		}
	}

	if importPath != "" {
		count, err := importOutbox(ctx, client, importPath, purgeFirst)
		if err != nil {
			fmt.Fprintf(os.Stderr, "import outbox: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("imported %d outbox items\n", count)
	}

	if purgeJob != "" {
		if err := client.Purge(ctx, purgeJob); err != nil {
			fmt.Fprintf(os.Stderr, "purge outbox: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("purged outbox items for job %s\n", purgeJob)
	}
}

func newOutboxClient(cfg config.OutboxConfig) (*outbox.Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("outbox.base_url is not configured")
	}
	return outbox.NewClient(cfg.BaseURL, cfg.Token), nil
}

func exportOutbox(ctx context.Context, client *outbox.Client, w io.Writer) error {
	items, err := client.Export(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(items)
}

func importOutbox(ctx context.Context, client *outbox.Client, path string, purgeFirst bool) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var items []outbox.Item
	if err := json.Unmarshal(data, &items); err != nil {
		return 0, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := client.Import(ctx, items, purgeFirst); err != nil {
		return 0, err
	}
	return len(items), nil
}
