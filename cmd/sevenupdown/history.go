package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/lox/sevenupdown/internal/config"
	"github.com/lox/sevenupdown/internal/history"
)

// HistoryCmd prints recent outcomes, or every settlement of one round.
type HistoryCmd struct {
	Round string `arg:"" optional:"" help:"Round id to print settlements for"`
	Lobby string `help:"Only outcomes from this lobby"`
	Limit int    `default:"10" help:"Number of outcomes to print"`
}

func (c *HistoryCmd) Run(g *Globals) error {
	cfg, logger, err := g.load()
	if err != nil {
		return err
	}
	if cfg.History.Driver == config.DriverMemory {
		return errors.New("the memory history driver keeps nothing between runs; configure sqlite or postgres")
	}

	ctx := context.Background()
	store, err := openHistory(ctx, cfg.History, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	return c.print(ctx, store, os.Stdout)
}

func (c *HistoryCmd) print(ctx context.Context, store history.Store, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if c.Round == "" {
		recent, err := store.QueryRecentOutcomes(ctx, c.Lobby, c.Limit)
		if err != nil {
			return err
		}
		return enc.Encode(recent)
	}

	reader, ok := store.(history.SettlementReader)
	if !ok {
		return fmt.Errorf("history store %T cannot list settlements", store)
	}
	settlements, err := reader.RoundSettlements(ctx, c.Round)
	if err != nil {
		return err
	}
	return enc.Encode(settlements)
}
