// Package cmd provides the CLI for the cascade engine.
// This file implements the run command that drives the tick loop.
package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/adalundhe/cascade/core/engine"
	"github.com/adalundhe/cascade/core/events"
	"github.com/adalundhe/cascade/core/graph"
)

var (
	runConfigPath string
	runSeedPath   string
	runVerbose    bool
	runQuiet      bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the engine tick loop",
	Long: `Run loads a graph seed, starts the adaptive tick loop, and streams
engine events as JSON lines on stdout until interrupted.`,
	RunE: runEngine,
}

func init() {
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "", "YAML config file (defaults apply when omitted)")
	runCmd.Flags().StringVarP(&runSeedPath, "seed", "s", "", "JSON graph seed file")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "debug logging")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "suppress event output")
	rootCmd.AddCommand(runCmd)
}

func runEngine(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if runVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := engine.DefaultConfig()
	if runConfigPath != "" {
		var err error
		cfg, err = engine.LoadConfig(runConfigPath)
		if err != nil {
			return err
		}
	}

	g := graph.NewStore()
	if runSeedPath != "" {
		if err := loadSeed(g, runSeedPath); err != nil {
			return err
		}
	}
	logger.Info("graph loaded",
		slog.Int("nodes", g.NodeCount()),
		slog.Int("links", g.LinkCount()),
		slog.Int("entities", g.EntityCount()),
	)

	bus := events.NewBus(4096)
	if !runQuiet {
		enc := json.NewEncoder(os.Stdout)
		bus.Subscribe(events.SubscriberFunc{
			Name: "stdout-jsonl",
			Fn: func(ev events.Event) {
				if err := enc.Encode(ev); err != nil {
					logger.Warn("event encode failed", slog.String("error", err.Error()))
				}
			},
		})
	}
	bus.Subscribe(events.SubscriberFunc{
		Name:   "fault-log",
		Filter: []events.Kind{events.KindFault},
		Fn: func(ev events.Event) {
			logger.Error("fault event", slog.Uint64("tick", ev.Tick))
		},
	})
	bus.Start()
	defer bus.Close()

	eng, err := engine.New(g, cfg, bus, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("engine starting")
	if err := eng.Run(ctx); err != nil {
		return fmt.Errorf("engine halted: %w", err)
	}
	logger.Info("engine stopped", slog.Uint64("tick", eng.Tick()))
	return nil
}

// seedFile is the JSON shape of a graph seed.
type seedFile struct {
	Nodes []struct {
		ID        string    `json:"id"`
		Class     string    `json:"class"`
		Energy    float64   `json:"energy"`
		Weight    float64   `json:"weight"`
		Threshold float64   `json:"threshold"`
		Embedding []float32 `json:"embedding,omitempty"`
	} `json:"nodes"`
	Links []struct {
		Source string  `json:"source"`
		Target string  `json:"target"`
		Type   string  `json:"type"`
		Weight float64 `json:"weight"`
	} `json:"links"`
	Entities []struct {
		ID       string    `json:"id"`
		Name     string    `json:"name"`
		Kind     string    `json:"kind"`
		Centroid []float32 `json:"centroid,omitempty"`
	} `json:"entities"`
	Memberships []struct {
		NodeID   string  `json:"node_id"`
		EntityID string  `json:"entity_id"`
		Weight   float64 `json:"weight"`
	} `json:"memberships"`
}

func loadSeed(g *graph.Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed %s: %w", path, err)
	}
	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse seed %s: %w", path, err)
	}

	for _, n := range seed.Nodes {
		class, err := graph.ParseNodeClass(n.Class)
		if err != nil {
			return fmt.Errorf("seed node %s: %w", n.ID, err)
		}
		if err := g.AddNode(&graph.Node{
			ID:         n.ID,
			Class:      class,
			Energy:     n.Energy,
			BaseWeight: n.Weight,
			Threshold:  n.Threshold,
			Embedding:  n.Embedding,
		}); err != nil {
			return fmt.Errorf("seed node %s: %w", n.ID, err)
		}
	}
	for _, l := range seed.Links {
		linkType, err := graph.ParseLinkType(l.Type)
		if err != nil {
			return fmt.Errorf("seed link %s->%s: %w", l.Source, l.Target, err)
		}
		if err := g.AddLink(&graph.Link{
			Source: l.Source,
			Target: l.Target,
			Type:   linkType,
			Weight: l.Weight,
		}); err != nil {
			return fmt.Errorf("seed link %s->%s: %w", l.Source, l.Target, err)
		}
	}
	for _, e := range seed.Entities {
		kind, err := graph.ParseEntityKind(e.Kind)
		if err != nil {
			return fmt.Errorf("seed entity %s: %w", e.ID, err)
		}
		if err := g.AddEntity(&graph.Entity{
			ID:       e.ID,
			Name:     e.Name,
			Kind:     kind,
			Centroid: e.Centroid,
			State:    graph.StateCandidate,
		}); err != nil {
			return fmt.Errorf("seed entity %s: %w", e.ID, err)
		}
	}
	for _, m := range seed.Memberships {
		if err := g.SetMembership(m.NodeID, m.EntityID, m.Weight); err != nil {
			return fmt.Errorf("seed membership %s/%s: %w", m.NodeID, m.EntityID, err)
		}
	}
	return nil
}
