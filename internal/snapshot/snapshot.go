// Package snapshot assembles the coherent full-state frame (C3) that
// the state bridge broadcasts to every connected WebSocket client. It
// is a thin, read-only wrapper over internal/store: it never alters
// store contents and holds no state of its own beyond the store
// handle it was constructed with.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/devswarm/devswarm/internal/model"
	"github.com/devswarm/devswarm/internal/store"
)

// Frame is the wire shape of a STATE_UPDATE message. Agents is keyed
// by id per the wire contract; Messages and Tasks are omitted (nil,
// which encoding/json renders absent via omitempty) when empty.
type Frame struct {
	Type     string                  `json:"type"`
	Agents   map[string]*model.Agent `json:"agents"`
	Messages []*model.Message        `json:"messages,omitempty"`
	Tasks    []*model.Task           `json:"tasks,omitempty"`
	Version  int64                   `json:"version"`
}

// TypeStateUpdate is the frame's "type" discriminator.
const TypeStateUpdate = "STATE_UPDATE"

// Assembler builds Frames from a store. The zero value is not usable;
// construct with New.
type Assembler struct {
	store *store.Store
	// messagesLimit bounds how many recent messages a snapshot
	// includes; 0 defers to store.DefaultSnapshotMessagesLimit.
	messagesLimit int
}

// New creates an Assembler reading from s. messagesLimit of 0 uses the
// store's default.
func New(s *store.Store, messagesLimit int) *Assembler {
	return &Assembler{store: s, messagesLimit: messagesLimit}
}

// Build reads the current full state and returns both the Frame value
// and its JSON encoding, ready to hand to the hub.
func (a *Assembler) Build(ctx context.Context) (*Frame, []byte, error) {
	full, err := a.store.GetFullState(ctx, a.messagesLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot: build: %w", err)
	}

	agentsByID := make(map[string]*model.Agent, len(full.Agents))
	for _, ag := range full.Agents {
		agentsByID[ag.ID] = ag
	}

	frame := &Frame{
		Type:     TypeStateUpdate,
		Agents:   agentsByID,
		Messages: full.Messages,
		Tasks:    full.Tasks,
		Version:  full.Version,
	}

	raw, err := json.Marshal(frame)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot: marshal: %w", err)
	}
	return frame, raw, nil
}

// Version returns the store's current version without assembling a
// full frame, used by the bridge to decide whether a snapshot is
// needed before paying the cost of Build.
func (a *Assembler) Version(ctx context.Context) (int64, error) {
	v, err := a.store.CurrentVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("snapshot: version: %w", err)
	}
	return v, nil
}
