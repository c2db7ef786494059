// Package catalog resolves the instrument universe: which feed topics the
// service subscribes to, and how each feeder id fans out into the asset
// aliases persisted downstream.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/sylvioazevedo/shooter-server/logger"
)

// ErrNoInstruments is returned when the metadata source yields an empty
// universe. Starting the service without instruments would subscribe to
// nothing and silently persist nothing, so the load fails loudly instead.
var ErrNoInstruments = errors.New("catalog: no instruments in metadata source")

// Instrument is one entry of the metadata collection. Multiplier, Type and
// Subtype are optional in the source data.
type Instrument struct {
	Name       string   `bson:"name"`
	FeederID   string   `bson:"feeder_id"`
	Type       string   `bson:"type,omitempty"`
	Subtype    string   `bson:"subtype,omitempty"`
	Multiplier *float64 `bson:"multiplier,omitempty"`
}

// Source yields the in-use instrument universe, typically from the metadata
// collection.
type Source interface {
	ListInstruments(ctx context.Context) ([]Instrument, error)
}

// Catalog is the loaded universe. Multiple instruments may share one feeder
// id; the topic is subscribed once and every alias gets its own persisted row.
// The catalog is built once at startup and read-only afterwards, so no lock
// guards it.
type Catalog struct {
	aliases map[string][]string // feeder id -> asset names
	feeders map[string]string   // asset name -> feeder id
	meta    map[string]Instrument
	topics  []string
	log     *logger.Log
}

// Load reads the full universe from the source. An empty result is an error.
func Load(ctx context.Context, src Source) (*Catalog, error) {
	instruments, err := src.ListInstruments(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: listing instruments: %w", err)
	}

	c := &Catalog{
		aliases: make(map[string][]string),
		feeders: make(map[string]string),
		meta:    make(map[string]Instrument),
		log:     logger.GetLogger(),
	}

	for _, inst := range instruments {
		if inst.FeederID == "" {
			continue
		}
		c.add(inst)
	}

	if len(c.topics) == 0 {
		return nil, ErrNoInstruments
	}

	c.log.WithComponent("catalog").WithFields(logger.Fields{
		"instruments": len(c.feeders),
		"topics":      len(c.topics),
	}).Info("instrument universe loaded")

	return c, nil
}

func (c *Catalog) add(inst Instrument) {
	c.meta[inst.FeederID] = inst

	names, seen := c.aliases[inst.FeederID]
	if !seen {
		c.topics = append(c.topics, inst.FeederID)
	}
	if !contains(names, inst.Name) {
		c.aliases[inst.FeederID] = append(names, inst.Name)
	}

	c.feeders[inst.Name] = inst.FeederID
}

// Topics returns the deduplicated feeder ids to subscribe, in first-seen
// order.
func (c *Catalog) Topics() []string {
	out := make([]string, len(c.topics))
	copy(out, c.topics)
	return out
}

// Aliases returns every asset name fed by the given feeder id. The returned
// slice is owned by the catalog and must not be mutated.
func (c *Catalog) Aliases(feederID string) []string {
	return c.aliases[feederID]
}

// FeederID resolves an asset name back to its feed topic.
func (c *Catalog) FeederID(name string) (string, bool) {
	id, ok := c.feeders[name]
	return id, ok
}

// Multiplier returns the contract multiplier for a feeder id, or nil when the
// instrument is unknown or carries none.
func (c *Catalog) Multiplier(feederID string) *float64 {
	inst, ok := c.meta[feederID]
	if !ok {
		return nil
	}
	return inst.Multiplier
}

// RiskMidTopics returns the feeder ids under risk-mid control: the DI futures
// of the universe.
func (c *Catalog) RiskMidTopics() []string {
	var out []string
	for _, topic := range c.topics {
		inst := c.meta[topic]
		if inst.Type == "future" && inst.Subtype == "di_fut" {
			out = append(out, topic)
		}
	}
	return out
}

// Instrument returns the metadata entry for a feeder id.
func (c *Catalog) Instrument(feederID string) (Instrument, bool) {
	inst, ok := c.meta[feederID]
	return inst, ok
}

// Names returns every asset name in the universe, grouped by feeder id in
// first-seen order.
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.feeders))
	for _, topic := range c.topics {
		out = append(out, c.aliases[topic]...)
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
