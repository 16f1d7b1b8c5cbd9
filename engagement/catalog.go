package engagement

import "sort"

// Catalog is the validated stage state machine. It is built once at boot from
// a Config and never mutated afterwards.
type Catalog struct {
	stages  map[Stage]StageConfig
	ordered []Stage
}

// Edge reports how a stage pair is connected.
type Edge struct {
	Forward  bool
	Backward bool
}

// NewCatalog validates the stage section of cfg and builds the lookup.
func NewCatalog(cfg Config) (*Catalog, error) {
	if len(cfg.Stages) == 0 {
		return nil, configErrorf("no stages declared")
	}

	stages := make(map[Stage]StageConfig, len(cfg.Stages))
	byOrder := make(map[int]Stage, len(cfg.Stages))
	for _, sc := range cfg.Stages {
		if sc.Name == "" {
			return nil, configErrorf("stage with empty name")
		}
		if _, dup := stages[sc.Name]; dup {
			return nil, configErrorf("duplicate stage %q", sc.Name)
		}
		if prev, dup := byOrder[sc.Order]; dup {
			return nil, configErrorf("stages %q and %q share order %d", prev, sc.Name, sc.Order)
		}
		if sc.Entry != "" && sc.Entry != EntryDefault && sc.Entry != EntryPartnerOnly {
			return nil, configErrorf("stage %q has unknown entry policy %q", sc.Name, sc.Entry)
		}
		stages[sc.Name] = sc
		byOrder[sc.Order] = sc.Name
	}

	for _, sc := range cfg.Stages {
		for _, to := range sc.Forward {
			dest, ok := stages[to]
			if !ok {
				return nil, configErrorf("stage %q declares forward edge to unknown stage %q", sc.Name, to)
			}
			if dest.Order <= sc.Order {
				return nil, configErrorf("forward edge %q -> %q does not advance the order", sc.Name, to)
			}
		}
		for _, to := range sc.Backward {
			dest, ok := stages[to]
			if !ok {
				return nil, configErrorf("stage %q declares backward edge to unknown stage %q", sc.Name, to)
			}
			if dest.Order >= sc.Order {
				return nil, configErrorf("backward edge %q -> %q does not retreat the order", sc.Name, to)
			}
		}
		if sc.Terminal && len(sc.Backward) > 0 {
			return nil, configErrorf("terminal stage %q declares backward edges", sc.Name)
		}
		for _, gate := range sc.Gates {
			if !knownGate(gate) {
				return nil, configErrorf("stage %q references unknown gate %q", sc.Name, gate)
			}
		}
	}

	ordered := make([]Stage, 0, len(cfg.Stages))
	for _, sc := range cfg.Stages {
		ordered = append(ordered, sc.Name)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return stages[ordered[i]].Order < stages[ordered[j]].Order
	})

	return &Catalog{stages: stages, ordered: ordered}, nil
}

// Definition returns the declaration for a stage.
func (c *Catalog) Definition(stage Stage) (StageConfig, bool) {
	sc, ok := c.stages[stage]
	return sc, ok
}

// Label returns the display label for a stage, or the raw name when the
// stage is unknown or unlabeled.
func (c *Catalog) Label(stage Stage) string {
	if sc, ok := c.stages[stage]; ok && sc.Label != "" {
		return sc.Label
	}
	return string(stage)
}

// Order returns the position of a stage in the total order.
func (c *Catalog) Order(stage Stage) (int, bool) {
	sc, ok := c.stages[stage]
	return sc.Order, ok
}

// Stages returns all stage names in lifecycle order.
func (c *Catalog) Stages() []Stage {
	out := make([]Stage, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// Initial returns the stage new engagements start in.
func (c *Catalog) Initial() Stage {
	return c.ordered[0]
}

// LegalEdge reports whether from -> to is a declared edge and in which
// direction. The second return is false when no edge exists.
func (c *Catalog) LegalEdge(from, to Stage) (Edge, bool) {
	sc, ok := c.stages[from]
	if !ok {
		return Edge{}, false
	}
	var edge Edge
	for _, s := range sc.Forward {
		if s == to {
			edge.Forward = true
		}
	}
	for _, s := range sc.Backward {
		if s == to {
			edge.Backward = true
		}
	}
	return edge, edge.Forward || edge.Backward
}
