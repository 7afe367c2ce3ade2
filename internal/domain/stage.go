package domain

import (
	"fmt"
)

// MaxPipelineStages caps the number of stages a run may configure.
const MaxPipelineStages = 32

// Pipeline is the ordered list of stage names a run correlates trace
// arrivals against. It is immutable after construction and safe for
// concurrent reads.
type Pipeline struct {
	stages []string
	index  map[string]int
}

// NewPipeline builds a pipeline from an ordered stage list. Stage names
// must be unique; order defines both expected arrival order and the
// adjacent transitions that get latency stats.
func NewPipeline(stages []string) (*Pipeline, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("pipeline requires at least one stage")
	}
	if len(stages) > MaxPipelineStages {
		return nil, fmt.Errorf("pipeline exceeds %d stages", MaxPipelineStages)
	}

	index := make(map[string]int, len(stages))
	for i, s := range stages {
		if s == "" {
			return nil, fmt.Errorf("stage %d is empty", i)
		}
		if _, dup := index[s]; dup {
			return nil, fmt.Errorf("duplicate stage %q", s)
		}
		index[s] = i
	}

	owned := make([]string, len(stages))
	copy(owned, stages)

	return &Pipeline{stages: owned, index: index}, nil
}

// Stages returns a copy of the ordered stage list
func (p *Pipeline) Stages() []string {
	out := make([]string, len(p.stages))
	copy(out, p.stages)
	return out
}

// Len returns the number of stages
func (p *Pipeline) Len() int {
	return len(p.stages)
}

// IndexOf returns the position of a stage and whether it exists
func (p *Pipeline) IndexOf(stage string) (int, bool) {
	i, ok := p.index[stage]
	return i, ok
}

// Contains reports whether the stage is part of the pipeline
func (p *Pipeline) Contains(stage string) bool {
	_, ok := p.index[stage]
	return ok
}

// First returns the first stage name
func (p *Pipeline) First() string {
	return p.stages[0]
}

// Last returns the last stage name
func (p *Pipeline) Last() string {
	return p.stages[len(p.stages)-1]
}

// Stage returns the stage name at position i
func (p *Pipeline) Stage(i int) string {
	return p.stages[i]
}

// TransitionKeys returns the keys for each adjacent stage transition,
// in pipeline order. A single-stage pipeline has none.
func (p *Pipeline) TransitionKeys() []string {
	if len(p.stages) < 2 {
		return nil
	}
	keys := make([]string, 0, len(p.stages)-1)
	for i := 1; i < len(p.stages); i++ {
		keys = append(keys, TransitionKey(p.stages[i-1], p.stages[i]))
	}
	return keys
}

// TransitionKey builds the report key for a stage transition
func TransitionKey(from, to string) string {
	return from + "_" + to
}
