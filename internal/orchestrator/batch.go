package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Counts tallies outcomes for one task kind.
type Counts struct {
	Succeeded int `yaml:"succeeded"`
	Failed    int `yaml:"failed"`
	Cancelled int `yaml:"cancelled"`
}

// Summary aggregates a batch.
type Summary struct {
	Total  int             `yaml:"total"`
	ByKind map[Kind]Counts `yaml:"by_kind"`
}

// Batch is the outcome of RunBatch. Results are in submission order.
type Batch struct {
	ID         string    `yaml:"id"`
	StartedAt  time.Time `yaml:"started_at"`
	FinishedAt time.Time `yaml:"finished_at"`
	Summary    Summary   `yaml:"summary"`
	Results    []Result  `yaml:"results"`
}

// RunBatch runs every task and returns one result per task. Tasks for the
// same account run one after another in submission order; different
// accounts run concurrently up to the configured ceiling. A failing task
// never stops the others.
func (o *Orchestrator) RunBatch(ctx context.Context, tasks []Task) Batch {
	b := Batch{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Results:   make([]Result, len(tasks)),
	}

	groups := make(map[string][]int)
	var order []string
	for i, t := range tasks {
		key := t.Account.Key()
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	var wg sync.WaitGroup
	for _, key := range order {
		wg.Add(1)
		go func(indexes []int) {
			defer wg.Done()
			for _, i := range indexes {
				task := tasks[i]
				if task.ID == "" {
					task.ID = fmt.Sprintf("%s-%d", b.ID[:8], i)
				}
				b.Results[i] = o.Run(ctx, task)
			}
		}(groups[key])
	}
	wg.Wait()

	b.FinishedAt = time.Now()
	b.Summary = Summarize(b.Results)
	log.Printf("📊 Batch %s finished: %d tasks in %s", b.ID, b.Summary.Total, b.FinishedAt.Sub(b.StartedAt).Round(time.Second))
	return b
}

// Summarize counts results per kind.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results), ByKind: make(map[Kind]Counts)}
	for _, r := range results {
		c := s.ByKind[r.Kind]
		switch r.State {
		case StateSucceeded:
			c.Succeeded++
		case StateCancelled:
			c.Cancelled++
		default:
			c.Failed++
		}
		s.ByKind[r.Kind] = c
	}
	return s
}

// BatchFile is the on-disk form of a batch.
type BatchFile struct {
	Tasks []Task `yaml:"tasks"`
}

// DecodeBatch reads a YAML batch file and checks every task before any of
// them runs.
func DecodeBatch(r io.Reader) ([]Task, error) {
	var f BatchFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	for i, t := range f.Tasks {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("task %d: %w", i+1, err)
		}
	}
	return f.Tasks, nil
}

// WriteReport exports a human-readable YAML report of the batch. Session
// artifacts are never included.
func WriteReport(w io.Writer, b Batch) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(b); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return enc.Close()
}
