package report

import (
	"fmt"
	"sync"
	"time"
)

type Reporter struct {
	generator Generator
	storage   Storage
}

func NewReporter(generator Generator, storage Storage) *Reporter {
	return &Reporter{
		generator: generator,
		storage:   storage,
	}
}

func (r *Reporter) GenerateAndSave(summary *Summary) (string, error) {
	content, err := r.generator.Generate(summary)
	if err != nil {
		return "", fmt.Errorf("failed to generate report: %w", err)
	}

	path, err := r.storage.Save(summary, content)
	if err != nil {
		return "", fmt.Errorf("failed to save report: %w", err)
	}

	return path, nil
}

// Tally accumulates a Summary from concurrent workers.
type Tally struct {
	mu sync.Mutex
	s  Summary
}

func NewTally(target, network string) *Tally {
	return &Tally{s: Summary{
		Target:     target,
		Network:    network,
		StartTime:  time.Now(),
		Candidates: make(map[string]int),
		Findings:   make([]Finding, 0),
	}}
}

func (t *Tally) TxSeen()     { t.update(func(s *Summary) { s.TxSeen++ }) }
func (t *Tally) TxReplayed() { t.update(func(s *Summary) { s.TxReplayed++ }) }
func (t *Tally) TxSkipped()  { t.update(func(s *Summary) { s.TxSkipped++ }) }
func (t *Tally) Error()      { t.update(func(s *Summary) { s.Errors++ }) }

func (t *Tally) Candidate(kind string) {
	t.update(func(s *Summary) {
		s.Candidates[kind]++
		s.OracleCalls++
	})
}

func (t *Tally) Finding(f Finding) {
	t.update(func(s *Summary) { s.Findings = append(s.Findings, f) })
}

func (t *Tally) update(fn func(s *Summary)) {
	if t == nil {
		return
	}
	t.mu.Lock()
	fn(&t.s)
	t.mu.Unlock()
}

// Snapshot returns a copy stamped with the current time as end time.
func (t *Tally) Snapshot() *Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.s
	out.EndTime = time.Now()
	out.Candidates = make(map[string]int, len(t.s.Candidates))
	for k, v := range t.s.Candidates {
		out.Candidates[k] = v
	}
	out.Findings = append([]Finding(nil), t.s.Findings...)
	return &out
}
