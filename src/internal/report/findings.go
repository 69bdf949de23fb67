package report

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Finding is one confirmed control leak, serialized as a JSON line.
type Finding struct {
	Victim         string `json:"victim"`
	VictimTxHash   string `json:"victim_tx_hash"`
	VictimFunction string `json:"victim_function"`
	// Kind is the candidate kind: origin, payable, random or without_input.
	Kind             string    `json:"kind"`
	Dapp             string    `json:"dapp,omitempty"`
	TargetContract   string    `json:"target_contract"`
	TargetFunction   string    `json:"target_function"`
	TargetTxHash     string    `json:"target_tx_hash,omitempty"`
	RelatedSignature string    `json:"related_signature"`
	RelatedName      string    `json:"related_name"`
	Input            string    `json:"input"`
	Value            string    `json:"value"`
	Arguments        []string  `json:"arguments,omitempty"`
	OracleArgs       []string  `json:"oracle_args"`
	FoundAt          time.Time `json:"found_at"`
}

// FindingsLog appends findings to <root>/verify/<victim>/<victim>_findings.jsonl.
// Writers to the same file are serialized; lines are never rewritten.
type FindingsLog struct {
	Root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewFindingsLog(root string) *FindingsLog {
	return &FindingsLog{Root: root, locks: make(map[string]*sync.Mutex)}
}

func (l *FindingsLog) Path(victim string) string {
	victim = strings.ToLower(victim)
	return filepath.Join(l.Root, "verify", victim, victim+"_findings.jsonl")
}

func (l *FindingsLog) Append(f Finding) error {
	if f.FoundAt.IsZero() {
		f.FoundAt = time.Now().UTC()
	}
	line, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode finding: %w", err)
	}
	path := l.Path(f.Victim)
	return appendLine(l.lock(path), path, line)
}

// Read returns every finding recorded for victim, oldest first.
func (l *FindingsLog) Read(victim string) ([]Finding, error) {
	file, err := os.Open(l.Path(victim))
	if errors.Is(err, os.ErrNotExist) {
		return []Finding{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	out := make([]Finding, 0)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var f Finding
		if err := json.Unmarshal([]byte(line), &f); err != nil {
			return nil, fmt.Errorf("corrupt findings line in %s: %w", l.Path(victim), err)
		}
		out = append(out, f)
	}
	return out, scanner.Err()
}

func (l *FindingsLog) lock(path string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[path]
	if !ok {
		m = &sync.Mutex{}
		l.locks[path] = m
	}
	return m
}

func appendLine(mu *sync.Mutex, path string, line []byte) error {
	mu.Lock()
	defer mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	buf := make([]byte, 0, len(line)+1)
	buf = append(append(buf, line...), '\n')
	if _, err := file.Write(buf); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
