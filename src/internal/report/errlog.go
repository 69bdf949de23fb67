package report

import (
	"path/filepath"
	"strings"
	"sync"
)

// ErrorLog keeps per-(origin, address) failure notes under
// <root>/err_info/<origin>/err_<address>.txt.
type ErrorLog struct {
	Root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewErrorLog(root string) *ErrorLog {
	return &ErrorLog{Root: root, locks: make(map[string]*sync.Mutex)}
}

func (l *ErrorLog) Path(origin, address string) string {
	return filepath.Join(l.Root, "err_info", strings.ToLower(origin), "err_"+strings.ToLower(address)+".txt")
}

// Record appends msg as one line. An empty message is written as "None".
func (l *ErrorLog) Record(origin, address, msg string) error {
	msg = strings.TrimRight(msg, "\n")
	if msg == "" {
		msg = "None"
	}
	path := l.Path(origin, address)

	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[path]
	if !ok {
		m = &sync.Mutex{}
		l.locks[path] = m
	}
	l.mu.Unlock()

	return appendLine(m, path, []byte(msg))
}
