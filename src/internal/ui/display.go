package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/VectorBits/crossleak/src/internal/report"
)

const (
	Reset  = "\033[0m"
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Blue   = "\033[34m"
	Purple = "\033[35m"
	Cyan   = "\033[36m"
	Gray   = "\033[37m"
	Bold   = "\033[1m"
)

var mu sync.Mutex

func PrintBanner() {
	banner := `
                         _            _    
  ___ _ __ ___  ___ ___| | ___  __ _| | __
 / __| '__/ _ \/ __/ __| |/ _ \/ _` + "`" + ` | |/ /
| (__| | | (_) \__ \__ \ |  __/ (_| |   < 
 \___|_|  \___/|___/___/_|\___|\__,_|_|\_\
`
	fmt.Println(Cyan + banner + Reset)
	fmt.Println(Gray + "  Cross-contract control leak detection for EVM dapps" + Reset)
	fmt.Println()
}

func clearLine() {
	fmt.Print("\r\033[K")
}

func UpdateStatus(format string, a ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	msg := fmt.Sprintf(format, a...)
	clearLine()
	if len(msg) > 100 {
		msg = msg[:97] + "..."
	}
	fmt.Print(Cyan + "⚡ " + msg + Reset)
}

func LogSuccess(format string, a ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	clearLine()
	fmt.Printf(Green+"[SUCCESS] "+Reset+format+"\n", a...)
}

// LogFinding prints a confirmed leak. It matches the orchestrator's
// OnFinding hook.
func LogFinding(f report.Finding) {
	mu.Lock()
	defer mu.Unlock()
	clearLine()
	fmt.Printf(Red+"[LEAK FOUND] "+Reset+"%s | %s.%s -> %s (%s)\n",
		f.Victim, f.TargetContract, f.TargetFunction, f.RelatedName, f.Kind)
}

func LogInfo(format string, a ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	clearLine()
	fmt.Printf(Blue+"[INFO] "+Reset+format+"\n", a...)
}

func LogError(format string, a ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	clearLine()
	fmt.Printf(Red+"[ERROR] "+Reset+format+"\n", a...)
}

func StartSpinner(msg string) chan bool {
	stop := make(chan bool)
	go func() {
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		for {
			select {
			case <-stop:
				return
			default:
				mu.Lock()
				clearLine()
				fmt.Printf(Cyan+"%s %s"+Reset, frames[i%len(frames)], msg)
				mu.Unlock()
				time.Sleep(100 * time.Millisecond)
				i++
			}
		}
	}()
	return stop
}

func StopSpinner(stop chan bool) {
	close(stop)
	mu.Lock()
	clearLine()
	mu.Unlock()
}

func PrintStats(s *report.Summary, duration time.Duration) {
	fmt.Println()
	fmt.Println(Gray + strings.Repeat("─", 50) + Reset)
	fmt.Printf("🏁 Analysis Completed in %s\n", duration.Round(time.Second))
	fmt.Printf("📊 Txs: %d | 🔁 Replayed: %d | ⏭  Skipped: %d | ❌ Errors: %d\n",
		s.TxSeen, s.TxReplayed, s.TxSkipped, s.Errors)
	fmt.Printf("🧪 Oracle checks: %d | 🛡️  Leaks Found: %d\n", s.OracleCalls, len(s.Findings))
	fmt.Println(Gray + strings.Repeat("─", 50) + Reset)
}
