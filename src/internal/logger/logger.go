package logger

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	fileLogger  *log.Logger
	logFile     *os.File
	initialized bool
	consoleMu   sync.Mutex
)

// InitLogger opens <dir>/analyze_<timestamp>.log. Until it is called,
// messages only reach the console and Debug output is dropped.
func InitLogger(dir string) error {
	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	logPath := filepath.Join(dir, fmt.Sprintf("analyze_%s.log", timestamp))

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	logFile = f

	fileLogger = log.New(f, "", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lshortfile)
	initialized = true

	fmt.Printf("📝 Log file created: %s\n", logPath)
	return nil
}

func Close() {
	if logFile != nil {
		logFile.Close()
	}
}

func line(format string, v ...interface{}) string {
	msg := fmt.Sprintf(format, v...)
	if len(msg) == 0 || msg[len(msg)-1] != '\n' {
		msg += "\n"
	}
	return msg
}

// emit writes to the file (when open) and optionally to the console.
func emit(level string, console bool, format string, v ...interface{}) {
	msg := line(format, v...)
	if initialized {
		fileLogger.Output(3, "["+level+"] "+msg)
	}
	if !console {
		return
	}
	consoleMu.Lock()
	defer consoleMu.Unlock()
	fmt.Print("[" + level + "] " + msg)
}

func InfoFileOnly(format string, v ...interface{}) {
	if !initialized {
		return
	}
	emit("INFO", false, format, v...)
}

func Info(format string, v ...interface{}) {
	emit("INFO", true, format, v...)
}

func Debug(format string, v ...interface{}) {
	if !initialized {
		return
	}
	emit("DEBUG", false, format, v...)
}

func Error(format string, v ...interface{}) {
	emit("ERROR", true, format, v...)
}

func Warn(format string, v ...interface{}) {
	emit("WARN", true, format, v...)
}

// Logf adapts the package to the func(format, args...) hooks taken by the
// analysis components. Messages go to the log file only.
func Logf(format string, v ...interface{}) {
	Debug(format, v...)
}
