package logger

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var levelNames = map[LogLevel]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
	FATAL: "FATAL",
}

type entry struct {
	Level     string                 `json:"level"`
	Timestamp string                 `json:"timestamp"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

type sink struct {
	file         *os.File
	filePath     string
	maxSizeBytes int64
	maxAgeDays   int
	currentSize  int64
	rotationOn   bool
}

var (
	mu           sync.Mutex
	currentLevel = INFO
	fileSink     *sink
)

func SetLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	currentLevel = level
}

func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "WARN":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	}
	return INFO
}

// EnableFileLogging mirrors log output into a JSON-lines file. When rotation
// is on, the file is renamed with a timestamp suffix once it exceeds
// maxSizeMB, and rotated files older than maxAgeDays are pruned.
func EnableFileLogging(filePath string, rotationOn bool, maxSizeMB, maxAgeDays int) error {
	if strings.HasPrefix(filePath, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			filePath = filepath.Join(home, filePath[2:])
		}
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	var size int64
	if stat, err := f.Stat(); err == nil {
		size = stat.Size()
	}

	mu.Lock()
	defer mu.Unlock()
	if fileSink != nil && fileSink.file != nil {
		fileSink.file.Close()
	}
	fileSink = &sink{
		file:         f,
		filePath:     filePath,
		maxSizeBytes: int64(maxSizeMB) * 1024 * 1024,
		maxAgeDays:   maxAgeDays,
		currentSize:  size,
		rotationOn:   rotationOn,
	}
	return nil
}

func DisableFileLogging() {
	mu.Lock()
	defer mu.Unlock()
	if fileSink != nil && fileSink.file != nil {
		fileSink.file.Close()
	}
	fileSink = nil
}

func (s *sink) rotate() {
	s.file.Close()
	rotated := fmt.Sprintf("%s.%s", s.filePath, time.Now().Format("20060102-150405"))
	if err := os.Rename(s.filePath, rotated); err != nil {
		log.Printf("log rotation failed: %v", err)
	}
	f, err := os.OpenFile(s.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Printf("log rotation reopen failed: %v", err)
		return
	}
	s.file = f
	s.currentSize = 0
	s.pruneRotated()
}

func (s *sink) pruneRotated() {
	if s.maxAgeDays <= 0 {
		return
	}
	dir := filepath.Dir(s.filePath)
	base := filepath.Base(s.filePath)
	cutoff := time.Now().AddDate(0, 0, -s.maxAgeDays)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), base+".") {
			continue
		}
		if info, err := e.Info(); err == nil && info.ModTime().Before(cutoff) {
			os.Remove(filepath.Join(dir, e.Name()))
		}
	}
}

func emit(level LogLevel, component, message string, fields map[string]interface{}) {
	mu.Lock()
	if level < currentLevel {
		mu.Unlock()
		return
	}

	e := entry{
		Level:     levelNames[level],
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Component: component,
		Message:   message,
		Fields:    fields,
	}

	if fileSink != nil && fileSink.file != nil {
		if fileSink.rotationOn && fileSink.maxSizeBytes > 0 && fileSink.currentSize >= fileSink.maxSizeBytes {
			fileSink.rotate()
		}
		if data, err := json.Marshal(e); err == nil {
			if n, err := fileSink.file.WriteString(string(data) + "\n"); err == nil {
				fileSink.currentSize += int64(n)
			}
		}
	}
	mu.Unlock()

	var comp string
	if component != "" {
		comp = fmt.Sprintf(" %s:", component)
	}
	var fieldStr string
	if len(fields) > 0 {
		parts := make([]string, 0, len(fields))
		for k, v := range fields {
			parts = append(parts, fmt.Sprintf("%s=%v", k, v))
		}
		fieldStr = fmt.Sprintf(" {%s}", strings.Join(parts, ", "))
	}

	log.Printf("[%s] [%s]%s %s%s", e.Timestamp, e.Level, comp, message, fieldStr)

	if level == FATAL {
		os.Exit(1)
	}
}

func Debug(message string)             { emit(DEBUG, "", message, nil) }
func DebugC(component, message string) { emit(DEBUG, component, message, nil) }
func Info(message string)              { emit(INFO, "", message, nil) }
func InfoC(component, message string)  { emit(INFO, component, message, nil) }
func Warn(message string)              { emit(WARN, "", message, nil) }
func WarnC(component, message string)  { emit(WARN, component, message, nil) }
func Error(message string)             { emit(ERROR, "", message, nil) }
func ErrorC(component, message string) { emit(ERROR, component, message, nil) }
func Fatal(message string)             { emit(FATAL, "", message, nil) }
func FatalC(component, message string) { emit(FATAL, component, message, nil) }

func DebugCF(component, message string, fields map[string]interface{}) {
	emit(DEBUG, component, message, fields)
}

func InfoCF(component, message string, fields map[string]interface{}) {
	emit(INFO, component, message, fields)
}

func WarnCF(component, message string, fields map[string]interface{}) {
	emit(WARN, component, message, fields)
}

func ErrorCF(component, message string, fields map[string]interface{}) {
	emit(ERROR, component, message, fields)
}

func FatalCF(component, message string, fields map[string]interface{}) {
	emit(FATAL, component, message, fields)
}
