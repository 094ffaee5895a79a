// Package logging routes application logs to stdout and an optional log file.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
)

var (
	mu      sync.Mutex
	logFile *os.File
	debug   atomic.Bool
)

// Init directs the standard logger at stdout plus logPath. An empty path logs to stdout only.
func Init(logPath string) error {
	return open(logPath, true)
}

// InitFileOnly logs to logPath without echoing to stdout, for full-screen
// terminal UIs. An empty path discards log output.
func InitFileOnly(logPath string) error {
	return open(logPath, false)
}

func open(logPath string, echo bool) error {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}

	var writers []io.Writer
	if echo {
		writers = append(writers, os.Stdout)
	}
	if logPath != "" {
		if dir := filepath.Dir(logPath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
		file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		logFile = file
		writers = append(writers, file)
	}

	switch len(writers) {
	case 0:
		log.SetOutput(io.Discard)
	case 1:
		log.SetOutput(writers[0])
	default:
		log.SetOutput(io.MultiWriter(writers...))
	}
	return nil
}

// Close releases the log file and restores stderr output.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if logFile == nil {
		return nil
	}
	log.SetOutput(os.Stderr)
	err := logFile.Close()
	logFile = nil
	return err
}

// SetDebug toggles LogDebug output.
func SetDebug(enabled bool) {
	debug.Store(enabled)
}

// DebugEnabled reports whether LogDebug output is on.
func DebugEnabled() bool {
	return debug.Load()
}

func LogEvent(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Println(msg)
}

// LogDebug logs only when debug output is enabled.
func LogDebug(format string, args ...any) {
	if !debug.Load() {
		return
	}
	log.Println("[DEBUG] " + fmt.Sprintf(format, args...))
}

// maxPayloadRunes caps how much of a backend payload a debug line carries.
const maxPayloadRunes = 2000

// LogRequest records one message to or from a model backend. Payloads carry
// user queries and retrieved documents, so they are written only in debug
// mode; otherwise the line records their size.
func LogRequest(direction, backend, model string, payload any) {
	log.Println(buildRequestMessage(direction, backend, model, payload, debug.Load()))
}

// LogVerdict records a guardrail decision. Allowed decisions are debug-only.
func LogVerdict(side, stage, category, reason string, allowed bool) {
	if allowed {
		LogDebug("[GUARDRAILS] %s allowed", side)
		return
	}
	log.Println(buildVerdictMessage(side, stage, category, reason))
}

func buildVerdictMessage(side, stage, category, reason string) string {
	parts := []string{"[GUARDRAILS]", strings.ToLower(strings.TrimSpace(side)), "rejected"}
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, fmt.Sprintf("stage=%s", stage))
	}
	if category = strings.TrimSpace(category); category != "" {
		parts = append(parts, fmt.Sprintf("category=%s", category))
	}
	parts = append(parts, fmt.Sprintf("reason=%q", reason))
	return strings.Join(parts, " ")
}

func buildRequestMessage(direction, backend, model string, payload any, withPayload bool) string {
	parts := []string{
		fmt.Sprintf("[%s]", strings.ToUpper(strings.TrimSpace(direction))),
		"backend=" + orUnknown(backend),
		"model=" + orUnknown(model),
	}
	body := formatPayload(payload)
	if !withPayload {
		return strings.Join(append(parts, fmt.Sprintf("bytes=%d", len(body))), " ")
	}
	if runes := []rune(body); len(runes) > maxPayloadRunes {
		body = string(runes[:maxPayloadRunes]) + fmt.Sprintf("...(%d more)", len(runes)-maxPayloadRunes)
	}
	return strings.Join(append(parts, "payload="+body), " ")
}

func orUnknown(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return "unknown"
	}
	return s
}

func formatPayload(payload any) string {
	switch v := payload.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
