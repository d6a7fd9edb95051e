// Package eventlog provides append-only JSONL transcripts of hand runs with
// daily file rotation. Every model response, directive execution, and process
// line can be replayed later for debugging a run that went sideways.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TranscriptsDirname is the transcript directory under the workspace data
// directory.
const TranscriptsDirname = "transcripts"

// Event types recorded in transcripts.
const (
	EventRunStarted  = "run_started"
	EventModelReply  = "model_reply"
	EventDirective   = "directive"
	EventToolResult  = "tool_result"
	EventProcessLine = "process_line"
	EventPhaseChange = "phase_change"
	EventRunFinished = "run_finished"
)

// Event is one transcript record.
type Event struct {
	Timestamp time.Time         `json:"ts"`
	RunID     string            `json:"run_id"`
	Type      string            `json:"type"`
	Content   string            `json:"content,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	Iteration int               `json:"iteration,omitempty"`
}

// NewEvent creates an event stamped with the current time.
func NewEvent(runID, eventType, content string) Event {
	return Event{
		Timestamp: time.Now().UTC(),
		RunID:     runID,
		Type:      eventType,
		Content:   content,
	}
}

// WithField returns a copy of the event with an extra key/value attached.
func (e Event) WithField(key, value string) Event {
	fields := make(map[string]string, len(e.Fields)+1)
	for k, v := range e.Fields {
		fields[k] = v
	}
	fields[key] = value
	e.Fields = fields
	return e
}

// WithIteration returns a copy of the event tagged with an iteration number.
func (e Event) WithIteration(n int) Event {
	e.Iteration = n
	return e
}

// Writer appends events to daily rotated JSONL transcript files.
type Writer struct {
	currentFile *os.File
	logDir      string
	currentDate string
	mu          sync.Mutex
}

// NewWriter creates a transcript writer rooted at logDir.
func NewWriter(logDir string) (*Writer, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create transcript directory: %w", err)
	}

	writer := &Writer{logDir: logDir}
	if err := writer.rotateIfNeeded(); err != nil {
		return nil, fmt.Errorf("failed to initialize transcript file: %w", err)
	}

	return writer, nil
}

// Write appends one event to the current transcript file, rotating first if
// the date has rolled over.
func (w *Writer) Write(event Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotateIfNeeded(); err != nil {
		return fmt.Errorf("failed to rotate transcript file: %w", err)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	if _, err := w.currentFile.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	if err := w.currentFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync transcript: %w", err)
	}

	return nil
}

func (w *Writer) rotateIfNeeded() error {
	newDate := time.Now().Format("2006-01-02")
	if w.currentFile == nil || w.currentDate != newDate {
		return w.rotate(newDate)
	}
	return nil
}

func (w *Writer) rotate(newDate string) error {
	if w.currentFile != nil {
		if err := w.currentFile.Close(); err != nil {
			return fmt.Errorf("failed to close current transcript: %w", err)
		}
	}

	path := filepath.Join(w.logDir, transcriptFilename(newDate))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open transcript file %s: %w", path, err)
	}

	w.currentFile = file
	w.currentDate = newDate
	return nil
}

// Close closes the current transcript file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile != nil {
		err := w.currentFile.Close()
		w.currentFile = nil
		if err != nil {
			return fmt.Errorf("failed to close transcript file: %w", err)
		}
	}
	return nil
}

// CurrentFile returns the path of the active transcript file.
func (w *Writer) CurrentFile() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile == nil {
		return ""
	}
	return filepath.Join(w.logDir, transcriptFilename(w.currentDate))
}

func transcriptFilename(date string) string {
	return fmt.Sprintf("transcript-%s.jsonl", date)
}

// ReadEvents parses every event from a transcript file. Model replies can
// carry large payloads, so the line buffer is generous.
func ReadEvents(path string) ([]Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			return nil, fmt.Errorf("failed to parse transcript line: %w", err)
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}

	return events, nil
}

// ListTranscripts returns all transcript files under logDir.
func ListTranscripts(logDir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(logDir, "transcript-*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to list transcript files: %w", err)
	}
	return files, nil
}
