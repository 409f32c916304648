package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Asciinema v2 event codes.
const (
	EventOutput = "o"
	EventInput  = "i"
	EventResize = "r"
	EventMarker = "m"
)

// AsciinemaHeader represents the header of an Asciinema v2 recording.
type AsciinemaHeader struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Title     string            `json:"title,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// AsciinemaEvent is one [time, code, data] line of a recording.
type AsciinemaEvent struct {
	TimeOffset float64
	EventType  string
	Data       string
}

// MarshalJSON encodes the event as a three element array.
func (e AsciinemaEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{e.TimeOffset, e.EventType, e.Data})
}

// UnmarshalJSON decodes a three element array.
func (e *AsciinemaEvent) UnmarshalJSON(data []byte) error {
	var arr []interface{}
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if len(arr) != 3 {
		return fmt.Errorf("invalid event format: expected 3 elements, got %d", len(arr))
	}

	timeOffset, ok := arr[0].(float64)
	if !ok {
		return fmt.Errorf("invalid time offset type")
	}
	eventType, ok := arr[1].(string)
	if !ok {
		return fmt.Errorf("invalid event type")
	}
	eventData, ok := arr[2].(string)
	if !ok {
		return fmt.Errorf("invalid event data type")
	}

	e.TimeOffset = timeOffset
	e.EventType = eventType
	e.Data = eventData
	return nil
}

// Recorder writes a bridge session as an Asciinema v2 JSON-Lines stream.
// Output, input, resizes and server diagnostics (as markers) are recorded
// across respawns, so one file covers the whole connection.
type Recorder struct {
	mu        sync.Mutex
	writer    io.Writer
	closers   []io.Closer
	startTime time.Time
	path      string
	closed    bool
}

// RecordingPath returns where a session's recording lives.
func RecordingPath(dir, sessionID string, compress bool) string {
	name := sessionID + ".cast"
	if compress {
		name += ".zst"
	}
	return filepath.Join(dir, name)
}

// OpenRecorder creates the recording file for a session and writes its
// header. With compress set the stream is zstd-compressed.
func OpenRecorder(dir, sessionID string, compress bool, cols, rows int) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recording directory: %w", err)
	}

	path := RecordingPath(dir, sessionID, compress)
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording: %w", err)
	}

	r := &Recorder{writer: file, closers: []io.Closer{file}, startTime: time.Now(), path: path}
	if compress {
		enc, err := zstd.NewWriter(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		r.writer = enc
		// Encoder first so it flushes into the still-open file.
		r.closers = []io.Closer{enc, file}
	}

	if err := r.WriteHeader(AsciinemaHeader{Width: cols, Height: rows, Title: sessionID}); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

// NewRecorderWithWriter records into w. Useful for tests.
func NewRecorderWithWriter(w io.Writer) *Recorder {
	return &Recorder{writer: w, startTime: time.Now()}
}

// Path returns the file backing the recording, or "" for writer-backed ones.
func (r *Recorder) Path() string {
	return r.path
}

// WriteHeader writes the header line. Version and timestamp are filled in.
func (r *Recorder) WriteHeader(h AsciinemaHeader) error {
	h.Version = 2
	h.Timestamp = r.startTime.Unix()

	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	return r.writeLine(data)
}

// WriteOutput records bytes sent to the client.
func (r *Recorder) WriteOutput(data []byte) error {
	return r.writeEvent(EventOutput, string(data))
}

// WriteInput records bytes typed by the client.
func (r *Recorder) WriteInput(data []byte) error {
	return r.writeEvent(EventInput, string(data))
}

// WriteResize records a terminal resize.
func (r *Recorder) WriteResize(cols, rows int) error {
	return r.writeEvent(EventResize, fmt.Sprintf("%dx%d", cols, rows))
}

// WriteMarker records a labelled marker, used for server diagnostics.
func (r *Recorder) WriteMarker(label string) error {
	return r.writeEvent(EventMarker, label)
}

func (r *Recorder) writeEvent(eventType, data string) error {
	event := AsciinemaEvent{
		TimeOffset: time.Since(r.startTime).Seconds(),
		EventType:  eventType,
		Data:       data,
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return r.writeLine(line)
}

func (r *Recorder) writeLine(line []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	if _, err := r.writer.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write recording: %w", err)
	}
	return nil
}

// Close flushes and closes the recording. Further writes are dropped.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	var firstErr error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// StartTime returns the start time of the recording.
func (r *Recorder) StartTime() time.Time {
	return r.startTime
}
