// Package logxtest captures logx output in tests.
package logxtest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"sync"

	logx "sharebot/pkg/logx"
)

// Recorder is an io.Writer that keeps every JSON log line written to it.
type Recorder struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// New returns a recorder and a debug-level logger writing into it.
func New() (*Recorder, logx.Logger) {
	r := &Recorder{}
	return r, logx.NewJSON(r, "debug")
}

func (r *Recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Write(p)
}

// Entries decodes all lines written so far. Lines that are not JSON are skipped.
func (r *Recorder) Entries() []map[string]any {
	r.mu.Lock()
	data := append([]byte(nil), r.buf.Bytes()...)
	r.mu.Unlock()

	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Find returns entries with the given level and message.
func (r *Recorder) Find(level, msg string) []map[string]any {
	var out []map[string]any
	for _, e := range r.Entries() {
		if e["level"] == level && e["message"] == msg {
			out = append(out, e)
		}
	}
	return out
}

// CountLevel returns the number of entries at level.
func (r *Recorder) CountLevel(level string) int {
	n := 0
	for _, e := range r.Entries() {
		if e["level"] == level {
			n++
		}
	}
	return n
}
