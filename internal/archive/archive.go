// Package archive implements the file-based message archive: every inbound
// or outbound ASTM/HL7 message the bridge handles is written to a per-kind,
// per-direction file under the configured archive root, so a transaction
// can be replayed or inspected after the fact.
package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Kind distinguishes the wire format of an archived payload.
type Kind string

const (
	KindASTM Kind = "astm"
	KindHL7  Kind = "hl7"
)

// Direction distinguishes which side originated the payload.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// ErrArchive wraps any failure writing an archived message.
var ErrArchive = errors.New("archive: write failed")

// Message is one archived payload, matching SPEC_FULL.md's ArchivedMessage.
type Message struct {
	AnalyzerID string
	Kind       Kind
	Payload    []byte
	Label      string
	Direction  Direction
	Timestamp  time.Time
}

// Archiver writes messages to disk under root/<analyzer_id>/<kind>/.
type Archiver struct {
	root string
}

// New returns an Archiver rooted at dir. dir is created lazily on first write.
func New(dir string) *Archiver {
	return &Archiver{root: dir}
}

// Save writes msg to a new file and returns its path. The filename encodes
// the timestamp, direction and label so a directory listing sorts
// chronologically and stays greppable by transaction label.
func (a *Archiver) Save(msg Message) (string, error) {
	if a == nil || a.root == "" {
		return "", fmt.Errorf("%w: no archive directory configured", ErrArchive)
	}
	dir := filepath.Join(a.root, sanitize(msg.AnalyzerID), string(msg.Kind))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: mkdir: %v", ErrArchive, err)
	}

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	name := fmt.Sprintf("%s_%s_%s.txt", ts.UTC().Format("20060102T150405.000000"), msg.Direction, sanitize(msg.Label))
	path := filepath.Join(dir, name)

	if err := os.WriteFile(path, msg.Payload, 0o644); err != nil {
		return "", fmt.Errorf("%w: write: %v", ErrArchive, err)
	}
	return path, nil
}

// sanitize strips path separators from a label so it cannot escape the
// archive directory or collide with unrelated filesystem entries.
func sanitize(s string) string {
	if s == "" {
		return "unlabeled"
	}
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_")
	return r.Replace(s)
}
