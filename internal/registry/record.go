package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/shinji-kodama/workshop-hub/internal/model"
)

// maxPort is the highest valid TCP/UDP port number (2^16 - 1).
const maxPort = 65535

// record is the in-memory form of a registry file: the assignments in
// assignment order plus an index for O(1) lookups.
//
// Order matters because the port of the k-th user is basePort + k; Go maps
// do not preserve insertion order, so the record keeps its own slice.
type record struct {
	entries []model.PortAssignment
	index   map[string]int // user → position in entries
	ports   map[int]string // port → user
}

func newRecord() *record {
	return &record{
		index: make(map[string]int),
		ports: make(map[int]string),
	}
}

// decodeRecord parses a registry file. The accepted shape is a single JSON
// object whose values are integers in 1-65535; anything else is an error.
// Keys keep their file order. A duplicated key keeps its first position and
// takes the last value, matching what a JSON decoder into a map would do.
func decodeRecord(data []byte) (*record, error) {
	rec := newRecord()

	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("read opening token: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected JSON object, got %v", tok)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("read key: %w", err)
		}
		user, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected string key, got %v", tok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("read port for %q: %w", user, err)
		}
		port, err := strconv.Atoi(string(bytes.TrimSpace(raw)))
		if err != nil {
			return nil, fmt.Errorf("port for %q is not an integer: %s", user, raw)
		}
		if port < 1 || port > maxPort {
			return nil, fmt.Errorf("port for %q out of range: %d", user, port)
		}

		rec.set(user, port)
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("read closing token: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("trailing data after registry object")
	}

	return rec, nil
}

// set inserts or updates an entry, keeping the position of existing users.
func (r *record) set(user string, port int) {
	if i, ok := r.index[user]; ok {
		if old := r.entries[i].Port; r.ports[old] == user {
			delete(r.ports, old)
		}
		r.entries[i].Port = port
		r.ports[port] = user
		return
	}
	r.index[user] = len(r.entries)
	r.entries = append(r.entries, model.PortAssignment{User: user, Port: port})
	r.ports[port] = user
}

func (r *record) lookup(user string) (int, bool) {
	i, ok := r.index[user]
	if !ok {
		return 0, false
	}
	return r.entries[i].Port, true
}

func (r *record) len() int {
	return len(r.entries)
}

func (r *record) portInUse(port int) bool {
	_, ok := r.ports[port]
	return ok
}

func (r *record) maxPort() int {
	m := 0
	for _, e := range r.entries {
		if e.Port > m {
			m = e.Port
		}
	}
	return m
}

// assignments returns a copy of the entries in assignment order.
func (r *record) assignments() []model.PortAssignment {
	out := make([]model.PortAssignment, len(r.entries))
	copy(out, r.entries)
	return out
}

// encode renders the record as a single-line JSON object in assignment
// order, e.g. {"alice": 22223, "bob": 22224}. This is the layout the hub's
// Python hook wrote. Files written by either side decode to the same
// mapping, but bytes can differ: non-ASCII names are written as raw UTF-8
// here and "<", ">" and "&" are escaped.
func (r *record) encode() []byte {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range r.entries {
		if i > 0 {
			buf.WriteString(", ")
		}
		// json.Marshal of a string cannot fail.
		key, _ := json.Marshal(e.User)
		buf.Write(key)
		buf.WriteString(": ")
		buf.WriteString(strconv.Itoa(e.Port))
	}
	buf.WriteString("}\n")
	return buf.Bytes()
}
