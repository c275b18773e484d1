// Package device applies per-account overrides to the gateway's device.json.
package device

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
)

// File is the device identity file in an account directory.
const File = "device.json"

// Protocol is the client protocol the gateway impersonates.
type Protocol int

const (
	IPad         Protocol = 0
	AndroidPhone Protocol = 1
	AndroidWatch Protocol = 2
	MacOS        Protocol = 3
	QiDian       Protocol = 4
)

var protocolNames = map[string]Protocol{
	"ipad":    IPad,
	"android": AndroidPhone,
	"安卓":      AndroidPhone,
	"watch":   AndroidWatch,
	"macos":   MacOS,
	"企点":      QiDian,
	"qidian":  QiDian,
}

// ErrUnknownProtocol is returned for protocol names that map to nothing.
var ErrUnknownProtocol = errors.New("unknown device protocol")

func (p Protocol) String() string {
	switch p {
	case IPad:
		return "iPad"
	case AndroidPhone:
		return "Android"
	case AndroidWatch:
		return "Watch"
	case MacOS:
		return "MacOS"
	case QiDian:
		return "QiDian"
	default:
		return fmt.Sprintf("Protocol(%d)", int(p))
	}
}

// ParseProtocol accepts a protocol number or one of its names.
func ParseProtocol(s string) (Protocol, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return Protocol(n), nil
	}
	if p, ok := protocolNames[strings.ToLower(s)]; ok {
		return p, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownProtocol, s)
}

// Override lists fields to force into an account's device.json.
type Override struct {
	// Protocol is a protocol number or name, empty to keep the current one.
	Protocol string `yaml:"protocol,omitempty"`

	// Fields are other device.json keys to set verbatim.
	Fields map[string]any `yaml:"fields,omitempty"`
}

// Empty reports whether the override changes nothing.
func (o Override) Empty() bool {
	return o.Protocol == "" && len(o.Fields) == 0
}

// Apply merges o into dir/device.json. A missing device file is left for
// the gateway to generate and reports no change. Unknown keys in the file are
// preserved. The file is rewritten only when a value actually differs.
func Apply(dir string, o Override) (bool, error) {
	if o.Empty() {
		return false, nil
	}

	path := filepath.Join(dir, File)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", File, err)
	}

	var doc map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return false, fmt.Errorf("parse %s: %w", File, err)
	}
	if doc == nil {
		doc = make(map[string]any)
	}

	want := make(map[string]any, len(o.Fields)+1)
	for k, v := range o.Fields {
		want[k] = v
	}
	if o.Protocol != "" {
		p, err := ParseProtocol(o.Protocol)
		if err != nil {
			return false, err
		}
		want["protocol"] = int(p)
	}

	changed := false
	for k, v := range want {
		if sameJSON(doc[k], v) {
			continue
		}
		doc[k] = v
		changed = true
	}
	if !changed {
		return false, nil
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return false, fmt.Errorf("encode %s: %w", File, err)
	}
	if err := os.WriteFile(path, out, 0600); err != nil {
		return false, fmt.Errorf("write %s: %w", File, err)
	}
	return true, nil
}

// sameJSON compares two values by their JSON encoding so json.Number and
// plain ints compare equal.
func sameJSON(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return bytes.Equal(ja, jb)
}
