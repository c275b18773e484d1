// Package logline turns raw gateway output into classified log lines.
//
// Gateway output looks like
//
//	[2024-05-01 12:00:00] [INFO]: 开始尝试登录并同步消息...
//
// Lines are ANSI-stripped, split, and tagged with the severity the gateway
// printed so they can be re-emitted through slog at a matching level.
package logline

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// Line is one classified output line.
type Line struct {
	// Raw is the ANSI-stripped line without surrounding whitespace.
	Raw string

	// Tag is the severity tag printed by the gateway (INFO, WARNING, ...),
	// or empty when the line carries none.
	Tag string

	// Text is the message body after the timestamp and tag. For untagged
	// lines it equals Raw.
	Text string

	// Level is the slog level the line should be logged at.
	Level slog.Level

	// Traffic marks ordinary message-traffic lines (received/sent chat
	// messages). They are neither logged nor classified further.
	Traffic bool
}

var (
	headerPattern  = regexp.MustCompile(`^\[[^\]]*\]\s*\[([A-Za-z]+)\]:\s?(.*)$`)
	trafficPattern = regexp.MustCompile(`^(收到|发送)(群|好友|临时会话|频道|讨论组)?\S*.*的消息`)
)

// levelMap follows the gateway's own verbosity: its INFO chatter is only
// interesting when debugging, warnings and errors pass through.
var levelMap = map[string]slog.Level{
	"DEBUG":   slog.LevelDebug,
	"TRACE":   slog.LevelDebug,
	"INFO":    slog.LevelDebug,
	"WARN":    slog.LevelWarn,
	"WARNING": slog.LevelWarn,
	"ERROR":   slog.LevelError,
	"FATAL":   slog.LevelError,
	"PANIC":   slog.LevelError,
}

// LevelFor maps a gateway severity tag to a slog level. Unknown tags log at
// info.
func LevelFor(tag string) slog.Level {
	if lvl, ok := levelMap[strings.ToUpper(tag)]; ok {
		return lvl
	}
	return slog.LevelInfo
}

// StripANSI removes terminal escape sequences.
func StripANSI(s string) string {
	return ansi.Strip(s)
}

// Parse classifies a single line. The second return value is false for lines
// that are empty after stripping.
func Parse(line string) (Line, bool) {
	raw := strings.TrimSpace(StripANSI(line))
	if raw == "" {
		return Line{}, false
	}

	l := Line{Raw: raw, Text: raw, Level: slog.LevelInfo}
	if m := headerPattern.FindStringSubmatch(raw); m != nil {
		l.Tag = strings.ToUpper(m[1])
		l.Text = strings.TrimSpace(m[2])
		l.Level = LevelFor(l.Tag)
	}
	l.Traffic = IsTraffic(l.Text)
	return l, true
}

// IsTraffic reports whether text is a routine chat message log.
func IsTraffic(text string) bool {
	return trafficPattern.MatchString(text)
}

// Split classifies every non-empty line of a complete output chunk.
func Split(chunk string) []Line {
	var lines []Line
	for _, part := range strings.Split(chunk, "\n") {
		if l, ok := Parse(part); ok {
			lines = append(lines, l)
		}
	}
	return lines
}

// Splitter classifies a stream delivered in arbitrary chunks, holding back a
// trailing partial line until its newline arrives.
type Splitter struct {
	pending strings.Builder
}

// Feed appends a chunk and returns the lines it completed, in order.
func (s *Splitter) Feed(chunk []byte) []Line {
	s.pending.Write(chunk)
	buf := s.pending.String()

	idx := strings.LastIndexByte(buf, '\n')
	if idx < 0 {
		return nil
	}
	complete, rest := buf[:idx], buf[idx+1:]
	s.pending.Reset()
	s.pending.WriteString(rest)
	return Split(complete)
}

// Pending reports whether a partial line is buffered. Interactive prompts
// often end without a newline, so callers flush after a short idle period.
func (s *Splitter) Pending() bool {
	return strings.TrimSpace(s.pending.String()) != ""
}

// Flush returns whatever partial line is buffered.
func (s *Splitter) Flush() []Line {
	buf := s.pending.String()
	s.pending.Reset()
	return Split(buf)
}
