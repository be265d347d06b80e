package result

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

const hexDigits = "0123456789abcdef"

// Marshal serializes r as one line: a flat JSON object with the keys stdout,
// stderr, executionTime and status in that order, followed by a newline.
//
// Quote, backslash and every byte below 0x20 are escaped. Invalid UTF-8 is
// replaced with U+FFFD so the record always parses.
func Marshal(r ExecutionResult) []byte {
	var buf bytes.Buffer
	buf.Grow(len(r.Stdout) + len(r.Stderr) + 64)
	buf.WriteByte('{')
	writeField(&buf, "stdout", r.Stdout)
	buf.WriteByte(',')
	writeField(&buf, "stderr", r.Stderr)
	buf.WriteByte(',')
	writeField(&buf, "executionTime", r.ExecutionTime)
	buf.WriteByte(',')
	writeField(&buf, "status", string(r.Status))
	buf.WriteString("}\n")
	return buf.Bytes()
}

// Encode writes the serialized record to w.
func Encode(w io.Writer, r ExecutionResult) error {
	_, err := w.Write(Marshal(r))
	return err
}

// Unmarshal parses a record produced by Marshal.
func Unmarshal(data []byte) (ExecutionResult, error) {
	var r ExecutionResult
	if err := json.Unmarshal(data, &r); err != nil {
		return ExecutionResult{}, fmt.Errorf("decode execution result: %w", err)
	}
	if r.Status != StatusSuccess && r.Status != StatusFailure {
		return ExecutionResult{}, fmt.Errorf("decode execution result: unknown status %q", r.Status)
	}
	return r, nil
}

func writeField(buf *bytes.Buffer, key, value string) {
	buf.WriteByte('"')
	buf.WriteString(key)
	buf.WriteString(`":"`)
	writeEscaped(buf, value)
	buf.WriteByte('"')
}

func writeEscaped(buf *bytes.Buffer, s string) {
	s = strings.ToValidUTF8(s, "\uFFFD")
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if c < 0x20 {
				buf.WriteString(`\u00`)
				buf.WriteByte(hexDigits[c>>4])
				buf.WriteByte(hexDigits[c&0xF])
				continue
			}
			buf.WriteByte(c)
		}
	}
}
