package stream

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/kozaktomas/punchclock/internal/constants"
)

// readEvents parses a text/event-stream body and calls fn with the data of
// every dispatched event. Multi-line data fields are joined with "\n".
// Comments, event names, ids and retry hints are ignored. It returns io.EOF
// when the body ends cleanly.
func readEvents(r io.Reader, fn func(data []byte)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), constants.MaxEventSize)

	var data bytes.Buffer
	pending := false
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			if pending {
				fn(bytes.Clone(data.Bytes()))
			}
			data.Reset()
			pending = false
			continue
		}
		if line[0] == ':' {
			continue
		}

		field, value, _ := bytes.Cut(line, []byte(":"))
		if string(field) != "data" {
			continue
		}
		value = bytes.TrimPrefix(value, []byte(" "))
		if pending {
			data.WriteByte('\n')
		}
		data.Write(value)
		pending = true
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read event stream: %w", err)
	}
	return io.EOF
}
