package llm

import (
	"bufio"
	"bytes"
	"io"
)

// ScanSSE calls fn with the payload of every "data:" line in r until fn
// returns stop, r is exhausted or a read fails. Comment and event lines are
// skipped.
func ScanSSE(r io.Reader, fn func(data []byte) (stop bool, err error)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		data := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
		if len(data) == 0 {
			continue
		}
		stop, err := fn(data)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
	return scanner.Err()
}
