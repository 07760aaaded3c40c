package protocol

import (
	"bufio"
	"io"
	"strings"
)

// Encoder writes messages as newline-delimited JSON frames.
type Encoder struct {
	w io.Writer
}

// NewEncoder creates an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes one message followed by a newline.
func (e *Encoder) Encode(m Message) error {
	data, err := Marshal(m)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = e.w.Write(data)
	return err
}

// Decoder reads newline-delimited JSON frames. Issue payloads can be large,
// so the scanner buffer is sized well above bufio's default.
type Decoder struct {
	s *bufio.Scanner
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), 4*1024*1024)
	return &Decoder{s: s}
}

// Decode returns the next message. It skips blank lines and returns io.EOF
// once the underlying stream ends.
func (d *Decoder) Decode() (Message, error) {
	for d.s.Scan() {
		line := strings.TrimSpace(d.s.Text())
		if line == "" {
			continue
		}
		return Unmarshal([]byte(line))
	}
	if err := d.s.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
