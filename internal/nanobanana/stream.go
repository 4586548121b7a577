package nanobanana

import (
	"bytes"
	"encoding/json"

	"github.com/rs/zerolog"
)

var (
	dataPrefix   = []byte("data:")
	doneSentinel = []byte("[DONE]")
)

// StreamDecoder incrementally splits a byte stream into newline-delimited
// event records and decodes them. It holds back the trailing incomplete line
// between chunks and is otherwise stateless, so one decoder serves exactly
// one stream. It never drives the transport itself: callers push chunks in
// and collect zero or more events per chunk.
type StreamDecoder struct {
	pending []byte
	logger  zerolog.Logger
}

func NewStreamDecoder(logger zerolog.Logger) *StreamDecoder {
	return &StreamDecoder{logger: logger}
}

// Feed appends a chunk and returns every event completed by it. Lines without
// the data: prefix and the [DONE] sentinel are skipped; a record that fails
// to decode is dropped with a warning and the stream continues.
func (d *StreamDecoder) Feed(chunk []byte) []Event {
	d.pending = append(d.pending, chunk...)
	lines := bytes.Split(d.pending, []byte{'\n'})
	// Keep the last, possibly incomplete line for the next chunk.
	last := lines[len(lines)-1]
	d.pending = append(d.pending[:0:0], last...)
	lines = lines[:len(lines)-1]

	var events []Event
	for _, line := range lines {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || !bytes.HasPrefix(line, dataPrefix) {
			continue
		}
		payload := bytes.TrimSpace(line[len(dataPrefix):])
		if bytes.Equal(payload, doneSentinel) {
			continue
		}
		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			d.logger.Warn().Err(err).Str("record", string(payload)).Msg("nanobanana: dropping malformed stream record")
			continue
		}
		events = append(events, ev)
	}
	return events
}
