package transport

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// gobCodec serializes rpc payloads with encoding/gob, matching the
// format used for the write ahead log.
type gobCodec struct{}

func (gobCodec) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("transport: encode %T: %w", v, err)
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("transport: decode %T: %w", v, err)
	}
	return nil
}

func (gobCodec) Name() string { return "gob" }
