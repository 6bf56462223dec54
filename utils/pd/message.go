package pd

import (
	"bytes"
	"encoding/gob"
	"log"
)

// Messager is anything that can travel through the wire or the WAL.
type Messager interface {
	Reset()
}

// Marshal encode msg to bytes with gob.
func Marshal(msg Messager) ([]byte, error) {
	var buf bytes.Buffer
	encoder := gob.NewEncoder(&buf)
	if err := encoder.Encode(msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MustMarshal encode msg to bytes, panic on failure.
func MustMarshal(msg Messager) []byte {
	d, err := Marshal(msg)
	if err != nil {
		log.Panicf("marshal should never fail (%v)", err)
	}
	return d
}

// Unmarshal decode data into msg.
func Unmarshal(msg Messager, data []byte) error {
	buf := bytes.NewBuffer(data)
	decoder := gob.NewDecoder(buf)
	return decoder.Decode(msg)
}

// MustUnmarshal decode data into msg, panic on failure.
func MustUnmarshal(msg Messager, data []byte) {
	if err := Unmarshal(msg, data); err != nil {
		log.Panicf("unmarshal should never fail (%v)", err)
	}
}
