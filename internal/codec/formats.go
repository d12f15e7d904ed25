package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
	"gopkg.in/yaml.v3"
)

var (
	// errNilPayload is returned for a payload that encodes nil rather than a message.
	errNilPayload = errors.New("payload is nil")

	// errExtraData is returned when bytes follow the first encoded value.
	errExtraData = errors.New("extra data after message")
)

// fieldTag is the struct tag msgpack uses for field names, so MessagePack
// maps carry the same keys as the JSON form.
const fieldTag = "json"

// MsgPack returns the MessagePack codec.
func MsgPack() Codec {
	return Funcs("msgpack", msgpackSerialize, msgpackDeserialize)
}

func msgpackSerialize(msg any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag(fieldTag)
	enc.UseCompactInts(true)
	if err := enc.Encode(msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// msgpackDeserialize decodes exactly one non-nil value. Trailing bytes
// are rejected, as msgpack loads does.
func msgpackDeserialize(data []byte, into any) error {
	r := bytes.NewReader(data)
	dec := msgpack.NewDecoder(r)
	dec.SetCustomStructTag(fieldTag)

	code, err := dec.PeekCode()
	if err != nil {
		return err
	}
	if code == msgpcode.Nil {
		return errNilPayload
	}
	if err := dec.Decode(into); err != nil {
		return err
	}
	// bytes.Reader is an io.ByteScanner, so the decoder reads from it
	// directly and r.Len is exactly what is left.
	if n := r.Len(); n > 0 {
		return fmt.Errorf("%w: %d bytes", errExtraData, n)
	}
	return nil
}

// JSON returns the JSON codec.
func JSON() Codec {
	return Funcs("json", json.Marshal, jsonDeserialize)
}

// jsonDeserialize rejects a top-level null, which json.Unmarshal would
// otherwise accept as a zero message.
func jsonDeserialize(data []byte, into any) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return errNilPayload
	}
	return json.Unmarshal(data, into)
}

// YAML returns the YAML codec.
func YAML() Codec {
	return Funcs("yaml", yaml.Marshal, yaml.Unmarshal)
}
