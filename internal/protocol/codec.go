package protocol

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"duckq/internal/domain"
)

// Wire format: one JSON object per message with a "type" field naming the
// tag and the variant's fields alongside it, e.g.
//
//	{"type":"executeQuery","sql":"SELECT 1"}
//	{"type":"queryResultBatch","columns":["n"],"batch":[...],"index":1,"totalBatches":3}

type envelope struct {
	Type string `json:"type"`
}

// MarshalCommand encodes a command in wire form.
func MarshalCommand(c Command) ([]byte, error) {
	if u, ok := c.(Unrecognized); ok {
		return json.Marshal(envelope{Type: u.Type})
	}
	return withType(c.CommandType(), c)
}

// MarshalResponse encodes a response in wire form.
func MarshalResponse(r Response) ([]byte, error) {
	return withType(r.ResponseType(), r)
}

// UnmarshalCommand decodes a wire command. An unknown tag is not an error:
// it decodes to Unrecognized so the receiver can answer it.
func UnmarshalCommand(data []byte) (Command, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}

	switch env.Type {
	case TagLoadData:
		var c LoadData
		if err := decodeInto(data, &c, env.Type); err != nil {
			return nil, err
		}
		return c, nil
	case TagExecuteQuery:
		var c ExecuteQuery
		if err := decodeInto(data, &c, env.Type); err != nil {
			return nil, err
		}
		return c, nil
	case TagGetSchema:
		return GetSchema{}, nil
	case TagResetSession, tagClearCache:
		return ResetSession{}, nil
	default:
		return Unrecognized{Type: env.Type}, nil
	}
}

// UnmarshalResponse decodes a wire response.
func UnmarshalResponse(data []byte) (Response, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	switch env.Type {
	case TagLoaded:
		var r Loaded
		if err := decodeInto(data, &r, env.Type); err != nil {
			return nil, err
		}
		return r, nil
	case TagQueryResult:
		var r QueryResult
		if err := decodeInto(data, &r, env.Type); err != nil {
			return nil, err
		}
		return r, nil
	case TagQueryResultBatch:
		var r QueryResultBatch
		if err := decodeInto(data, &r, env.Type); err != nil {
			return nil, err
		}
		return r, nil
	case TagSchema:
		var r Schema
		if err := decodeInto(data, &r, env.Type); err != nil {
			return nil, err
		}
		return r, nil
	case TagCleared:
		return Cleared{}, nil
	case TagError:
		var r Error
		if err := decodeInto(data, &r, env.Type); err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("decode response: unknown type %q", env.Type)
	}
}

// Encoder writes messages to a stream, one per line. It is safe for
// concurrent use.
type Encoder struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: json.NewEncoder(w)}
}

// WriteCommand writes one command.
func (e *Encoder) WriteCommand(c Command) error {
	b, err := MarshalCommand(c)
	if err != nil {
		return err
	}
	return e.write(b)
}

// WriteResponse writes one response.
func (e *Encoder) WriteResponse(r Response) error {
	b, err := MarshalResponse(r)
	if err != nil {
		return err
	}
	return e.write(b)
}

func (e *Encoder) write(b []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.Encode(json.RawMessage(b))
}

// Decoder reads messages written by an Encoder.
type Decoder struct {
	dec *json.Decoder
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: json.NewDecoder(r)}
}

// ReadCommand reads the next command. It returns io.EOF at end of stream.
func (d *Decoder) ReadCommand() (Command, error) {
	var raw json.RawMessage
	if err := d.dec.Decode(&raw); err != nil {
		return nil, err
	}
	return UnmarshalCommand(raw)
}

// ReadResponse reads the next response. It returns io.EOF at end of stream.
func (d *Decoder) ReadResponse() (Response, error) {
	var raw json.RawMessage
	if err := d.dec.Decode(&raw); err != nil {
		return nil, err
	}
	return UnmarshalResponse(raw)
}

func withType(tag string, v interface{}) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", tag, err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encode %s: %w", tag, err)
	}
	typ, _ := json.Marshal(tag)
	fields["type"] = typ
	return json.Marshal(fields)
}

func decodeInto(data []byte, v interface{}, tag string) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", tag, err)
	}
	return nil
}

// MarshalRows encodes rows as a JSON array.
func MarshalRows(rows []domain.Row) (json.RawMessage, error) {
	if rows == nil {
		rows = []domain.Row{}
	}
	b, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("encode rows: %w", err)
	}
	return b, nil
}
