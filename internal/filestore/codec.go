package filestore

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
)

// Supported file formats.
const (
	FormatJSON   = "json"
	FormatBinary = "binary"
)

func init() {
	gob.Register([]any{})
	gob.Register(map[string]any{})
}

// codec encodes the wire form of every record of a subcollection.
type codec interface {
	ext() string
	decode(r io.Reader) ([]map[string]any, error)
	encode(w io.Writer, records []map[string]any) error
}

func codecFor(format string) (codec, error) {
	switch format {
	case "", FormatJSON:
		return jsonCodec{}, nil
	case FormatBinary:
		return gobCodec{}, nil
	}
	return nil, fmt.Errorf("unknown file format %q", format)
}

// jsonCodec stores records as an indented JSON array.
type jsonCodec struct{}

func (jsonCodec) ext() string { return ".json" }

func (jsonCodec) decode(r io.Reader) ([]map[string]any, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var records []map[string]any
	if err := dec.Decode(&records); err != nil {
		return nil, err
	}
	return records, nil
}

func (jsonCodec) encode(w io.Writer, records []map[string]any) error {
	if records == nil {
		records = []map[string]any{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(records)
}

// gobCodec stores records with encoding/gob. Unset values are omitted.
type gobCodec struct{}

func (gobCodec) ext() string { return ".gob" }

func (gobCodec) decode(r io.Reader) ([]map[string]any, error) {
	var records []map[string]any
	if err := gob.NewDecoder(r).Decode(&records); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, err
	}
	return records, nil
}

func (gobCodec) encode(w io.Writer, records []map[string]any) error {
	out := make([]map[string]any, len(records))
	for i, rec := range records {
		m := make(map[string]any, len(rec))
		for k, v := range rec {
			if v != nil {
				m[k] = v
			}
		}
		out[i] = m
	}
	return gob.NewEncoder(w).Encode(out)
}
