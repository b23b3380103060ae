package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrUnknownType = errors.New("protocol: unknown message type")
	ErrInvalid     = errors.New("protocol: message failed validation")
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const schemaBase = "https://rollback.gg/schemas/"

var schemaFiles = map[string]string{
	TypeLogin:              "login.schema.json",
	TypeGameSync:           "game_sync.schema.json",
	TypePlayerConnected:    "player_connected.schema.json",
	TypePlayerDisconnected: "player_disconnected.schema.json",
	TypeError:              "error.schema.json",
}

var (
	schemasOnce sync.Once
	schemas     map[string]*jsonschema.Schema
	schemasErr  error
)

func compiledSchemas() (map[string]*jsonschema.Schema, error) {
	schemasOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		c.AssertFormat = true
		for _, name := range schemaFiles {
			b, err := schemaFS.ReadFile("schemas/" + name)
			if err != nil {
				schemasErr = err
				return
			}
			if err := c.AddResource(schemaBase+name, bytes.NewReader(b)); err != nil {
				schemasErr = fmt.Errorf("schema %s: %w", name, err)
				return
			}
		}
		out := make(map[string]*jsonschema.Schema, len(schemaFiles))
		for typ, name := range schemaFiles {
			s, err := c.Compile(schemaBase + name)
			if err != nil {
				schemasErr = fmt.Errorf("compile %s: %w", name, err)
				return
			}
			out[typ] = s
		}
		schemas = out
	})
	return schemas, schemasErr
}

// Validate checks a reliable JSON message against the schema for its type.
func Validate(b []byte) (BaseMessage, error) {
	base, err := DecodeBase(b)
	if err != nil {
		return base, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	all, err := compiledSchemas()
	if err != nil {
		return base, err
	}
	s, ok := all[base.Type]
	if !ok {
		return base, fmt.Errorf("%w: %q", ErrUnknownType, base.Type)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return base, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := s.Validate(doc); err != nil {
		return base, fmt.Errorf("%w: %s: %v", ErrInvalid, base.Type, err)
	}
	return base, nil
}

// DecodeReliable validates a JSON text frame and returns the typed message
// (LoginMsg, GameSyncMsg, PlayerConnectedMsg, PlayerDisconnectedMsg or
// ErrorMsg).
func DecodeReliable(b []byte) (any, error) {
	base, err := Validate(b)
	if err != nil {
		return nil, err
	}
	var out any
	switch base.Type {
	case TypeLogin:
		var m LoginMsg
		err = json.Unmarshal(b, &m)
		out = m
	case TypeGameSync:
		var m GameSyncMsg
		err = json.Unmarshal(b, &m)
		out = m
	case TypePlayerConnected:
		var m PlayerConnectedMsg
		err = json.Unmarshal(b, &m)
		out = m
	case TypePlayerDisconnected:
		var m PlayerDisconnectedMsg
		err = json.Unmarshal(b, &m)
		out = m
	case TypeError:
		var m ErrorMsg
		err = json.Unmarshal(b, &m)
		out = m
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, base.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return out, nil
}

func EncodeReliable(v any) ([]byte, error) {
	return json.Marshal(v)
}

// EncodeUnreliable packs a binary frame.
func EncodeUnreliable(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

// DecodeUnreliable returns InputMsg, PlayerInputMsg or GameSyncMsg.
func DecodeUnreliable(b []byte) (any, error) {
	var base BaseMessage
	if err := msgpack.Unmarshal(b, &base); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	var (
		out any
		err error
	)
	switch base.Type {
	case TypeInput:
		var m InputMsg
		err = msgpack.Unmarshal(b, &m)
		out = m
	case TypePlayerInput:
		var m PlayerInputMsg
		err = msgpack.Unmarshal(b, &m)
		out = m
	case TypeGameSync:
		var m GameSyncMsg
		err = msgpack.Unmarshal(b, &m)
		out = m
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, base.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return out, nil
}
