package event

import (
	"bytes"
	"fmt"

	jsonx "github.com/desduvauchelle/tamias-sub001/internal/shared/json"
)

// Encode renders ev as a flat JSON object with a "type" discriminator.
func Encode(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("encode event: nil event")
	}
	body, err := jsonx.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", ev.Type(), err)
	}
	var buf bytes.Buffer
	buf.WriteString(`{"type":"`)
	buf.WriteString(string(ev.Type()))
	buf.WriteByte('"')
	if inner := bytes.TrimSpace(body); len(inner) > 2 {
		buf.WriteByte(',')
		buf.Write(inner[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

// Decode parses the output of Encode.
func Decode(data []byte) (Event, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := jsonx.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	var target Event
	var err error
	switch head.Type {
	case TypeStart:
		var v Start
		err = jsonx.Unmarshal(data, &v)
		target = v
	case TypeChunk:
		var v Chunk
		err = jsonx.Unmarshal(data, &v)
		target = v
	case TypeToolCall:
		var v ToolCall
		err = jsonx.Unmarshal(data, &v)
		target = v
	case TypeToolResult:
		var v ToolResult
		err = jsonx.Unmarshal(data, &v)
		target = v
	case TypeDone:
		var v Done
		err = jsonx.Unmarshal(data, &v)
		target = v
	case TypeError:
		var v Error
		err = jsonx.Unmarshal(data, &v)
		target = v
	case TypeFile:
		var v File
		err = jsonx.Unmarshal(data, &v)
		target = v
	case TypeSubagentStatus:
		var v SubagentStatus
		err = jsonx.Unmarshal(data, &v)
		target = v
	case TypeHeartbeat:
		target = Heartbeat{}
	default:
		return nil, fmt.Errorf("decode event: unknown type %q", head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s event: %w", head.Type, err)
	}
	return target, nil
}
