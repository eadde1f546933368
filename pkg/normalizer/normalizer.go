// Package normalizer repairs malformed tool input schemas returned by
// upstream MCP servers. Some backends emit an inputSchema that declares
// "properties" without the "type" field required by JSON Schema consumers;
// the functions here detect exactly that shape and insert "type":"object"
// while passing every other byte of the payload through verbatim. All
// functions are pure and safe for concurrent use.
package normalizer

import (
	"bytes"
	"encoding/json"
	"sort"
)

// MalformedToolError reports a tool value that is not a JSON object or
// lacks a usable name.
type MalformedToolError struct {
	Reason string
}

func (e *MalformedToolError) Error() string {
	return "normalizer: malformed tool: " + e.Reason
}

// defaultInputSchema is substituted when a tool omits inputSchema entirely.
var defaultInputSchema = json.RawMessage(`{"type":"object","properties":{}}`)

// ToolDescriptor is the normalized form of a tool value. Fields the proxy
// does not interpret are retained byte-verbatim in Extra so vendor
// extensions survive the round trip.
type ToolDescriptor struct {
	Name        string
	Description json.RawMessage
	InputSchema json.RawMessage
	Extra       map[string]json.RawMessage
}

// MarshalJSON re-emits the descriptor with name first, then description and
// inputSchema, then the remaining members in sorted order. Raw members are
// written without re-encoding.
func (t *ToolDescriptor) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"name":`)
	name, err := json.Marshal(t.Name)
	if err != nil {
		return nil, err
	}
	buf.Write(name)
	if t.Description != nil {
		buf.WriteString(`,"description":`)
		buf.Write(t.Description)
	}
	if t.InputSchema != nil {
		buf.WriteString(`,"inputSchema":`)
		buf.Write(t.InputSchema)
	}
	keys := make([]string, 0, len(t.Extra))
	for k := range t.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(t.Extra[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// NormalizeInputSchema returns the schema with "type":"object" inserted
// ahead of the existing members when the schema declares properties but no
// type. Every other shape is returned unchanged:
//   - "type" already present: the schema is complete.
//   - neither "type" nor "properties": the shape is ambiguous and the proxy
//     does not guess.
//
// The function is idempotent; a schema that already went through it gains a
// "type" and falls into the first case on the next pass.
func NormalizeInputSchema(schema json.RawMessage) json.RawMessage {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(schema, &members); err != nil || members == nil {
		return schema
	}
	if _, ok := members["type"]; ok {
		return schema
	}
	if _, ok := members["properties"]; !ok {
		return schema
	}
	return spliceObjectType(schema)
}

// spliceObjectType rewrites {<members>} as {"type":"object",<members>},
// keeping the original member bytes verbatim.
func spliceObjectType(schema json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(schema)
	if len(trimmed) < 2 || trimmed[0] != '{' {
		return schema
	}
	end := bytes.LastIndexByte(trimmed, '}')
	if end <= 0 {
		return schema
	}
	inner := bytes.TrimSpace(trimmed[1:end])
	out := make([]byte, 0, len(inner)+len(`{"type":"object",}`))
	out = append(out, `{"type":"object"`...)
	if len(inner) > 0 {
		out = append(out, ',')
		out = append(out, inner...)
	}
	out = append(out, '}')
	return out
}

// NormalizeTool validates and normalizes a single raw tool value. The value
// must be a JSON object with a non-empty string name; a missing inputSchema
// is replaced with the default empty object schema.
func NormalizeTool(raw json.RawMessage) (*ToolDescriptor, error) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(raw, &members); err != nil || members == nil {
		return nil, &MalformedToolError{Reason: "tool is not a JSON object"}
	}
	nameRaw, ok := members["name"]
	if !ok {
		return nil, &MalformedToolError{Reason: "tool has no name"}
	}
	var name string
	if err := json.Unmarshal(nameRaw, &name); err != nil || name == "" {
		return nil, &MalformedToolError{Reason: "tool name is not a non-empty string"}
	}
	td := &ToolDescriptor{Name: name, Extra: make(map[string]json.RawMessage)}
	for k, v := range members {
		switch k {
		case "name":
		case "description":
			td.Description = v
		case "inputSchema":
			td.InputSchema = NormalizeInputSchema(v)
		default:
			td.Extra[k] = v
		}
	}
	if td.InputSchema == nil {
		td.InputSchema = append(json.RawMessage(nil), defaultInputSchema...)
	}
	return td, nil
}

// NormalizeTools maps NormalizeTool over a raw tools array, preserving
// order and count. A value that is not an array yields an empty result so a
// defectively shaped upstream payload degrades to "no tools" instead of a
// failure; an element that fails validation surfaces MalformedToolError.
func NormalizeTools(list json.RawMessage) ([]json.RawMessage, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(list, &elems); err != nil {
		return []json.RawMessage{}, nil
	}
	out := make([]json.RawMessage, 0, len(elems))
	for _, elem := range elems {
		td, err := NormalizeTool(elem)
		if err != nil {
			return nil, err
		}
		enc, err := json.Marshal(td)
		if err != nil {
			return nil, err
		}
		out = append(out, enc)
	}
	return out, nil
}

// NormalizeToolsListResponse rewrites result.tools of a tools/list JSON-RPC
// response. It is the identity for error responses, for responses whose
// result carries no tools array, and for values that are not objects. All
// fields other than result.tools, including id, jsonrpc, and vendor
// extensions at either level, pass through byte-verbatim.
func NormalizeToolsListResponse(resp json.RawMessage) (json.RawMessage, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(resp, &top); err != nil || top == nil {
		return resp, nil
	}
	if _, hasErr := top["error"]; hasErr {
		return resp, nil
	}
	resultRaw, ok := top["result"]
	if !ok {
		return resp, nil
	}
	var result map[string]json.RawMessage
	if err := json.Unmarshal(resultRaw, &result); err != nil || result == nil {
		return resp, nil
	}
	toolsRaw, ok := result["tools"]
	if !ok || !isArray(toolsRaw) {
		return resp, nil
	}
	tools, err := NormalizeTools(toolsRaw)
	if err != nil {
		return nil, err
	}
	encTools, err := json.Marshal(tools)
	if err != nil {
		return nil, err
	}
	result["tools"] = encTools
	encResult, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	top["result"] = encResult
	return json.Marshal(top)
}

func isArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}
