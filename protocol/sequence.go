package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// InvalidInputError is returned when a command sequence is not an ordered list of strings.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "invalid command sequence: " + e.Reason
}

// DecodeSequence parses a JSON array of command strings.
// Anything else, including a bare string or null, is an InvalidInputError.
func DecodeSequence(data []byte) ([]string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, &InvalidInputError{Reason: "empty input"}
	}
	if trimmed[0] != '[' {
		return nil, &InvalidInputError{Reason: fmt.Sprintf("expected a JSON array, got %s", describeJSON(trimmed))}
	}
	var cmds []string
	if err := json.Unmarshal(trimmed, &cmds); err != nil {
		return nil, &InvalidInputError{Reason: err.Error()}
	}
	return cmds, nil
}

func describeJSON(b []byte) string {
	switch b[0] {
	case '"':
		return "string"
	case '{':
		return "object"
	case 'n':
		return "null"
	case 't', 'f':
		return "boolean"
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return "number"
	default:
		return "invalid JSON"
	}
}
