package extract

import (
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"flyercal/internal/model"
)

// fencedJSON matches the first ```json fenced block holding an object.
var fencedJSON = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")

// stageResult is the tagged outcome of one parsing stage.
type stageResult struct {
	stage  string
	fields model.Fields
	err    error
}

func (r stageResult) ok() bool { return r.err == nil }

var errNoFence = errors.New("no ```json fenced block")

// ParseResponse recovers the extraction fields from raw model output:
// first a ```json fenced block, then the whole text as JSON. The decoded
// value must be a JSON object. When both stages fail the error is a
// *ResponseParseError carrying raw.
func ParseResponse(raw string) (model.Fields, error) {
	fenced := parseFenced(raw)
	if fenced.ok() {
		return fenced.fields, nil
	}

	whole := parseWhole(raw)
	if whole.ok() {
		return whole.fields, nil
	}

	err := whole.err
	if !errors.Is(fenced.err, errNoFence) {
		err = fenced.err
	}
	return nil, &ResponseParseError{Raw: raw, Err: err}
}

func parseFenced(raw string) stageResult {
	m := fencedJSON.FindStringSubmatch(raw)
	if m == nil {
		return stageResult{stage: "fenced", err: errNoFence}
	}
	fields, err := decodeFields(m[1])
	return stageResult{stage: "fenced", fields: fields, err: err}
}

func parseWhole(raw string) stageResult {
	fields, err := decodeFields(strings.TrimSpace(raw))
	return stageResult{stage: "whole", fields: fields, err: err}
}

// decodeFields parses text as a JSON object and keeps the schema keys.
// null values count as absent; numbers and booleans are stringified.
func decodeFields(text string) (model.Fields, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.New("response JSON is null, not an object")
	}

	fields := make(model.Fields, len(model.Keys))
	for _, key := range model.Keys {
		v, ok := obj[key]
		if !ok {
			continue
		}
		switch tv := v.(type) {
		case nil:
		case string:
			fields[key] = tv
		case float64:
			fields[key] = strconv.FormatFloat(tv, 'f', -1, 64)
		case bool:
			fields[key] = strconv.FormatBool(tv)
		default:
			b, err := json.Marshal(tv)
			if err != nil {
				return nil, err
			}
			fields[key] = string(b)
		}
	}
	return fields, nil
}
