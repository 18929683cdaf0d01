package protocol

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// State is one telemetry record from the drone's state port, keyed by field name
// (pitch, roll, yaw, vgx, bat, baro, tof, ...).
type State map[string]float64

// ParseState decodes a "key:value;key:value;...\r\n" telemetry record.
// A comma-separated value such as SDK 2.0's "mpry:0,0,0" is stored as one
// field per element ("mpry.0", "mpry.1", ...). Segments that are malformed or
// not numeric are skipped; the record fails only when no field survives.
func ParseState(raw string) (State, error) {
	s := State{}
	var skipped []string
	for _, seg := range strings.Split(strings.TrimSpace(raw), ";") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		key, val, ok := strings.Cut(seg, ":")
		if !ok || key == "" {
			skipped = append(skipped, seg)
			continue
		}
		if !strings.Contains(val, ",") {
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				skipped = append(skipped, seg)
				continue
			}
			s[key] = f
			continue
		}
		parts := strings.Split(val, ",")
		vals := make([]float64, 0, len(parts))
		for _, p := range parts {
			f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				break
			}
			vals = append(vals, f)
		}
		if len(vals) != len(parts) {
			skipped = append(skipped, seg)
			continue
		}
		for i, f := range vals {
			s[key+"."+strconv.Itoa(i)] = f
		}
	}
	if len(s) == 0 {
		if len(skipped) > 0 {
			return nil, fmt.Errorf("state record has no numeric fields (skipped %q)", skipped)
		}
		return nil, fmt.Errorf("state record is empty")
	}
	return s, nil
}

// Battery returns the reported battery percentage.
func (s State) Battery() (int, bool) {
	v, ok := s["bat"]
	return int(v), ok
}

// String renders the record back into wire form with keys sorted.
func (s State) String() string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(strconv.FormatFloat(s[k], 'f', -1, 64))
		b.WriteByte(';')
	}
	return b.String()
}
