package form

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

// object keeps members in the order a browser's JSON.parse would: array
// index keys ascending, then the rest in insertion order. A repeated key
// keeps its first position and its last value.
type object struct {
	keys []string
	vals map[string]interface{}
}

// prettyJSON re-serializes body with two-space indentation, the way
// JSON.stringify(JSON.parse(body), null, 2) does: escapes are decoded,
// numbers are printed in shortest form and out-of-range numbers become null.
func prettyJSON(body []byte) (string, error) {
	return stringify(body, "  ")
}

// stringify parses body and prints it indented by step, or compact when
// step is empty.
func stringify(body []byte, step string) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	v, err := decodeValue(dec)
	if err != nil {
		return "", err
	}
	if _, err := dec.Token(); err != io.EOF {
		return "", errors.New("unexpected data after top-level value")
	}

	w := &writer{step: step}
	w.value(v, "")
	return w.b.String(), nil
}

func decodeValue(dec *json.Decoder) (interface{}, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := &object{vals: map[string]interface{}{}}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, _ := keyTok.(string)
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				if _, seen := obj.vals[key]; !seen {
					obj.keys = append(obj.keys, key)
				}
				obj.vals[key] = val
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			sortIndexKeys(obj.keys)
			return obj, nil
		case '[':
			list := []interface{}{}
			for dec.More() {
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				list = append(list, val)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return list, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %q", t)
	default:
		return tok, nil
	}
}

// sortIndexKeys moves array index keys to the front in numeric order.
func sortIndexKeys(keys []string) {
	sort.SliceStable(keys, func(i, j int) bool {
		ni, iok := arrayIndex(keys[i])
		nj, jok := arrayIndex(keys[j])
		switch {
		case iok && jok:
			return ni < nj
		default:
			return iok && !jok
		}
	})
}

func arrayIndex(key string) (uint64, bool) {
	if key == "" || (len(key) > 1 && key[0] == '0') {
		return 0, false
	}
	n, err := strconv.ParseUint(key, 10, 32)
	if err != nil || n == math.MaxUint32 {
		return 0, false
	}
	return n, true
}

type writer struct {
	b    strings.Builder
	step string
}

// newline starts a nested line, or nothing in compact mode.
func (w *writer) newline(indent string) {
	if w.step != "" {
		w.b.WriteString("\n" + indent)
	}
}

func (w *writer) value(v interface{}, indent string) {
	switch t := v.(type) {
	case nil:
		w.b.WriteString("null")
	case bool:
		w.b.WriteString(strconv.FormatBool(t))
	case json.Number:
		w.b.WriteString(jsNumber(t))
	case string:
		w.b.WriteString(quote(t))
	case []interface{}:
		if len(t) == 0 {
			w.b.WriteString("[]")
			return
		}
		inner := indent + w.step
		w.b.WriteString("[")
		for i, item := range t {
			if i > 0 {
				w.b.WriteString(",")
			}
			w.newline(inner)
			w.value(item, inner)
		}
		w.newline(indent)
		w.b.WriteString("]")
	case *object:
		if len(t.keys) == 0 {
			w.b.WriteString("{}")
			return
		}
		inner := indent + w.step
		sep := ":"
		if w.step != "" {
			sep = ": "
		}
		w.b.WriteString("{")
		for i, key := range t.keys {
			if i > 0 {
				w.b.WriteString(",")
			}
			w.newline(inner)
			w.b.WriteString(quote(key) + sep)
			w.value(t.vals[key], inner)
		}
		w.newline(indent)
		w.b.WriteString("}")
	}
}

// jsNumber formats n like Number.prototype.toString.
func jsNumber(n json.Number) string {
	f, _ := strconv.ParseFloat(string(n), 64)
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return "null"
	}
	if f == 0 {
		return "0"
	}

	if abs := math.Abs(f); abs >= 1e21 || abs < 1e-6 {
		s := strconv.FormatFloat(f, 'e', -1, 64)
		mant, exp, _ := strings.Cut(s, "e")
		return mant + "e" + exp[:1] + strings.TrimLeft(exp[1:], "0")
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(&b, `\u%04x`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}
