package normalize

import (
	"strconv"
	"strings"
	"unicode"
)

// parseLiteral decodes a Python-style literal: numbers, booleans,
// None, single- or double-quoted strings, and nested lists, tuples,
// and dicts of the same. It is a data-only parse; nothing is ever
// evaluated. Returns false when the input is not a complete literal.
func parseLiteral(s string) (any, bool) {
	p := &literalParser{input: s}
	value, ok := p.value()
	if !ok {
		return nil, false
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return nil, false
	}
	return value, true
}

type literalParser struct {
	input string
	pos   int
}

func (p *literalParser) skipSpace() {
	for p.pos < len(p.input) && unicode.IsSpace(rune(p.input[p.pos])) {
		p.pos++
	}
}

func (p *literalParser) peek() byte {
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *literalParser) value() (any, bool) {
	p.skipSpace()
	switch c := p.peek(); {
	case c == '\'' || c == '"':
		return p.stringLit()
	case c == '[':
		return p.seq('[', ']')
	case c == '(':
		return p.seq('(', ')')
	case c == '{':
		return p.dict()
	case c == '-' || c == '+' || (c >= '0' && c <= '9'):
		return p.number()
	default:
		return p.keyword()
	}
}

func (p *literalParser) keyword() (any, bool) {
	for _, kw := range []struct {
		word  string
		value any
	}{
		{"None", nil},
		{"True", true},
		{"False", false},
		{"null", nil},
		{"true", true},
		{"false", false},
	} {
		if strings.HasPrefix(p.input[p.pos:], kw.word) {
			p.pos += len(kw.word)
			return kw.value, true
		}
	}
	return nil, false
}

func (p *literalParser) number() (any, bool) {
	start := p.pos
	if c := p.peek(); c == '-' || c == '+' {
		p.pos++
	}
	digits := false
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if c >= '0' && c <= '9' {
			digits = true
			p.pos++
			continue
		}
		if c == '.' || c == 'e' || c == 'E' || c == '-' || c == '+' {
			p.pos++
			continue
		}
		break
	}
	if !digits {
		return nil, false
	}
	text := p.input[start:p.pos]
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, false
	}
	return f, true
}

func (p *literalParser) stringLit() (any, bool) {
	quote := p.input[p.pos]
	p.pos++
	var b strings.Builder
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		switch c {
		case quote:
			p.pos++
			return b.String(), true
		case '\\':
			p.pos++
			if p.pos >= len(p.input) {
				return nil, false
			}
			switch esc := p.input[p.pos]; esc {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			default:
				b.WriteByte(esc)
			}
			p.pos++
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	return nil, false
}

func (p *literalParser) seq(open, closing byte) (any, bool) {
	p.pos++ // consume open
	out := []any{}
	for {
		p.skipSpace()
		if p.peek() == closing {
			p.pos++
			return out, true
		}
		elem, ok := p.value()
		if !ok {
			return nil, false
		}
		out = append(out, elem)
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case closing:
		default:
			return nil, false
		}
	}
}

func (p *literalParser) dict() (any, bool) {
	p.pos++ // consume '{'
	out := map[string]any{}
	for {
		p.skipSpace()
		if p.peek() == '}' {
			p.pos++
			return out, true
		}
		key, ok := p.value()
		if !ok {
			return nil, false
		}
		keyText, ok := key.(string)
		if !ok {
			keyText = literalKeyString(key)
		}
		p.skipSpace()
		if p.peek() != ':' {
			return nil, false
		}
		p.pos++
		elem, ok := p.value()
		if !ok {
			return nil, false
		}
		out[keyText] = elem
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case '}':
		default:
			return nil, false
		}
	}
}

// literalKeyString renders non-string dict keys (numbers, bools) the
// way JSON object keys would look after a round trip.
func literalKeyString(key any) string {
	switch v := key.(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return "null"
	default:
		return ""
	}
}
