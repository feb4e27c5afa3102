// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package convert

import (
	"strconv"
	"strings"
)

// wordGap is the TJ displacement, in thousandths of text space, treated
// as a space between words.
const wordGap = 200

// extractText recovers the text shown by a PDF content stream. It follows
// the text-showing operators (Tj, TJ, ', ") and breaks lines on T*, on
// Td/TD/Tm moves that change the baseline, and at the end of each text
// object. Strings are decoded byte for byte, so text in fonts with custom
// encodings comes out garbled.
func extractText(stream []byte) string {
	s := &scanner{src: stream}
	var out strings.Builder
	var operands []operand
	lastY := 0.0
	haveY := false

	newline := func() {
		str := out.String()
		if len(str) > 0 && str[len(str)-1] != '\n' {
			out.WriteByte('\n')
		}
	}

	for {
		tok, ok := s.next()
		if !ok {
			break
		}
		if tok.kind != kindOperator {
			operands = append(operands, tok)
			continue
		}

		switch tok.text {
		case "Tj":
			writeLast(&out, operands)
		case "'", "\"":
			newline()
			writeLast(&out, operands)
		case "TJ":
			if n := len(operands); n > 0 && operands[n-1].kind == kindArray {
				for _, el := range operands[n-1].items {
					switch el.kind {
					case kindString:
						out.WriteString(el.text)
					case kindNumber:
						if el.num <= -wordGap {
							out.WriteByte(' ')
						}
					}
				}
			}
		case "T*", "ET":
			newline()
		case "Td", "TD":
			if n := len(operands); n >= 2 && operands[n-1].num != 0 {
				newline()
			} else if n >= 2 && operands[n-2].num > 0 {
				out.WriteByte(' ')
			}
		case "Tm":
			if n := len(operands); n >= 6 {
				y := operands[n-1].num
				if haveY && y != lastY {
					newline()
				}
				lastY, haveY = y, true
			}
		}
		operands = operands[:0]
	}
	return tidyLines(out.String())
}

func writeLast(out *strings.Builder, operands []operand) {
	if n := len(operands); n > 0 && operands[n-1].kind == kindString {
		out.WriteString(operands[n-1].text)
	}
}

// tidyLines trims each line, collapses internal runs of spaces, and keeps
// at most one blank line in a row.
func tidyLines(s string) string {
	var b strings.Builder
	blank := 0
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			blank++
			continue
		}
		if b.Len() > 0 {
			if blank > 0 {
				b.WriteString("\n\n")
			} else {
				b.WriteByte('\n')
			}
		}
		blank = 0
		b.WriteString(line)
	}
	return b.String()
}

type operandKind int

const (
	kindOperator operandKind = iota
	kindNumber
	kindString
	kindName
	kindArray
	kindOther
)

type operand struct {
	kind  operandKind
	text  string
	num   float64
	items []operand
}

type scanner struct {
	src []byte
	pos int
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t' || c == '\f' || c == 0
}

func isDelim(c byte) bool {
	return strings.IndexByte("()<>[]{}/%", c) >= 0
}

// next returns the next token or operand. Arrays are returned whole.
func (s *scanner) next() (operand, bool) {
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch {
		case isSpace(c):
			s.pos++
		case c == '%':
			for s.pos < len(s.src) && s.src[s.pos] != '\n' && s.src[s.pos] != '\r' {
				s.pos++
			}
		case c == '(':
			s.pos++
			return operand{kind: kindString, text: s.literal()}, true
		case c == '<':
			if s.pos+1 < len(s.src) && s.src[s.pos+1] == '<' {
				s.pos += 2
				return operand{kind: kindOther, text: "<<"}, true
			}
			s.pos++
			return operand{kind: kindString, text: s.hex()}, true
		case c == '>':
			s.pos++
			if s.pos < len(s.src) && s.src[s.pos] == '>' {
				s.pos++
			}
			return operand{kind: kindOther, text: ">>"}, true
		case c == '[':
			s.pos++
			arr := operand{kind: kindArray}
			for {
				el, ok := s.next()
				if !ok || (el.kind == kindOther && el.text == "]") {
					break
				}
				arr.items = append(arr.items, el)
			}
			return arr, true
		case c == ']':
			s.pos++
			return operand{kind: kindOther, text: "]"}, true
		case c == '/':
			s.pos++
			return operand{kind: kindName, text: s.word()}, true
		case c == '{' || c == '}':
			s.pos++
			return operand{kind: kindOther, text: string(c)}, true
		default:
			w := s.word()
			if w == "" {
				s.pos++
				continue
			}
			if f, err := strconv.ParseFloat(w, 64); err == nil {
				return operand{kind: kindNumber, num: f, text: w}, true
			}
			return operand{kind: kindOperator, text: w}, true
		}
	}
	return operand{}, false
}

func (s *scanner) word() string {
	start := s.pos
	for s.pos < len(s.src) && !isSpace(s.src[s.pos]) && !isDelim(s.src[s.pos]) {
		s.pos++
	}
	return string(s.src[start:s.pos])
}

// literal reads a (string) after the opening parenthesis, handling nested
// parentheses and backslash escapes.
func (s *scanner) literal() string {
	var b strings.Builder
	depth := 1
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		s.pos++
		switch c {
		case '(':
			depth++
			b.WriteByte(c)
		case ')':
			depth--
			if depth == 0 {
				return decodeBytes(b.String())
			}
			b.WriteByte(c)
		case '\\':
			if s.pos >= len(s.src) {
				continue
			}
			e := s.src[s.pos]
			s.pos++
			switch e {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case 'b', 'f':
			case '\r', '\n':
				if e == '\r' && s.pos < len(s.src) && s.src[s.pos] == '\n' {
					s.pos++
				}
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for i := 0; i < 2 && s.pos < len(s.src) && s.src[s.pos] >= '0' && s.src[s.pos] <= '7'; i++ {
						v = v*8 + int(s.src[s.pos]-'0')
						s.pos++
					}
					b.WriteByte(byte(v))
				} else {
					b.WriteByte(e)
				}
			}
		default:
			b.WriteByte(c)
		}
	}
	return decodeBytes(b.String())
}

// hex reads a <hex string> after the opening bracket.
func (s *scanner) hex() string {
	var digits []byte
	for s.pos < len(s.src) && s.src[s.pos] != '>' {
		c := s.src[s.pos]
		if !isSpace(c) {
			digits = append(digits, c)
		}
		s.pos++
	}
	s.pos++
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	raw := make([]byte, 0, len(digits)/2)
	for i := 0; i+1 < len(digits); i += 2 {
		v, err := strconv.ParseUint(string(digits[i:i+2]), 16, 8)
		if err != nil {
			return ""
		}
		raw = append(raw, byte(v))
	}
	// Two-byte glyph ids are common in hex strings; keep them only when
	// they decode as UTF-16BE text.
	if len(raw) >= 2 && len(raw)%2 == 0 && raw[0] == 0 {
		var b strings.Builder
		for i := 0; i+1 < len(raw); i += 2 {
			r := rune(raw[i])<<8 | rune(raw[i+1])
			if r >= 0x20 {
				b.WriteRune(r)
			}
		}
		return b.String()
	}
	return decodeBytes(string(raw))
}

// decodeBytes maps single-byte text to runes as Latin-1, dropping control
// characters other than newline and tab.
func decodeBytes(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\n' || c == '\t':
			b.WriteByte(' ')
		case c < 0x20 || c == 0x7f:
		case c < 0x80:
			b.WriteByte(c)
		default:
			b.WriteRune(rune(c))
		}
	}
	return b.String()
}
