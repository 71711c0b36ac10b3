// Package pathcodec implements spec.md section 4.1: the C-style quoted
// path codec git fast-export/fast-import use for paths containing bytes
// that would otherwise be ambiguous in the line-oriented stream grammar.
//
// Grounded on the teacher's stringScan/quotifyIfNeeded
// (surgeon/reposurgeon.go FileOp.parse/FileOp.Save) for the overall
// quote/unquote shape, and on filter-repo-rs's dequote_c_style_bytes /
// enquote_c_style_bytes (pathutil.rs) for the exact escape table, which
// spec.md section 4.1 names explicitly (\\, \", \n, \r, \t, \b, \f, \a,
// \v, \NNN octal).
package pathcodec

import "strconv"

// NeedsQuote reports whether path must be C-quoted when serialized:
// anything below 0x20, the quote character, the backslash, or (checked by
// the caller when its locale/compat policy asks for it) bytes >= 0x80.
func NeedsQuote(path []byte) bool {
	for _, b := range path {
		if b < 0x20 || b == '"' || b == '\\' || b == 0x7F {
			return true
		}
	}
	return false
}

// Encode produces the on-wire representation of path: raw bytes if no
// byte requires quoting, or a "-wrapped, backslash-escaped form otherwise.
// Round-trip law: Decode(Encode(b)) == b for every byte string b.
func Encode(path []byte) []byte {
	if !NeedsQuote(path) {
		return append([]byte(nil), path...)
	}
	out := make([]byte, 0, len(path)+2)
	out = append(out, '"')
	for _, b := range path {
		switch b {
		case '"':
			out = append(out, '\\', '"')
		case '\\':
			out = append(out, '\\', '\\')
		case '\n':
			out = append(out, '\\', 'n')
		case '\r':
			out = append(out, '\\', 'r')
		case '\t':
			out = append(out, '\\', 't')
		case '\b':
			out = append(out, '\\', 'b')
		case '\f':
			out = append(out, '\\', 'f')
		case '\a':
			out = append(out, '\\', 'a')
		case '\v':
			out = append(out, '\\', 'v')
		default:
			if b < 0x20 || b == 0x7F {
				o1 := (b>>6)&0x7 + '0'
				o2 := (b>>3)&0x7 + '0'
				o3 := b&0x7 + '0'
				out = append(out, '\\', o1, o2, o3)
			} else {
				out = append(out, b)
			}
		}
	}
	out = append(out, '"')
	return out
}

// Decode parses a path as it appears in a fast-export stream: either raw
// bytes (no surrounding quotes) or a C-quoted token, which it unescapes.
// The returned slice never includes the surrounding quotes.
func Decode(token []byte) []byte {
	if len(token) < 2 || token[0] != '"' || token[len(token)-1] != '"' {
		return append([]byte(nil), token...)
	}
	return unescape(token[1 : len(token)-1])
}

func unescape(s []byte) []byte {
	out := make([]byte, 0, len(s))
	i := 0
	for i < len(s) {
		b := s[i]
		i++
		if b != '\\' {
			out = append(out, b)
			continue
		}
		if i >= len(s) {
			out = append(out, '\\')
			break
		}
		c := s[i]
		i++
		switch c {
		case '\\':
			out = append(out, '\\')
		case '"':
			out = append(out, '"')
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case 't':
			out = append(out, '\t')
		case 'b':
			out = append(out, '\b')
		case 'f':
			out = append(out, '\f')
		case 'a':
			out = append(out, '\a')
		case 'v':
			out = append(out, '\v')
		case '0', '1', '2', '3', '4', '5', '6', '7':
			val := int(c - '0')
			count := 0
			for count < 2 && i < len(s) && s[i] >= '0' && s[i] <= '7' {
				val = val<<3 | int(s[i]-'0')
				i++
				count++
			}
			out = append(out, byte(val))
		default:
			out = append(out, c)
		}
	}
	return out
}

// QuoteIfNeeded mirrors the teacher's FileOp.Save quotifyIfNeeded helper:
// paths containing internal whitespace are double-quoted (Go %q form) so
// that fileop argument splitting on whitespace remains unambiguous even
// when the byte-level NeedsQuote test wouldn't otherwise require it.
func QuoteIfNeeded(path string) string {
	for _, r := range path {
		if r == ' ' || r == '\t' {
			return strconv.Quote(path)
		}
	}
	return path
}
