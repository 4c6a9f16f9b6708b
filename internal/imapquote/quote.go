// Package imapquote encodes arbitrary byte strings as IMAP wire syntax,
// either a quoted string ("...") or a length-prefixed literal ({N}\r\n...).
package imapquote

import (
	"bytes"
	"strconv"
)

// AppendQuoted appends the IMAP wire representation of value to dst.
//
// A nil value appends the literal bytes "NIL". Otherwise value is emitted
// as a quoted string when it contains no NUL byte, no 8-bit byte, no CR or
// LF, and neither '"' nor '\\'; everything else is emitted as a literal
// ({N}\r\n<N bytes>). In both forms, runs of whitespace are collapsed to a
// single space, tabs are treated as spaces, and CR/LF bytes are dropped
// entirely - the literal length N accounts for the dropped bytes so it
// always matches what is actually written after it.
func AppendQuoted(dst *bytes.Buffer, value []byte) {
	if value == nil {
		dst.WriteString("NIL")
		return
	}

	seedSpace := endsInSpace(dst)
	literal, modify, linefeeds := classify(value, seedSpace)

	if !literal {
		dst.WriteByte('"')
	} else {
		dst.WriteByte('{')
		dst.WriteString(strconv.Itoa(len(value) - linefeeds))
		dst.WriteString("}\r\n")
	}

	if !modify {
		dst.Write(value)
	} else {
		appendBody(dst, value, seedSpace)
	}

	if !literal {
		dst.WriteByte('"')
	}
}

// classify performs the single scanning pass over value. seedSpace is
// whether the byte already in dst at the concatenation point is a space,
// since a leading space in value then collapses across that boundary too.
func classify(value []byte, seedSpace bool) (literal, modify bool, linefeeds int) {
	lastLwsp := seedSpace

	for _, b := range value {
		switch b {
		case 0:
			literal = true
			modify = true
			lastLwsp = false
		case '\t':
			modify = true
			lastLwsp = true
		case ' ':
			if lastLwsp {
				modify = true
			}
			lastLwsp = true
		case '\r', '\n':
			// A raw CR or LF can never appear in a quoted string, even
			// though the body rewrite below drops it: forces a literal.
			linefeeds++
			modify = true
			literal = true
		default:
			if b&0x80 != 0 || b == '"' || b == '\\' {
				literal = true
			}
			lastLwsp = false
		}
	}

	return literal, modify, linefeeds
}

// appendBody rewrites value applying the whitespace-collapse/CRLF-drop
// rules, seeding the running last-was-space flag from seedSpace.
func appendBody(dst *bytes.Buffer, value []byte, seedSpace bool) {
	lastWasSpace := seedSpace

	for _, b := range value {
		switch b {
		case 0:
			dst.WriteByte(0x80)
			lastWasSpace = false
		case ' ', '\t':
			if !lastWasSpace {
				dst.WriteByte(' ')
			}
			lastWasSpace = true
		case '\r', '\n':
			// dropped entirely
		default:
			lastWasSpace = false
			dst.WriteByte(b)
		}
	}
}

// endsInSpace reports whether the byte value will be appended after is a
// space - the "concatenation point" the classification pass seeds its
// first-space flag from, so a leading space in value collapses across it.
func endsInSpace(dst *bytes.Buffer) bool {
	b := dst.Bytes()
	return len(b) > 0 && b[len(b)-1] == ' '
}
