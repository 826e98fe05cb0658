package protocol

import (
	"bytes"
	"strings"
	"unicode"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// IsCompleteJSON reports whether b parses as a single JSON value of any kind
// (object, array, string, number, boolean or null).
func IsCompleteJSON(b []byte) bool {
	if len(bytes.TrimSpace(b)) == 0 {
		return false
	}
	var v structpb.Value
	return protojson.Unmarshal(b, &v) == nil
}

// Reassembler accumulates notified fragments until they form a complete
// message. There is no length prefix on the wire; a message is complete when
// the buffered bytes parse as structured data.
//
// The zero value is ready to use and checks for JSON. A Reassembler never
// clears itself: after Append reports completion the caller reads the
// message and calls Reset.
type Reassembler struct {
	buf []byte

	// Complete overrides the completeness check. Nil means IsCompleteJSON.
	Complete func([]byte) bool
}

// Append adds fragment to the buffer and reports whether the buffer now
// holds a complete message. Empty fragments are ignored, and so are
// whitespace-only fragments while the buffer is empty. Once a message has
// started every byte is kept.
func (r *Reassembler) Append(fragment []byte) bool {
	if len(fragment) == 0 {
		return false
	}
	if len(r.buf) == 0 && len(bytes.TrimSpace(fragment)) == 0 {
		return false
	}
	r.buf = append(r.buf, fragment...)
	complete := r.Complete
	if complete == nil {
		complete = IsCompleteJSON
	}
	return complete(r.buf)
}

// Bytes returns a copy of the buffered bytes.
func (r *Reassembler) Bytes() []byte {
	return bytes.Clone(r.buf)
}

// String returns the buffered bytes as text.
func (r *Reassembler) String() string { return string(r.buf) }

// Len returns the number of buffered bytes.
func (r *Reassembler) Len() int { return len(r.buf) }

// Reset discards the buffered bytes.
func (r *Reassembler) Reset() { r.buf = r.buf[:0] }

// IsLenientJSON accepts everything IsCompleteJSON does, plus a single bare
// token such as an unquoted device name. Whitespace inside the token or any
// JSON punctuation makes it incomplete.
func IsLenientJSON(b []byte) bool {
	if IsCompleteJSON(b) {
		return true
	}
	token := bytes.TrimSpace(b)
	if len(token) == 0 || !utf8.Valid(token) {
		return false
	}
	return bytes.IndexFunc(token, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune(`{}[]":,`, r)
	}) < 0
}
