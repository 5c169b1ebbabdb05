package message

import (
	"fmt"
	"io"
	"strconv"

	"github.com/valyala/bytebufferpool"
	"golang.org/x/net/http/httpguts"
)

// Responses always name HTTP/1.1 on the status line, whatever version
// the request used.
const responseProto = "HTTP/1.1"

// WriteResponse serializes resp and writes it to w in a single call.
// Content-Length is never added here; handlers that want it set it.
func WriteResponse(w io.Writer, resp *Response) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	if err := appendResponse(buf, resp); err != nil {
		return err
	}
	_, err := w.Write(buf.B)
	return err
}

// Serialize returns the wire form of resp.
func Serialize(resp *Response) ([]byte, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	if err := appendResponse(buf, resp); err != nil {
		return nil, err
	}
	out := make([]byte, buf.Len())
	copy(out, buf.B)
	return out, nil
}

func appendResponse(buf *bytebufferpool.ByteBuffer, resp *Response) error {
	buf.WriteString(responseProto)
	buf.WriteByte(' ')
	buf.B = strconv.AppendInt(buf.B, int64(resp.Status), 10)
	buf.WriteByte(' ')
	buf.WriteString(StatusText(resp.Status))
	buf.WriteString("\r\n")

	for _, f := range resp.Header.fields {
		if !httpguts.ValidHeaderFieldName(f.Name) || !representable(f.Value) {
			return fmt.Errorf("%w: %q", ErrUnrepresentableHeader, f.Name)
		}
		buf.WriteString(f.Name)
		buf.WriteString(": ")
		buf.WriteString(f.Value)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	buf.WriteString(resp.Body)
	return nil
}

// representable reports whether v consists only of visible ASCII,
// spaces and tabs.
func representable(v string) bool {
	if !httpguts.ValidHeaderFieldValue(v) {
		return false
	}
	for i := 0; i < len(v); i++ {
		if v[i] >= 0x80 {
			return false
		}
	}
	return true
}
