package provider

import (
	"bytes"
	"fmt"
	"mime"
	"mime/multipart"
	"net/textproto"
	"time"
)

// buildRFC2822 encodes a message as an RFC 2822 document. When both bodies
// are present the result is multipart/alternative with the plain part first,
// so clients that can't render HTML fall back cleanly.
func buildRFC2822(msg *Message) ([]byte, error) {
	var buf bytes.Buffer

	writeHeader := func(k, v string) {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
	}

	writeHeader("From", msg.From)
	writeHeader("To", msg.To)
	writeHeader("Subject", mime.QEncoding.Encode("UTF-8", msg.Subject))
	writeHeader("Date", time.Now().Format(time.RFC1123Z))
	writeHeader("MIME-Version", "1.0")

	switch {
	case msg.TextBody != "" && msg.HTMLBody != "":
		mw := multipart.NewWriter(&buf)
		writeHeader("Content-Type", `multipart/alternative; boundary="`+mw.Boundary()+`"`)
		buf.WriteString("\r\n")

		textPart, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type": {`text/plain; charset="UTF-8"`},
		})
		if err != nil {
			return nil, fmt.Errorf("create text part: %w", err)
		}
		textPart.Write([]byte(msg.TextBody))

		htmlPart, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type": {`text/html; charset="UTF-8"`},
		})
		if err != nil {
			return nil, fmt.Errorf("create html part: %w", err)
		}
		htmlPart.Write([]byte(msg.HTMLBody))

		if err := mw.Close(); err != nil {
			return nil, fmt.Errorf("close multipart: %w", err)
		}

	case msg.HTMLBody != "":
		writeHeader("Content-Type", `text/html; charset="UTF-8"`)
		buf.WriteString("\r\n")
		buf.WriteString(msg.HTMLBody)

	default:
		writeHeader("Content-Type", `text/plain; charset="UTF-8"`)
		buf.WriteString("\r\n")
		buf.WriteString(msg.TextBody)
	}

	return buf.Bytes(), nil
}
