package transmit

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"
	"time"

	"github.com/ignite/campaign-dispatcher/internal/domain"
)

// ErrHeaderInjection is returned when an address or subject carries a line break.
var ErrHeaderInjection = errors.New("header value contains a line break")

const lineLen = 76

// BuildMessage renders msg as an RFC 5322 message sent from `from`. Bodies
// and attachments are base64 encoded; attachments produce multipart/mixed.
func BuildMessage(from string, msg *domain.OutboundMessage, now time.Time) ([]byte, error) {
	for _, v := range []string{from, msg.To, msg.Subject} {
		if strings.ContainsAny(v, "\r\n") {
			return nil, ErrHeaderInjection
		}
	}

	var buf bytes.Buffer
	writeHeader(&buf, "From", from)
	writeHeader(&buf, "To", msg.To)
	writeHeader(&buf, "Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	writeHeader(&buf, "Date", now.Format(time.RFC1123Z))
	writeHeader(&buf, "MIME-Version", "1.0")
	if msg.CampaignID != "" {
		writeHeader(&buf, "X-Campaign-ID", msg.CampaignID)
	}

	bodyType := "text/plain"
	if msg.HTML {
		bodyType = "text/html"
	}
	bodyContentType := mime.FormatMediaType(bodyType, map[string]string{"charset": "UTF-8"})

	if len(msg.Attachments) == 0 {
		writeHeader(&buf, "Content-Type", bodyContentType)
		writeHeader(&buf, "Content-Transfer-Encoding", "base64")
		buf.WriteString("\r\n")
		if err := writeBase64(&buf, []byte(msg.Body)); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	mw := multipart.NewWriter(&buf)
	writeHeader(&buf, "Content-Type", mime.FormatMediaType("multipart/mixed", map[string]string{"boundary": mw.Boundary()}))
	buf.WriteString("\r\n")

	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {bodyContentType},
		"Content-Transfer-Encoding": {"base64"},
	})
	if err != nil {
		return nil, err
	}
	if err := writeBase64(part, []byte(msg.Body)); err != nil {
		return nil, err
	}

	for _, a := range msg.Attachments {
		ct := a.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {mime.FormatMediaType(ct, map[string]string{"name": a.Filename})},
			"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": a.Filename})},
			"Content-Transfer-Encoding": {"base64"},
		})
		if err != nil {
			return nil, err
		}
		if err := writeBase64(part, a.Content); err != nil {
			return nil, fmt.Errorf("attachment %s: %w", a.Filename, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeHeader(buf *bytes.Buffer, key, value string) {
	buf.WriteString(key)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteString("\r\n")
}

func writeBase64(w io.Writer, data []byte) error {
	enc := base64.StdEncoding.EncodeToString(data)
	for len(enc) > lineLen {
		if _, err := io.WriteString(w, enc[:lineLen]+"\r\n"); err != nil {
			return err
		}
		enc = enc[lineLen:]
	}
	_, err := io.WriteString(w, enc+"\r\n")
	return err
}
