package mailer

import (
	"fmt"
	"mime"
	"mime/quotedprintable"
	"strings"
	"time"
)

var headerSanitizer = strings.NewReplacer("\r", "", "\n", "")

// headerAddress formats "Name <addr>", encoding non-ASCII names
func headerAddress(email, name string) string {
	email = headerSanitizer.Replace(email)
	name = strings.TrimSpace(headerSanitizer.Replace(name))
	if name == "" {
		return email
	}
	encoded := mime.BEncoding.Encode("utf-8", name)
	if encoded == name {
		encoded = fmt.Sprintf("\"%s\"", strings.ReplaceAll(name, `"`, `\"`))
	}
	return fmt.Sprintf("%s <%s>", encoded, email)
}

// buildRaw renders an RFC 5322 HTML message with a quoted-printable body
func buildRaw(from Identity, msg Message, now time.Time) []byte {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("From: %s\r\n", headerAddress(from.Address, msg.FromName)))
	b.WriteString(fmt.Sprintf("To: %s\r\n", headerSanitizer.Replace(msg.To)))
	if msg.ReplyTo != "" {
		b.WriteString(fmt.Sprintf("Reply-To: %s\r\n", headerSanitizer.Replace(msg.ReplyTo)))
	}
	b.WriteString(fmt.Sprintf("Date: %s\r\n", now.UTC().Format(time.RFC1123Z)))
	b.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", headerSanitizer.Replace(msg.Subject))))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: quoted-printable\r\n")
	b.WriteString("\r\n")

	w := quotedprintable.NewWriter(&b)
	w.Write([]byte(msg.HTMLBody))
	w.Close()
	b.WriteString("\r\n")

	return []byte(b.String())
}
