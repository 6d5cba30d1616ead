package mail

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	netmail "net/mail"
	"strings"
	"testing"

	"go-blogjobs/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type part struct {
	mediaType string
	filename  string
	body      []byte
}

// leafParts flattens a MIME body into its non-multipart parts.
func leafParts(t *testing.T, contentType, encoding, filename string, r io.Reader) []part {
	t.Helper()
	mediaType, params, err := mime.ParseMediaType(contentType)
	require.NoError(t, err)

	if strings.HasPrefix(mediaType, "multipart/") {
		var out []part
		mr := multipart.NewReader(r, params["boundary"])
		for {
			p, err := mr.NextPart()
			if err == io.EOF {
				return out
			}
			require.NoError(t, err)
			out = append(out, leafParts(t, p.Header.Get("Content-Type"),
				p.Header.Get("Content-Transfer-Encoding"), p.FileName(), p)...)
		}
	}

	if strings.EqualFold(encoding, "base64") {
		r = base64.NewDecoder(base64.StdEncoding, r)
	}
	body, err := io.ReadAll(r)
	require.NoError(t, err)
	return []part{{mediaType: mediaType, filename: filename, body: body}}
}

func TestComposeWithAttachment(t *testing.T) {
	data := []byte(strings.Repeat(`{"posts":[]}`, 20))
	raw, err := Compose(Message{
		Subject: "[Myblog] Your blog posts",
		From:    "admin@example.com",
		To:      []string{"susan@example.com"},
		Text:    "Your posts are attached.",
		HTML:    "<p>Your posts are attached.</p>",
		Attachments: []Attachment{
			{Filename: "posts.json", ContentType: "application/json", Data: data},
		},
	})
	require.NoError(t, err)

	msg, err := netmail.ReadMessage(bytes.NewReader(raw))
	require.NoError(t, err)

	to, err := msg.Header.AddressList("To")
	require.NoError(t, err)
	require.Len(t, to, 1)
	assert.Equal(t, "susan@example.com", to[0].Address)

	subject, err := new(mime.WordDecoder).DecodeHeader(msg.Header.Get("Subject"))
	require.NoError(t, err)
	assert.Equal(t, "[Myblog] Your blog posts", subject)

	mediaType, _, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/mixed", mediaType)

	parts := leafParts(t, msg.Header.Get("Content-Type"), msg.Header.Get("Content-Transfer-Encoding"), "", msg.Body)
	require.Len(t, parts, 3)

	assert.Equal(t, "text/plain", parts[0].mediaType)
	assert.Contains(t, string(parts[0].body), "Your posts are attached.")
	assert.Equal(t, "text/html", parts[1].mediaType)
	assert.Contains(t, string(parts[1].body), "<p>Your posts are attached.</p>")

	assert.Equal(t, "application/json", parts[2].mediaType)
	assert.Equal(t, "posts.json", parts[2].filename)
	assert.Equal(t, data, parts[2].body)
}

func TestComposeRejectsBadAddress(t *testing.T) {
	_, err := Compose(Message{From: "admin@example.com", To: []string{"not an address"}})
	assert.Error(t, err)
}

func TestNewWithoutServerLogs(t *testing.T) {
	m := New(SMTPConfig{}, logging.Discard())
	_, ok := m.(*Log)
	require.True(t, ok)
	assert.NoError(t, m.Send(context.Background(), Message{Subject: "hi"}))
}

func TestNewWithServer(t *testing.T) {
	m, ok := New(SMTPConfig{
		Host:     "smtp.example.com",
		Port:     587,
		UseTLS:   true,
		Username: "blog",
		Password: "secret",
	}, logging.Discard()).(*SMTP)
	require.True(t, ok)

	c, err := m.client()
	require.NoError(t, err)
	assert.Equal(t, 587, c.ServerPort())
}
