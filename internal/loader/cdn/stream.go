// Package cdn implements the track loader's ranged-GET byte stream (spec
// §4.6 step 5/6): a resumable reader over a CDN URL, transparently
// AES-CTR-decrypting for provider-A content keys and passing provider-B
// bytes through in cleartext.
package cdn

import (
	"io"
	"net/http"

	"github.com/tobiasguyer/streamcore32/internal/crypto/aesctr"
	"github.com/tobiasguyer/streamcore32/internal/errors"
	"github.com/tobiasguyer/streamcore32/internal/httpapi"
)

// Stream is a single provider track's byte source, open at some
// base_offset-relative position. Reopening after a seek or a reconnect
// replaces resp/reader but keeps the accumulated byte counter semantics
// the caller (player/loader) expects: Pos always reports bytes consumed
// since BaseOffset.
type Stream struct {
	client     *httpapi.Client
	url        string
	baseOffset int64
	contentKey []byte // nil/empty => cleartext (provider B)
	headers    map[string]string

	pos    int64
	resp   *http.Response
	reader io.Reader
}

// New constructs a Stream for url starting at baseOffset (the first
// usable frame's byte position, from the probe step). contentKey is nil
// for provider B's cleartext CDN.
func New(client *httpapi.Client, url string, baseOffset int64, contentKey []byte, headers map[string]string) *Stream {
	return &Stream{client: client, url: url, baseOffset: baseOffset, contentKey: contentKey, headers: headers}
}

// Pos reports the number of bytes read since BaseOffset.
func (s *Stream) Pos() int64 { return s.pos }

// Open issues the initial ranged GET at byteOffset (relative to
// BaseOffset) and wires up decryption if a content key was provided.
func (s *Stream) Open(byteOffset int64) error {
	s.closeResp()
	resp, err := s.client.GetRanged(s.url, s.baseOffset+byteOffset, s.headers)
	if err != nil {
		return errors.NewTransientNetworkError("cdn.open", err)
	}
	if httpapi.IsResumeEOF(resp) {
		httpapi.DrainAndClose(resp)
		s.resp = nil
		s.reader = eofReader{}
		s.pos = byteOffset
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		httpapi.DrainAndClose(resp)
		return errors.NewTransientNetworkError("cdn.open", httpStatusError(resp.StatusCode))
	}
	s.resp = resp
	s.pos = byteOffset
	if len(s.contentKey) == 0 {
		s.reader = resp.Body
		return nil
	}
	dr, err := aesctr.NewReader(s.contentKey, byteOffset, resp.Body.Read)
	if err != nil {
		httpapi.DrainAndClose(resp)
		return err
	}
	s.reader = dr
	return nil
}

// Read pulls up to len(p) bytes, advancing Pos. A short read that is not
// EOF is treated by the caller as a network hiccup to reconnect from
// (spec §4.6 "network short read -> reconnect and continue from last
// byte counter"); Read itself just reports what happened.
func (s *Stream) Read(p []byte) (int, error) {
	if s.reader == nil {
		return 0, errors.NewTransientNetworkError("cdn.read", errStreamNotOpen)
	}
	n, err := s.reader.Read(p)
	s.pos += int64(n)
	if err != nil && err != io.EOF {
		return n, errors.NewTransientNetworkError("cdn.read", err)
	}
	return n, err
}

// Reopen closes the current response (if any) and reopens at byteOffset,
// used both for a seek and for resuming after a transient read error.
func (s *Stream) Reopen(byteOffset int64) error {
	return s.Open(byteOffset)
}

// Close tears down the in-flight response.
func (s *Stream) Close() {
	s.closeResp()
}

func (s *Stream) closeResp() {
	if s.resp != nil {
		httpapi.DrainAndClose(s.resp)
		s.resp = nil
	}
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }

type httpStatusErr struct{ code int }

func (e httpStatusErr) Error() string {
	return "cdn: unexpected status " + http.StatusText(e.code)
}

func httpStatusError(code int) error { return httpStatusErr{code: code} }

type notOpenErr struct{}

func (notOpenErr) Error() string { return "cdn: stream not open" }

var errStreamNotOpen = notOpenErr{}
