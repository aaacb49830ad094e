package cdn

import (
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/tobiasguyer/streamcore32/internal/crypto/aesctr"
	"github.com/tobiasguyer/streamcore32/internal/httpapi"
)

func testClient(t *testing.T) *httpapi.Client {
	t.Helper()
	c, err := httpapi.New(filepath.Join(t.TempDir(), "cookies.json"))
	if err != nil {
		t.Fatalf("httpapi.New: %v", err)
	}
	return c
}

func TestStream_CleartextReadsBody(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	s := New(testClient(t), srv.URL, 0, nil, nil)
	if err := s.Open(0); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	got, err := io.ReadAll(s)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("want payload %q, got %q", payload, got)
	}
	if s.Pos() != int64(len(payload)) {
		t.Fatalf("want pos %d, got %d", len(payload), s.Pos())
	}
}

func TestStream_DecryptsWithContentKey(t *testing.T) {
	plaintext := []byte("0123456789abcdef0123456789abcdef") // 32 bytes, 2 blocks
	key := []byte("0123456789abcdef")

	stream := aesctrStreamForTest(t, key, 0)
	ciphertext := make([]byte, len(plaintext))
	stream.XORKeyStream(ciphertext, plaintext)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(ciphertext)
	}))
	defer srv.Close()

	s := New(testClient(t), srv.URL, 0, key, nil)
	if err := s.Open(0); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	got, err := io.ReadAll(s)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("want decrypted plaintext %q, got %q", plaintext, got)
	}
}

func aesctrStreamForTest(t *testing.T, key []byte, offset int64) interface {
	XORKeyStream(dst, src []byte)
} {
	t.Helper()
	st, err := aesctr.NewStream(key, offset)
	if err != nil {
		t.Fatalf("aesctr.NewStream: %v", err)
	}
	return st
}

func TestStream_ResumeEOFOn416(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
	}))
	defer srv.Close()

	s := New(testClient(t), srv.URL, 0, nil, nil)
	if err := s.Open(0); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	buf := make([]byte, 16)
	n, err := s.Read(buf)
	if n != 0 || err != io.EOF {
		t.Fatalf("want clean EOF on resume-416, got n=%d err=%v", n, err)
	}
}

func TestSeekByteOffset_RoundsDownToSixteen(t *testing.T) {
	off := SeekByteOffset(30000, 60000, 1_000_000)
	if off%16 != 0 {
		t.Fatalf("want 16-byte aligned offset, got %d", off)
	}
	want := (int64(500_000)) - (int64(500_000) % 16)
	if off != want {
		t.Fatalf("want %d, got %d", want, off)
	}
}

func TestSeekByteOffset_ZeroDurationIsZero(t *testing.T) {
	if off := SeekByteOffset(1000, 0, 100); off != 0 {
		t.Fatalf("want 0 for zero duration, got %d", off)
	}
}
