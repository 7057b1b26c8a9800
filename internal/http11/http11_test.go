package http11

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

// ---------- parser ----------

func raw(method, uri, body string, extra ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\nHost: x\r\n", method, uri)
	if body != "" {
		fmt.Fprintf(&b, "Content-Length: %d\r\n", len(body))
	}
	for _, h := range extra {
		b.WriteString(h + "\r\n")
	}
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.String()
}

func TestParseRequest_Basic(t *testing.T) {
	req, err := ParseRequest(strings.NewReader(raw("POST", "/echo", "hi")))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if req.Method != "POST" || req.URI != "/echo" {
		t.Fatalf("line: %s %s", req.Method, req.URI)
	}
	if req.ContentLength != 2 || string(req.Body) != "hi" {
		t.Fatalf("body: len=%d %q", req.ContentLength, req.Body)
	}
}

func TestParseRequest_RoundTripFields(t *testing.T) {
	// parsear y re-serializar (method, uri, body) reproduce los bytes
	body := "abc{123}"
	req, err := ParseRequest(strings.NewReader(raw("PUT", "/api/x", body)))
	if err != nil {
		t.Fatal(err)
	}
	re := raw(req.Method, req.URI, string(req.Body))
	if re != raw("PUT", "/api/x", body) {
		t.Fatalf("round trip mismatch:\n%q\n%q", re, raw("PUT", "/api/x", body))
	}
}

func TestParseRequest_ContentTypeAndCaseInsensitiveHeaders(t *testing.T) {
	in := "POST /u HTTP/1.1\r\ncontent-length: 2\r\nCONTENT-TYPE: multipart/form-data; boundary=xyz\r\n\r\nok"
	req, err := ParseRequest(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if req.ContentLength != 2 {
		t.Fatalf("content-length: %d", req.ContentLength)
	}
	if req.ContentType != "multipart/form-data; boundary=xyz" {
		t.Fatalf("content-type: %q", req.ContentType)
	}
}

func TestParseRequest_Malformed(t *testing.T) {
	cases := []string{
		"",
		"GARBAGE",
		"GET\r\n\r\n",
		"TOOLONGMETHODABCDEF /x HTTP/1.1\r\n\r\n",
		"GET " + strings.Repeat("/a", 300) + " HTTP/1.1\r\n\r\n",
	}
	for _, c := range cases {
		if _, err := ParseRequest(strings.NewReader(c)); err == nil {
			t.Fatalf("%q: expected error", c)
		}
	}
}

func TestParseRequest_BodyCapBoundary(t *testing.T) {
	// exactamente 64 KiB: aceptado
	body := strings.Repeat("a", MaxBodySize)
	req, err := ParseRequest(strings.NewReader(raw("POST", "/big", body)))
	if err != nil {
		t.Fatalf("cap-sized body rejected: %v", err)
	}
	if len(req.Body) != MaxBodySize {
		t.Fatalf("body len: %d", len(req.Body))
	}

	// un byte de más: rechazado
	over := strings.Repeat("a", MaxBodySize+1)
	if _, err := ParseRequest(strings.NewReader(raw("POST", "/big", over))); err != ErrBodyTooLarge {
		t.Fatalf("want ErrBodyTooLarge, got %v", err)
	}
}

func TestParseRequest_BodySplitAcrossReads(t *testing.T) {
	// el primer Read entrega solo las cabeceras; el cuerpo llega después
	head := "POST /e HTTP/1.1\r\nContent-Length: 4\r\n\r\n"
	r := &chunkedReader{chunks: []string{head, "wasm"}}
	req, err := ParseRequest(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(req.Body) != "wasm" {
		t.Fatalf("body: %q", req.Body)
	}
}

type chunkedReader struct {
	chunks []string
	i      int
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if c.i >= len(c.chunks) {
		return 0, fmt.Errorf("eof")
	}
	n := copy(p, c.chunks[c.i])
	c.i++
	return n, nil
}

// ---------- writer ----------

func TestWriteJSONH_Shape(t *testing.T) {
	var buf bytes.Buffer
	WriteJSONH(&buf, 200, `{"ok":true}`, map[string]string{"X-Request-Id": "r1"})
	out := buf.String()

	if !strings.HasPrefix(out, "HTTP/1.1 200 OK\r\n") {
		t.Fatalf("status line: %q", out)
	}
	for _, want := range []string{
		"Content-Type: application/json\r\n",
		"Connection: close\r\n",
		fmt.Sprintf("Content-Length: %d\r\n", len(`{"ok":true}`)),
		"X-Request-Id: r1\r\n",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
	if !strings.HasSuffix(out, "\r\n\r\n"+`{"ok":true}`) {
		t.Fatalf("body: %q", out)
	}
}

func TestWriteErrorJSON_EscapesDetail(t *testing.T) {
	var buf bytes.Buffer
	WriteErrorJSON(&buf, 500, "exec", "say \"hi\"\nbye", nil)
	if !strings.Contains(buf.String(), `{"error":"exec","detail":"say \"hi\"\nbye"}`) {
		t.Fatalf("payload: %q", buf.String())
	}
}

func TestStatusText(t *testing.T) {
	for code, want := range map[int]string{
		200: "OK", 400: "Bad Request", 404: "Not Found",
		429: "Too Many Requests", 500: "Internal Server Error",
		503: "Service Unavailable",
	} {
		var buf bytes.Buffer
		WritePlainH(&buf, code, "", nil)
		if !strings.Contains(buf.String(), fmt.Sprintf("%d %s", code, want)) {
			t.Fatalf("code %d: %q", code, buf.String())
		}
	}
}

func TestSplitTarget(t *testing.T) {
	p, q := SplitTarget("/status?verbose=1")
	if p != "/status" || q != "verbose=1" {
		t.Fatalf("split: %q %q", p, q)
	}
	p, q = SplitTarget("/plain")
	if p != "/plain" || q != "" {
		t.Fatalf("split: %q %q", p, q)
	}
}
