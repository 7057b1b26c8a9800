package fdpass

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"golang.org/x/sys/unix"
)

// ---------- codec ----------

func TestWorkerRequest_RoundTrip(t *testing.T) {
	in := WorkerRequest{
		Runtime: "wasm",
		Module:  "/opt/functions/echo/module.wasm",
		Handler: "echo",
		Body:    []byte(`{"x":1}`),
	}
	b := in.Marshal()
	if len(b) != RequestSize {
		t.Fatalf("size=%d want %d", len(b), RequestSize)
	}
	out, err := UnmarshalRequest(b)
	if err != nil {
		t.Fatal(err)
	}
	if out.Runtime != in.Runtime || out.Module != in.Module || out.Handler != in.Handler {
		t.Fatalf("fields: %+v", out)
	}
	if !bytes.Equal(out.Body, in.Body) {
		t.Fatalf("body: %q", out.Body)
	}
}

func TestWorkerRequest_EmptyBody(t *testing.T) {
	in := WorkerRequest{Runtime: "php", Module: "/m.php", Handler: "h"}
	out, err := UnmarshalRequest(in.Marshal())
	if err != nil {
		t.Fatal(err)
	}
	if out.Body != nil {
		t.Fatalf("body must be nil: %q", out.Body)
	}
}

func TestWorkerRequest_TruncatesToCaps(t *testing.T) {
	in := WorkerRequest{
		Runtime: strings.Repeat("r", 100),
		Module:  "/m",
		Handler: "h",
		Body:    bytes.Repeat([]byte("b"), MaxBodyLen+100),
	}
	out, err := UnmarshalRequest(in.Marshal())
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Runtime) != MaxRuntimeLen-1 {
		t.Fatalf("runtime len: %d", len(out.Runtime))
	}
	if len(out.Body) != MaxBodyLen {
		t.Fatalf("body len: %d", len(out.Body))
	}
}

func TestUnmarshalRequest_WrongSize(t *testing.T) {
	if _, err := UnmarshalRequest(make([]byte, 10)); err == nil {
		t.Fatal("short buffer must fail")
	}
}

// ---------- SCM_RIGHTS ----------

func socketPair(t *testing.T) (*net.UnixConn, *net.UnixConn) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatal(err)
	}
	mk := func(fd int, name string) *net.UnixConn {
		f := os.NewFile(uintptr(fd), name)
		defer f.Close()
		c, err := net.FileConn(f)
		if err != nil {
			t.Fatal(err)
		}
		return c.(*net.UnixConn)
	}
	a, b := mk(fds[0], "a"), mk(fds[1], "b")
	t.Cleanup(func() { a.Close(); b.Close() })
	return a, b
}

func TestSendRecvFD_TransfersDescriptorAndPayload(t *testing.T) {
	a, b := socketPair(t)

	// archivo cuyo contenido probará que el fd recibido es equivalente
	path := filepath.Join(t.TempDir(), "payload.txt")
	if err := os.WriteFile(path, []byte("hola fd"), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}

	req := WorkerRequest{Runtime: "wasm", Module: "/m.wasm", Handler: "h", Body: []byte("hi")}
	if err := SendFD(a, int(f.Fd()), req.Marshal()); err != nil {
		t.Fatalf("send: %v", err)
	}
	// el emisor puede cerrar su copia tras el send
	f.Close()

	fd, payload, err := RecvFD(b, RequestSize)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	got := os.NewFile(uintptr(fd), "recv")
	defer got.Close()

	out, err := UnmarshalRequest(payload)
	if err != nil {
		t.Fatal(err)
	}
	if out.Runtime != "wasm" || string(out.Body) != "hi" {
		t.Fatalf("payload: %+v", out)
	}

	content, err := os.ReadFile("/proc/self/fd/" + strconv.Itoa(fd))
	if err != nil {
		// lectura directa como fallback
		buf := make([]byte, 16)
		n, _ := got.ReadAt(buf, 0)
		content = buf[:n]
	}
	if string(content) != "hola fd" {
		t.Fatalf("descriptor content: %q", content)
	}
}

func TestRecvFD_MissingRightsIsProtocolFailure(t *testing.T) {
	a, b := socketPair(t)

	// payload sin mensaje de control
	req := WorkerRequest{Runtime: "php", Module: "/m", Handler: "h"}
	if _, err := a.Write(req.Marshal()); err != nil {
		t.Fatal(err)
	}
	if _, _, err := RecvFD(b, RequestSize); err == nil {
		t.Fatal("missing SCM_RIGHTS must be a protocol failure")
	}
}
