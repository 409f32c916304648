package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/remote-agent-terminal/ptybridge/internal/db"
	"github.com/remote-agent-terminal/ptybridge/internal/pty"
	"github.com/remote-agent-terminal/ptybridge/internal/repository"
	"github.com/remote-agent-terminal/ptybridge/internal/session"
	"github.com/remote-agent-terminal/ptybridge/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubProcess struct {
	pid int
	cb  pty.Callbacks

	mu     sync.Mutex
	killed bool
}

func (p *stubProcess) PID() int                 { return p.pid }
func (p *stubProcess) Write([]byte) error       { return nil }
func (p *stubProcess) Resize(_, _ uint16) error { return nil }

func (p *stubProcess) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed = true
	return nil
}

// stubLauncher starts processes that never exit on their own.
type stubLauncher struct {
	mu    sync.Mutex
	procs []*stubProcess
}

func (l *stubLauncher) Launch(_ context.Context, _ pty.Command, _ pty.Size, cb pty.Callbacks) (session.Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p := &stubProcess{pid: 1000 + len(l.procs), cb: cb}
	l.procs = append(l.procs, p)
	return p, nil
}

type nopSink struct {
	mu     sync.Mutex
	closed bool
}

func (s *nopSink) Send([]byte) {}

func (s *nopSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func newSessionRouter(t *testing.T) (*gin.Engine, *session.Manager, *stubLauncher) {
	t.Helper()
	launcher := &stubLauncher{}
	manager := session.NewManager(launcher, session.ManagerConfig{
		Session: session.Config{
			Primary:  pty.Command{Path: "agent"},
			Fallback: pty.Command{Path: "/bin/sh"},
		},
	})
	t.Cleanup(manager.CloseAll)

	r := gin.New()
	NewSessionHandler(manager).RegisterRoutes(r.Group("/api"))
	return r, manager, launcher
}

func doRequest(r http.Handler, method, target string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, body)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSessionHandler_ListAndGet(t *testing.T) {
	r, manager, launcher := newSessionRouter(t)

	sess, err := manager.Open(&nopSink{})
	require.NoError(t, err)
	sess.Start()
	launcher.procs[0].cb.OnOutput([]byte("ready\r\n"))

	w := doRequest(r, http.MethodGet, "/api/sessions", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var list struct {
		Sessions []SessionResponse `json:"sessions"`
		Total    int               `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Equal(t, 1, list.Total)
	require.Equal(t, sess.ID(), list.Sessions[0].ID)
	require.Equal(t, "running", list.Sessions[0].State)
	require.NotNil(t, list.Sessions[0].PID)
	require.Equal(t, 1000, *list.Sessions[0].PID)
	require.Equal(t, "ready\r\n", list.Sessions[0].Preview)
	require.EqualValues(t, 7, list.Sessions[0].OutputBytes)
	require.EqualValues(t, 80, list.Sessions[0].Cols)
	require.EqualValues(t, 24, list.Sessions[0].Rows)

	w = doRequest(r, http.MethodGet, "/api/sessions/"+sess.ID(), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var one SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &one))
	require.Equal(t, sess.ID(), one.ID)
	require.False(t, one.Fallback)
}

func TestSessionHandler_GetMissing(t *testing.T) {
	r, _, _ := newSessionRouter(t)

	w := doRequest(r, http.MethodGet, "/api/sessions/nope", nil, "")
	require.Equal(t, http.StatusNotFound, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "SESSION_NOT_FOUND", resp.Error.Code)
}

func TestSessionHandler_DeleteKillsProcessAndClosesSink(t *testing.T) {
	r, manager, launcher := newSessionRouter(t)

	sink := &nopSink{}
	sess, err := manager.Open(sink)
	require.NoError(t, err)
	sess.Start()

	w := doRequest(r, http.MethodDelete, "/api/sessions/"+sess.ID(), nil, "")
	require.Equal(t, http.StatusNoContent, w.Code)

	require.Equal(t, session.StateClosed, sess.State())
	require.Equal(t, 0, manager.Count())
	require.True(t, launcher.procs[0].killed)
	require.True(t, sink.closed)

	w = doRequest(r, http.MethodDelete, "/api/sessions/"+sess.ID(), nil, "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestPreview(t *testing.T) {
	require.Equal(t, "", preview(nil))
	require.Equal(t, "abc", preview([]byte("abc")))

	// A multi-byte rune straddling the cut is dropped.
	long := append([]byte("é"), bytes.Repeat([]byte("x"), previewBytes-1)...)
	require.Equal(t, strings.Repeat("x", previewBytes-1), preview(long))

	long = append(bytes.Repeat([]byte("x"), previewBytes), []byte("é")...)
	got := preview(long)
	require.True(t, strings.HasSuffix(got, "é"))
	require.Len(t, got, previewBytes)

	require.Equal(t, "ab", preview([]byte{'a', 0xff, 'b'}))
}

func newUploadRouter(t *testing.T, maxBytes int64) (*gin.Engine, *storage.FileStore) {
	t.Helper()
	testDB, err := db.NewTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { testDB.Close() })

	store, err := storage.NewFileStore(filepath.Join(t.TempDir(), "uploads"), repository.NewUploadRepository(testDB), maxBytes, nil)
	require.NoError(t, err)

	r := gin.New()
	NewUploadHandler(store).RegisterRoutes(r)
	return r, store
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func TestUploadHandler_UploadListServe(t *testing.T) {
	r, store := newUploadRouter(t, 1024)

	body, ct := multipartBody(t, "file", "hello.txt", []byte("hello world"))
	w := doRequest(r, http.MethodPost, "/upload", body, ct)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var up UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &up))
	require.Equal(t, "hello.txt", up.Filename)
	require.Equal(t, "/files/hello.txt", up.Path)
	require.EqualValues(t, 11, up.Size)
	require.Len(t, up.Digest, 64)

	onDisk, err := os.ReadFile(filepath.Join(store.Root(), "hello.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello world", string(onDisk))

	w = doRequest(r, http.MethodGet, "/uploads", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Files []struct {
			Filename string `json:"filename"`
			Path     string `json:"path"`
		} `json:"files"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Files, 1)
	require.Equal(t, "/files/hello.txt", list.Files[0].Path)

	w = doRequest(r, http.MethodGet, up.Path, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "hello world", w.Body.String())
}

func TestUploadHandler_MissingFileField(t *testing.T) {
	r, _ := newUploadRouter(t, 1024)

	body, ct := multipartBody(t, "other", "x.txt", []byte("x"))
	w := doRequest(r, http.MethodPost, "/upload", body, ct)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
}

func TestUploadHandler_TooLarge(t *testing.T) {
	r, store := newUploadRouter(t, 4)

	body, ct := multipartBody(t, "file", "big.bin", []byte("12345"))
	w := doRequest(r, http.MethodPost, "/upload", body, ct)
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	_, err := os.Stat(filepath.Join(store.Root(), "big.bin"))
	require.True(t, os.IsNotExist(err))
}

func TestUploadHandler_InvalidFilename(t *testing.T) {
	r, _ := newUploadRouter(t, 1024)

	body, ct := multipartBody(t, "file", "..", []byte("x"))
	w := doRequest(r, http.MethodPost, "/upload", body, ct)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadHandler_ServeErrors(t *testing.T) {
	r, store := newUploadRouter(t, 1024)
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(store.Root()), "secret.txt"), []byte("s"), 0o644))

	w := doRequest(r, http.MethodGet, "/files/missing.txt", nil, "")
	require.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(r, http.MethodGet, "/files/..%2Fsecret.txt", nil, "")
	require.Equal(t, http.StatusForbidden, w.Code)

	require.NoError(t, os.Symlink(filepath.Join(filepath.Dir(store.Root()), "secret.txt"), filepath.Join(store.Root(), "leak.txt")))
	w = doRequest(r, http.MethodGet, "/files/leak.txt", nil, "")
	require.Equal(t, http.StatusForbidden, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "FORBIDDEN", resp.Error.Code)
}

func TestUploadHandler_DeleteThroughEscapingSymlink(t *testing.T) {
	r, store := newUploadRouter(t, 1024)

	outsideDir := t.TempDir()
	secret := filepath.Join(outsideDir, "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("secret"), 0o644))
	require.NoError(t, os.Symlink(outsideDir, filepath.Join(store.Root(), "link")))

	w := doRequest(r, http.MethodDelete, "/files/link/secret.txt", nil, "")
	require.Equal(t, http.StatusForbidden, w.Code)

	_, err := os.Stat(secret)
	require.NoError(t, err)
}

func TestUploadHandler_Delete(t *testing.T) {
	r, store := newUploadRouter(t, 1024)
	require.NoError(t, os.WriteFile(filepath.Join(store.Root(), "out.log"), []byte("log"), 0o644))

	w := doRequest(r, http.MethodDelete, "/files/out.log", nil, "")
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(r, http.MethodDelete, "/files/out.log", nil, "")
	require.Equal(t, http.StatusNotFound, w.Code)
}
