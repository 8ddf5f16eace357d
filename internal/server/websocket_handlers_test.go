package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/qrcascade/internal/pipeline"
)

// mockStreamConn records the frames a responder writes.
type mockStreamConn struct {
	sent [][]byte
}

func (m *mockStreamConn) WriteMessage(_ int, data []byte) error {
	m.sent = append(m.sent, data)
	return nil
}

func (m *mockStreamConn) response(t *testing.T, i int) StreamResponse {
	t.Helper()
	require.Greater(t, len(m.sent), i)
	var resp StreamResponse
	require.NoError(t, json.Unmarshal(m.sent[i], &resp))
	return resp
}

func dialStream(t *testing.T, s *Server, header http.Header) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/qr/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readStreamResponse(t *testing.T, conn *websocket.Conn) StreamResponse {
	t.Helper()
	var resp StreamResponse
	require.NoError(t, conn.ReadJSON(&resp))
	return resp
}

func TestParseStreamFrame(t *testing.T) {
	req, err := parseStreamFrame(websocket.BinaryMessage, []byte("png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), req.Image)
	assert.Empty(t, req.RequestID)

	req, err = parseStreamFrame(websocket.TextMessage, []byte(`{"request_id":"r1","image":"cG5n"}`))
	require.NoError(t, err)
	assert.Equal(t, "r1", req.RequestID)
	assert.Equal(t, []byte("png"), req.Image)

	_, err = parseStreamFrame(websocket.TextMessage, []byte(`{`))
	require.Error(t, err)

	_, err = parseStreamFrame(websocket.TextMessage, []byte(`{"request_id":"r1"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no image data")
}

func TestServer_DetectFrame(t *testing.T) {
	mp := &mockPipeline{result: found("INV-1")}
	s := New(Config{}, mp)
	conn := &mockStreamConn{}

	s.detectFrame(t.Context(), conn, StreamRequest{RequestID: "r1", Image: []byte("img")})

	resp := conn.response(t, 0)
	assert.Equal(t, "result", resp.Type)
	assert.Equal(t, "r1", resp.RequestID)
	require.NotNil(t, resp.Result)
	assert.True(t, resp.Result.Success)
	assert.Equal(t, "INV-1", resp.Result.Payload)
	assert.Equal(t, []byte("img"), mp.lastData)
}

func TestServer_DetectFrame_NoPipeline(t *testing.T) {
	s := &Server{timeoutSec: 1}
	conn := &mockStreamConn{}

	s.detectFrame(t.Context(), conn, StreamRequest{RequestID: "r1", Image: []byte("img")})

	resp := conn.response(t, 0)
	assert.Equal(t, "error", resp.Type)
	assert.Equal(t, "unavailable", resp.ErrorType)
	assert.Equal(t, "r1", resp.RequestID)
}

func TestServer_Stream(t *testing.T) {
	s := New(Config{CORSOrigin: "*"}, &mockPipeline{result: found("STREAMED")})
	conn := dialStream(t, s, nil)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("raw image")))
	resp := readStreamResponse(t, conn)
	assert.Equal(t, "result", resp.Type)
	assert.Equal(t, "generated-id", resp.RequestID)
	require.NotNil(t, resp.Result)
	assert.Equal(t, "STREAMED", resp.Result.Payload)

	require.NoError(t, conn.WriteJSON(StreamRequest{RequestID: "second", Image: []byte("again")}))
	resp = readStreamResponse(t, conn)
	assert.Equal(t, "second", resp.RequestID)
	assert.Equal(t, "goqr", resp.Result.Strategy)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	resp = readStreamResponse(t, conn)
	assert.Equal(t, "error", resp.Type)
	assert.Equal(t, "invalid_request", resp.ErrorType)
}

func TestServer_Stream_NotFound(t *testing.T) {
	s := New(Config{}, &mockPipeline{result: pipeline.Result{Failure: pipeline.FailureNotFound}})
	conn := dialStream(t, s, nil)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("blank")))
	resp := readStreamResponse(t, conn)
	assert.Equal(t, "result", resp.Type)
	require.NotNil(t, resp.Result)
	assert.False(t, resp.Result.Success)
	assert.Equal(t, pipeline.FailureNotFound, resp.Result.Failure)
}

func TestServer_Stream_CheckOrigin(t *testing.T) {
	s := New(Config{CORSOrigin: "https://app.example.com"}, &mockPipeline{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/qr/stream"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example.com"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	_ = resp.Body.Close()

	conn, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://app.example.com"}})
	require.NoError(t, err)
	_ = resp.Body.Close()
	_ = conn.Close()
}
