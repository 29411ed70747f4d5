package control

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vantapoint/ovi/internal/certs"
	"github.com/vantapoint/ovi/internal/registry"
)

type fakeStatus struct {
	state    string
	progress string
	plugins  []registry.Summary
	stopped  bool
	stopErr  error
}

func (f *fakeStatus) StateString() string          { return f.state }
func (f *fakeStatus) ProgressString() string       { return f.progress }
func (f *fakeStatus) Plugins() []registry.Summary  { return f.plugins }
func (f *fakeStatus) Stop() error                  { f.stopped = true; return f.stopErr }

func newTestServer(t *testing.T, st *fakeStatus) *Server {
	t.Helper()
	cert, err := certs.Generate(time.Hour)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	srv, err := NewServer(nil, Config{Addr: ":0", Cert: cert, Status: st})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv
}

func TestStateEndpoint(t *testing.T) {
	t.Parallel()
	st := &fakeStatus{state: "analysis", progress: "42/100"}
	srv := newTestServer(t, st)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/state", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	var got stateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.State != "analysis" || got.Progress != "42/100" {
		t.Errorf("got %+v", got)
	}
}

func TestPluginsEndpoint(t *testing.T) {
	t.Parallel()
	st := &fakeStatus{plugins: []registry.Summary{
		{UID: "AudioLevel.1", Name: "AudioLevel", Type: registry.TypeAudioDetect},
	}}
	srv := newTestServer(t, st)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/plugins", nil))
	var got []pluginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(got) != 1 || got[0].UID != "AudioLevel.1" || got[0].Type != "audio-detect" {
		t.Errorf("got %+v", got)
	}
}

func TestStopEndpoint(t *testing.T) {
	t.Parallel()
	st := &fakeStatus{}
	srv := newTestServer(t, st)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/api/stop", nil))
	if rec.Code != 202 {
		t.Errorf("status = %d, want 202", rec.Code)
	}
	if !st.stopped {
		t.Error("Stop was not called")
	}
}

func TestNewServerValidation(t *testing.T) {
	t.Parallel()
	cert, err := certs.Generate(time.Hour)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := NewServer(nil, Config{Addr: ":0", Status: &fakeStatus{}}); err == nil {
		t.Error("missing cert accepted")
	}
	if _, err := NewServer(nil, Config{Cert: cert, Status: &fakeStatus{}}); err == nil {
		t.Error("missing addr accepted")
	}
	if _, err := NewServer(nil, Config{Addr: ":0", Cert: cert}); err == nil {
		t.Error("missing status accepted")
	}
}
