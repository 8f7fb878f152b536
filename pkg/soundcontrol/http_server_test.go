package soundcontrol

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stalexteam/soundcontrol/pkg/soundcontrol/mixer"
	"github.com/stalexteam/soundcontrol/pkg/soundcontrol/mixer/mixertest"
)

const (
	testSpeakersID   = "{0.0.0.00000000}.{speakers}"
	testHeadphonesID = "{0.0.0.00000000}.{headphones}"
	testAppPID       = 4821
	testAppPath      = `C:\Users\X\App\App.exe`
)

var testAppIcon = mixer.Icon{0x89, 'P', 'N', 'G'}

func newTestRunner(t *testing.T) (*commandRunner, *mixertest.Provider) {
	t.Helper()

	provider := mixertest.NewProvider().
		AddEndpoint(testSpeakersID, "Speakers", "HDAUDIO").
		AddEndpoint(testHeadphonesID, "Headphones", "HDAUDIO")
	provider.Master = mixertest.Levels{Volume: 30}
	provider.AddSession(testSpeakersID, mixer.RawSession{
		SessionIdentifier: `{g1}|\Device\HarddiskVolume2\Users\X\App\App.exe%b{g2}`,
		ProcessID:         testAppPID,
	}, mixertest.Levels{Volume: 70})

	loader := mixertest.NewIconLoader(map[string]mixer.Icon{testAppPath: testAppIcon})

	logger := zap.NewNop().Sugar()
	m := mixer.New(logger, provider, mixer.Options{
		IconLoader:     loader,
		SpeakerClasses: []string{"HDAUDIO"},
	})
	t.Cleanup(m.Close)

	return newCommandRunner(logger, m, newCommandMetrics()), provider
}

func newTestHTTPServer(t *testing.T) (*HTTPServer, *mixertest.Provider) {
	t.Helper()

	runner, provider := newTestRunner(t)
	return NewHTTPServer(runner, zap.NewNop().Sugar()), provider
}

func serve(s *HTTPServer, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router().ServeHTTP(w, req)
	return w
}

func decodeSnapshot(t *testing.T, body []byte) mixer.Snapshot {
	t.Helper()

	var snapshot mixer.Snapshot
	require.NoError(t, json.Unmarshal(body, &snapshot))
	return snapshot
}

func TestHTTPServer_GetSnapshot(t *testing.T) {
	s, _ := newTestHTTPServer(t)

	w := serve(s, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)

	snapshot := decodeSnapshot(t, w.Body.Bytes())
	assert.Equal(t, mixer.ProtocolVersion, snapshot.ProtocolVersion)
	assert.Equal(t, 30, snapshot.Master.Volume)
	require.Len(t, snapshot.Sessions, 1)
	assert.Equal(t, "App", snapshot.Sessions[0].Name)
	assert.Equal(t, testAppIcon, snapshot.Sessions[0].Icon)
	assert.Len(t, snapshot.Speakers, 2)
}

func TestHTTPServer_PostCommand(t *testing.T) {
	s, provider := newTestHTTPServer(t)

	w := serve(s, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("master,change,40")))
	require.Equal(t, http.StatusOK, w.Code)

	snapshot := decodeSnapshot(t, w.Body.Bytes())
	assert.Equal(t, 40, snapshot.Master.Volume)
	assert.Equal(t, 40, provider.Master.Volume)
}

func TestHTTPServer_SessionChange(t *testing.T) {
	s, provider := newTestHTTPServer(t)

	w := serve(s, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("change,4821,12\n")))
	require.Equal(t, http.StatusOK, w.Code)

	snapshot := decodeSnapshot(t, w.Body.Bytes())
	session, ok := snapshot.Session(testAppPID)
	require.True(t, ok)
	assert.Equal(t, 12, session.Volume)

	levels, _ := provider.SessionLevels(testAppPID)
	assert.Equal(t, 12, levels.Volume)
}

func TestHTTPServer_CommandErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		kind   string
	}{
		{"unknown opcode", "explode,1", http.StatusBadRequest, errorKindUnknownOpcode},
		{"missing argument", "change,4821", http.StatusBadRequest, errorKindMalformed},
		{"empty", "", http.StatusBadRequest, errorKindMalformed},
		{"missing session", "mute,9999", http.StatusNotFound, errorKindSessionNotFound},
		{"missing endpoint", "changeAudioDevice,nope", http.StatusNotFound, errorKindEndpointNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestHTTPServer(t)

			w := serve(s, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body)))
			assert.Equal(t, tt.status, w.Code)

			var body errorBody
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.kind, body.Kind)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestHTTPServer_PartialDeviceChange(t *testing.T) {
	s, provider := newTestHTTPServer(t)
	provider.FailDefaultFor[mixer.RoleConsole] = true

	w := serve(s, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("changeAudioDevice,"+testHeadphonesID)))
	require.Equal(t, http.StatusConflict, w.Code)

	var body struct {
		Kind         string          `json:"kind"`
		AppliedRoles []string        `json:"appliedRoles"`
		FailedRole   string          `json:"failedRole"`
		Snapshot     *mixer.Snapshot `json:"snapshot"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	assert.Equal(t, errorKindPartialMutation, body.Kind)
	assert.Equal(t, []string{"multimedia", "communications"}, body.AppliedRoles)
	assert.Equal(t, "console", body.FailedRole)
	require.NotNil(t, body.Snapshot)

	speaker, ok := body.Snapshot.DefaultSpeaker()
	require.True(t, ok)
	assert.Equal(t, testHeadphonesID, speaker.ID)
}

func TestHTTPServer_CommandTooLong(t *testing.T) {
	s, _ := newTestHTTPServer(t)

	long := "master,change," + strings.Repeat("1", maxCommandBytes)
	w := serve(s, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(long)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestHTTPServer_Icon(t *testing.T) {
	s, _ := newTestHTTPServer(t)

	query := url.Values{"path": []string{testAppPath}}
	w := serve(s, httptest.NewRequest(http.MethodGet, "/icon?"+query.Encode(), nil))
	require.Equal(t, http.StatusOK, w.Code)

	var icon mixer.Icon
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &icon))
	assert.Equal(t, testAppIcon, icon)
}

func TestHTTPServer_IconUnknownPathIsNull(t *testing.T) {
	s, _ := newTestHTTPServer(t)

	query := url.Values{"path": []string{`C:\nowhere\x.exe`}}
	w := serve(s, httptest.NewRequest(http.MethodGet, "/icon?"+query.Encode(), nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "null", w.Body.String())
}

func TestHTTPServer_IconRejectsNonPath(t *testing.T) {
	s, _ := newTestHTTPServer(t)

	w := serve(s, httptest.NewRequest(http.MethodGet, "/icon?path=", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHTTPServer_RequestID(t *testing.T) {
	s, _ := newTestHTTPServer(t)

	w := serve(s, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	w = serve(s, req)
	assert.Equal(t, "abc-123", w.Header().Get(requestIDHeader))
}

func TestHTTPServer_Metrics(t *testing.T) {
	s, _ := newTestHTTPServer(t)

	serve(s, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("master,change,40")))
	serve(s, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("explode")))

	w := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, `soundcontrol_commands_total{opcode="master,change",outcome="ok",source="http"} 1`)
	assert.Contains(t, body, `soundcontrol_commands_total{opcode="invalid",outcome="unknown_opcode",source="http"} 1`)
}

func TestHTTPServer_StartStop(t *testing.T) {
	s, _ := newTestHTTPServer(t)

	require.NoError(t, s.Start("127.0.0.1:0"))
	assert.NoError(t, s.Start("127.0.0.1:0"), "same address is a no-op")

	s.Stop()
	s.Stop()
}

func TestHTTPServer_Websocket(t *testing.T) {
	s, _ := newTestHTTPServer(t)

	server := httptest.NewServer(s.router())
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	readMessage := func() map[string]json.RawMessage {
		t.Helper()

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var message map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(data, &message))
		return message
	}

	initial := readMessage()
	assert.JSONEq(t, `"snapshot"`, string(initial["type"]))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("master,change,65")))

	// the pushed snapshot and the reply may arrive in either order
	var reply map[string]json.RawMessage
	for i := 0; i < 3 && reply == nil; i++ {
		if message := readMessage(); string(message["type"]) == `"reply"` {
			reply = message
		}
	}
	require.NotNil(t, reply)

	assert.JSONEq(t, "200", string(reply["status"]))
	snapshot := decodeSnapshot(t, reply["data"])
	assert.Equal(t, 65, snapshot.Master.Volume)
}
