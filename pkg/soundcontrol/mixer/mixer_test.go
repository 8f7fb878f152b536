package mixer_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stalexteam/soundcontrol/pkg/soundcontrol/mixer"
	"github.com/stalexteam/soundcontrol/pkg/soundcontrol/mixer/mixertest"
)

func newTestMixer(t *testing.T) (*mixer.Mixer, *mixertest.Provider, *mixertest.IconLoader) {
	t.Helper()

	provider := mixertest.NewProvider().
		AddEndpoint(speakersID, "Speakers", "HDAUDIO").
		AddEndpoint(headphonesID, "Headphones", "HDAUDIO")
	provider.Master = mixertest.Levels{Volume: 30}
	provider.AddSession(speakersID, mixer.RawSession{SessionIdentifier: appIdentifier, ProcessID: 4821}, mixertest.Levels{Volume: 70})
	provider.AddSession(speakersID, mixer.RawSession{DisplayName: "ghost#1", SessionIdentifier: identifierFor("ghost.exe"), ProcessID: 66}, mixertest.Levels{})
	provider.AddSession(speakersID, mixer.RawSession{ProcessID: 0, SessionIdentifier: "{g}|#%b{g}"}, mixertest.Levels{Volume: 100})

	loader := mixertest.NewIconLoader(map[string]mixer.Icon{
		`C:\Users\X\App\App.exe`: mixer.Icon{0x89, 'P', 'N', 'G'},
	})

	m := mixer.New(zap.NewNop().Sugar(), provider, mixer.Options{
		IconLoader:     loader,
		SpeakerClasses: []string{"HDAUDIO"},
	})
	t.Cleanup(m.Close)

	return m, provider, loader
}

func TestMixer_MasterChange(t *testing.T) {
	m, _, _ := newTestMixer(t)

	reply, err := m.Execute("master,change,55")
	require.NoError(t, err)
	require.NotNil(t, reply.Snapshot)

	assert.Equal(t, 55, reply.Snapshot.Master.Volume)
	assert.Equal(t, reply.Snapshot, reply.Payload())
}

func TestMixer_MasterChangeClamped(t *testing.T) {
	m, _, _ := newTestMixer(t)

	reply, err := m.Execute("master,change,250")
	require.NoError(t, err)
	assert.Equal(t, 100, reply.Snapshot.Master.Volume)

	reply, err = m.Execute("master,change,-3")
	require.NoError(t, err)
	assert.Equal(t, 0, reply.Snapshot.Master.Volume)
}

func TestMixer_MasterMuteToggles(t *testing.T) {
	m, _, _ := newTestMixer(t)

	reply, err := m.Execute("master,mute")
	require.NoError(t, err)
	assert.True(t, reply.Snapshot.Master.Muted)

	reply, err = m.Execute("master,mute")
	require.NoError(t, err)
	assert.False(t, reply.Snapshot.Master.Muted)
}

func TestMixer_MasterStep(t *testing.T) {
	m, _, _ := newTestMixer(t)

	reply, err := m.Execute("master,step,1000")
	require.NoError(t, err)
	assert.Equal(t, 100, reply.Snapshot.Master.Volume)

	reply, err = m.Execute("master,step,-1000")
	require.NoError(t, err)
	assert.Equal(t, 0, reply.Snapshot.Master.Volume)
}

func TestMixer_SessionMuteToggles(t *testing.T) {
	m, _, _ := newTestMixer(t)

	reply, err := m.Execute("mute,4821")
	require.NoError(t, err)

	session, ok := reply.Snapshot.Session(4821)
	require.True(t, ok)
	assert.True(t, session.Muted)

	reply, err = m.Execute("mute,4821")
	require.NoError(t, err)

	session, ok = reply.Snapshot.Session(4821)
	require.True(t, ok)
	assert.False(t, session.Muted)
}

func TestMixer_SessionChange(t *testing.T) {
	m, provider, _ := newTestMixer(t)

	reply, err := m.Execute("change,4821,37")
	require.NoError(t, err)

	session, ok := reply.Snapshot.Session(4821)
	require.True(t, ok)
	assert.Equal(t, 37, session.Volume)

	levels, _ := provider.SessionLevels(4821)
	assert.Equal(t, 37, levels.Volume)
}

func TestMixer_SnapshotContents(t *testing.T) {
	m, _, _ := newTestMixer(t)

	snapshot := m.Refresh()

	assert.Equal(t, []string{"App", "Systemsound"}, names(snapshot.Sessions))
	assert.Equal(t, mixer.Icon{0x89, 'P', 'N', 'G'}, snapshot.Sessions[0].Icon)
	assert.Nil(t, snapshot.Sessions[1].Icon)
	assert.Len(t, snapshot.Speakers, 2)

	_, ghost := snapshot.Session(66)
	assert.False(t, ghost)
}

func TestMixer_GetIconReturnsIconOnly(t *testing.T) {
	m, _, loader := newTestMixer(t)

	reply, err := m.Execute(`getIcon,C:\Users\X\App\App.exe`)
	require.NoError(t, err)

	assert.Nil(t, reply.Snapshot)
	assert.Equal(t, mixer.Icon{0x89, 'P', 'N', 'G'}, reply.Payload())
	assert.Equal(t, []string{`C:\Users\X\App\App.exe`}, loader.Requested())

	reply, err = m.Execute(`getIcon,C:\missing.exe`)
	require.NoError(t, err)
	assert.Nil(t, reply.Icon)

	encoded, err := json.Marshal(reply.Payload())
	require.NoError(t, err)
	assert.JSONEq(t, "null", string(encoded))
}

func TestMixer_ChangeAudioDevice(t *testing.T) {
	m, _, _ := newTestMixer(t)

	reply, err := m.Execute("changeAudioDevice," + headphonesID)
	require.NoError(t, err)

	speaker, ok := reply.Snapshot.DefaultSpeaker()
	require.True(t, ok)
	assert.Equal(t, headphonesID, speaker.ID)
}

func TestMixer_PartialChangeStillRefreshes(t *testing.T) {
	m, provider, _ := newTestMixer(t)
	provider.FailDefaultFor[mixer.RoleConsole] = true

	reply, err := m.Execute("changeAudioDevice," + headphonesID)

	var partial *mixer.PartialMutationError
	require.True(t, errors.As(err, &partial))
	assert.Equal(t, []mixer.Role{mixer.RoleMultimedia, mixer.RoleCommunications}, partial.Applied)

	require.NotNil(t, reply.Snapshot)
	speaker, ok := reply.Snapshot.DefaultSpeaker()
	require.True(t, ok)
	assert.Equal(t, headphonesID, speaker.ID)
}

func TestMixer_Errors(t *testing.T) {
	m, _, _ := newTestMixer(t)

	_, err := m.Execute("explode,1")
	assert.ErrorIs(t, err, mixer.ErrUnknownOpcode)

	_, err = m.Execute("change,4821")
	assert.ErrorIs(t, err, mixer.ErrMalformedCommand)

	reply, err := m.Execute("mute,9999")
	assert.ErrorIs(t, err, mixer.ErrSessionNotFound)
	assert.Nil(t, reply.Snapshot)
}

func TestMixer_Subscribers(t *testing.T) {
	m, _, _ := newTestMixer(t)

	ch := m.SubscribeToSnapshots()

	_, err := m.Execute("master,change,10")
	require.NoError(t, err)
	_, err = m.Execute("master,change,20")
	require.NoError(t, err)

	// only the newest snapshot is kept for a reader that fell behind
	snapshot := <-ch
	assert.Equal(t, 20, snapshot.Master.Volume)

	m.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)

	// unsubscribing twice is harmless
	m.Unsubscribe(ch)
}

func TestMixer_CurrentBuildsOnce(t *testing.T) {
	m, provider, _ := newTestMixer(t)

	first := m.Current()
	assert.Equal(t, 30, first.Master.Volume)

	require.NoError(t, provider.SetMasterVolume(90))
	assert.Equal(t, 30, m.Current().Master.Volume)
	assert.Equal(t, 90, m.Refresh().Master.Volume)
}

func TestMixer_CallersCannotChangeStoredSnapshot(t *testing.T) {
	m, _, _ := newTestMixer(t)

	first := m.Current()
	require.Equal(t, "App", first.Sessions[0].Name)
	require.NotEmpty(t, first.Sessions[0].Icon)

	first.Sessions[0].Name = "tampered#"
	first.Sessions[0].Icon[0] = 0
	first.Speakers[0].Name = "tampered"

	second := m.Current()
	assert.Equal(t, "App", second.Sessions[0].Name)
	assert.Equal(t, byte(0x89), second.Sessions[0].Icon[0])
	assert.Equal(t, "Speakers", second.Speakers[0].Name)
}

func TestMixer_RepliesAndSubscribersGetOwnCopies(t *testing.T) {
	m, _, _ := newTestMixer(t)

	ch := m.SubscribeToSnapshots()

	reply, err := m.Execute("refresh")
	require.NoError(t, err)

	reply.Snapshot.Sessions[0].Name = "tampered#"
	reply.Snapshot.Sessions[0].Icon[0] = 0

	pushed := <-ch
	assert.Equal(t, "App", pushed.Sessions[0].Name)
	assert.Equal(t, byte(0x89), pushed.Sessions[0].Icon[0])

	pushed.Sessions[0].Name = "pushed#"
	assert.Equal(t, "App", m.Current().Sessions[0].Name)
}

func TestMixer_Reconfigure(t *testing.T) {
	m, _, _ := newTestMixer(t)

	before := m.Current()
	require.Len(t, before.Speakers, 2)
	require.NotEmpty(t, before.Sessions[0].Icon)

	m.Reconfigure(mixer.Options{SpeakerClasses: []string{"USB"}})

	// the stored snapshot is untouched until the next refresh
	assert.Len(t, m.Current().Speakers, 2)

	after := m.Refresh()
	assert.Empty(t, after.Speakers)
	assert.Empty(t, after.Sessions[0].Icon)

	reply, err := m.Execute(`getIcon,C:\Users\X\App\App.exe`)
	require.NoError(t, err)
	assert.Nil(t, reply.Icon)
}

func TestMixer_ConcurrentCommandsSeeWholeSnapshots(t *testing.T) {
	m, _, _ := newTestMixer(t)

	var wg sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()

			for i := 0; i < 25; i++ {
				level := (worker*25 + i) % 101
				reply, err := m.Execute(fmt.Sprintf("master,change,%d", level))
				if !assert.NoError(t, err) {
					return
				}

				// the command and its refresh are atomic, so each reply shows its own write
				assert.Equal(t, level, reply.Snapshot.Master.Volume)
			}
		}(worker)
	}

	wg.Wait()
}

func TestSnapshot_JSONShape(t *testing.T) {
	m, _, _ := newTestMixer(t)

	encoded, err := json.Marshal(m.Refresh())
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(encoded, &decoded))

	assert.Equal(t, float64(mixer.ProtocolVersion), decoded["serverVersion"])
	assert.Contains(t, decoded, "soundObjList")
	assert.Contains(t, decoded, "speakersList")

	master := decoded["masterObj"].(map[string]interface{})
	assert.Equal(t, float64(30), master["volume"])
	assert.Equal(t, false, master["isMute"])

	first := decoded["soundObjList"].([]interface{})[0].(map[string]interface{})
	for _, key := range []string{"name", "processId", "iconPath", "sessionIdentifier", "volume", "isMute", "bild"} {
		assert.Contains(t, first, key)
	}
	assert.Equal(t, "iVBORw==", first["bild"])

	var roundTrip mixer.Snapshot
	require.NoError(t, json.Unmarshal(encoded, &roundTrip))
	assert.Equal(t, mixer.Icon{0x89, 'P', 'N', 'G'}, roundTrip.Sessions[0].Icon)
}
