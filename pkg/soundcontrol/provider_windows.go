package soundcontrol

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"unsafe"

	ole "github.com/go-ole/go-ole"
	ps "github.com/mitchellh/go-ps"
	wca "github.com/moutend/go-wca"
	"go.uber.org/zap"

	"github.com/stalexteam/soundcontrol/pkg/soundcontrol/mixer"
	"github.com/stalexteam/soundcontrol/pkg/soundcontrol/util"
)

const (
	// passed as the event context on every change so other audio consumers get notified
	eventContextGUID = "{1ec920a1-7db8-44ba-9779-e5d28ed9f330}"

	deviceStateMaskAll = 0xF

	// GetProcessId fails with AUDCLNT_S_NO_CURRENT_PROCESS for the system sounds session
	noCurrentProcessCode = "143196173"
)

// shares its property set with PKEY_Device_DeviceDesc
var pkeyDeviceEnumeratorName = wca.PROPERTYKEY{
	Fmtid: *ole.NewGUID("{a45c254e-df1c-4efd-8020-67d146a850e0}"),
	Pid:   24,
}

var errProviderReleased = errors.New("audio provider released")

type wcaProvider struct {
	logger *zap.SugaredLogger

	eventCtx *ole.GUID

	mmDeviceEnumerator *wca.IMMDeviceEnumerator

	// every COM call is made from the single goroutine reading this channel
	calls chan func()
	stop  chan struct{}
	done  chan struct{}
}

func newProvider(logger *zap.SugaredLogger) (mixer.Provider, error) {
	p := &wcaProvider{
		logger:   logger.Named("provider"),
		eventCtx: ole.NewGUID(eventContextGUID),
		calls:    make(chan func()),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	ready := make(chan error, 1)
	go p.comThread(ready)

	if err := <-ready; err != nil {
		return nil, err
	}

	p.logger.Debug("Created WCA audio provider")
	return p, nil
}

func (p *wcaProvider) comThread(ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(p.done)

	if err := ole.CoInitializeEx(0, ole.COINIT_APARTMENTTHREADED); err != nil {
		// E_FALSE means that the call was redundant
		const eFalse = 1
		oleError := &ole.OleError{}

		if !errors.As(err, &oleError) || oleError.Code() != eFalse {
			p.logger.Warnw("Failed to call CoInitializeEx", "error", err)
			ready <- fmt.Errorf("call CoInitializeEx: %w", err)
			return
		}

		p.logger.Warn("CoInitializeEx failed with E_FALSE due to redundant invocation")
	}
	defer ole.CoUninitialize()

	if err := wca.CoCreateInstance(
		wca.CLSID_MMDeviceEnumerator,
		0,
		wca.CLSCTX_ALL,
		wca.IID_IMMDeviceEnumerator,
		&p.mmDeviceEnumerator,
	); err != nil {
		p.logger.Warnw("Failed to call CoCreateInstance", "error", err)
		ready <- fmt.Errorf("call CoCreateInstance: %w", err)
		return
	}
	defer p.mmDeviceEnumerator.Release()

	ready <- nil

	for {
		select {
		case call := <-p.calls:
			call()
		case <-p.stop:
			return
		}
	}
}

// do runs f on the COM thread and waits for it
func (p *wcaProvider) do(f func() error) error {
	result := make(chan error, 1)

	select {
	case p.calls <- func() { result <- f() }:
	case <-p.done:
		return errProviderReleased
	}

	return <-result
}

func (p *wcaProvider) ListEndpoints() ([]mixer.RawEndpoint, error) {
	var endpoints []mixer.RawEndpoint

	err := p.do(func() error {
		var deviceCollection *wca.IMMDeviceCollection

		if err := p.mmDeviceEnumerator.EnumAudioEndpoints(wca.ERender, deviceStateMaskAll, &deviceCollection); err != nil {
			p.logger.Warnw("Failed to enumerate audio endpoints", "error", err)
			return fmt.Errorf("enumerate audio endpoints: %w", err)
		}
		defer deviceCollection.Release()

		var deviceCount uint32
		if err := deviceCollection.GetCount(&deviceCount); err != nil {
			return fmt.Errorf("get device count from device collection: %w", err)
		}

		for deviceIdx := uint32(0); deviceIdx < deviceCount; deviceIdx++ {
			endpoint, err := p.describeEndpoint(deviceCollection, deviceIdx)
			if err != nil {
				p.logger.Warnw("Skipping unreadable endpoint", "deviceIdx", deviceIdx, "error", err)
				continue
			}

			endpoints = append(endpoints, endpoint)
		}

		return nil
	})

	return endpoints, err
}

func (p *wcaProvider) describeEndpoint(deviceCollection *wca.IMMDeviceCollection, deviceIdx uint32) (mixer.RawEndpoint, error) {
	var endpoint mixer.RawEndpoint
	var device *wca.IMMDevice

	if err := deviceCollection.Item(deviceIdx, &device); err != nil {
		return endpoint, fmt.Errorf("get device %d from device collection: %w", deviceIdx, err)
	}
	defer device.Release()

	if err := device.GetId(&endpoint.ID); err != nil {
		return endpoint, fmt.Errorf("get device %d id: %w", deviceIdx, err)
	}

	var state uint32
	if err := device.GetState(&state); err != nil {
		return endpoint, fmt.Errorf("get device %d state: %w", deviceIdx, err)
	}
	endpoint.State = mixer.EndpointState(state)

	var propertyStore *wca.IPropertyStore
	if err := device.OpenPropertyStore(wca.STGM_READ, &propertyStore); err != nil {
		return endpoint, fmt.Errorf("open device %d property store: %w", deviceIdx, err)
	}
	defer propertyStore.Release()

	value := &wca.PROPVARIANT{}

	// device description i.e. "Speakers"
	if err := propertyStore.GetValue(&wca.PKEY_Device_DeviceDesc, value); err == nil {
		endpoint.Description = value.String()
	}

	// enumerator i.e. "HDAUDIO" or "USB"
	if err := propertyStore.GetValue(&pkeyDeviceEnumeratorName, value); err == nil {
		endpoint.DriverClass = value.String()
	}

	return endpoint, nil
}

func (p *wcaProvider) DefaultEndpoint(role mixer.Role) (string, error) {
	var endpointID string

	err := p.withDefaultDevice(role, func(device *wca.IMMDevice) error {
		if err := device.GetId(&endpointID); err != nil {
			return fmt.Errorf("get default endpoint id: %w", err)
		}

		return nil
	})

	return endpointID, err
}

func (p *wcaProvider) ListSessions(endpointID string) ([]mixer.RawSession, error) {
	var sessions []mixer.RawSession

	err := p.do(func() error {
		var device *wca.IMMDevice
		if err := p.mmDeviceEnumerator.GetDevice(endpointID, &device); err != nil {
			return fmt.Errorf("get device %s: %w", endpointID, mixer.ErrEndpointNotFound)
		}
		defer device.Release()

		return p.forEachSession(device, func(control *wca.IAudioSessionControl2, pid uint32) (bool, error) {
			raw := mixer.RawSession{ProcessID: pid}

			if err := control.GetDisplayName(&raw.DisplayName); err != nil {
				p.logger.Debugw("Failed to get session display name", "pid", pid, "error", err)
			}

			if err := control.GetIconPath(&raw.IconHint); err != nil {
				p.logger.Debugw("Failed to get session icon path", "pid", pid, "error", err)
			}

			if err := control.GetSessionIdentifier(&raw.SessionIdentifier); err != nil {
				p.logger.Debugw("Failed to get session identifier", "pid", pid, "error", err)
			}

			sessions = append(sessions, raw)
			return true, nil
		})
	})

	return sessions, err
}

func (p *wcaProvider) MasterVolume() (int, error) {
	var level float32

	err := p.withEndpointVolume(func(volume *wca.IAudioEndpointVolume) error {
		return volume.GetMasterVolumeLevelScalar(&level)
	})

	return util.ScalarToPercent(level), err
}

func (p *wcaProvider) MasterMute() (bool, error) {
	var muted bool

	err := p.withEndpointVolume(func(volume *wca.IAudioEndpointVolume) error {
		return volume.GetMute(&muted)
	})

	return muted, err
}

func (p *wcaProvider) SetMasterVolume(level int) error {
	scalar := util.PercentToScalar(mixer.ClampLevel(level))

	return p.withEndpointVolume(func(volume *wca.IAudioEndpointVolume) error {
		if err := volume.SetMasterVolumeLevelScalar(scalar, p.eventCtx); err != nil {
			p.logger.Warnw("Failed to set master volume", "error", err, "volume", level)
			return fmt.Errorf("adjust master volume: %w", err)
		}

		return nil
	})
}

func (p *wcaProvider) SetMasterMute(muted bool) error {
	return p.withEndpointVolume(func(volume *wca.IAudioEndpointVolume) error {
		if err := volume.SetMute(muted, p.eventCtx); err != nil {
			p.logger.Warnw("Failed to set master mute state", "error", err)
			return fmt.Errorf("set master mute: %w", err)
		}

		return nil
	})
}

func (p *wcaProvider) SessionVolume(pid uint32) (int, error) {
	var level float32

	err := p.withSessionVolume(pid, func(volume *wca.ISimpleAudioVolume) error {
		return volume.GetMasterVolume(&level)
	})

	return util.ScalarToPercent(level), err
}

func (p *wcaProvider) SessionMute(pid uint32) (bool, error) {
	var muted bool

	err := p.withSessionVolume(pid, func(volume *wca.ISimpleAudioVolume) error {
		return volume.GetMute(&muted)
	})

	return muted, err
}

func (p *wcaProvider) SetSessionVolume(pid uint32, level int) error {
	scalar := util.PercentToScalar(mixer.ClampLevel(level))

	return p.withSessionVolume(pid, func(volume *wca.ISimpleAudioVolume) error {
		if err := volume.SetMasterVolume(scalar, p.eventCtx); err != nil {
			p.logger.Warnw("Failed to set session volume", "pid", pid, "error", err)
			return fmt.Errorf("adjust session volume: %w", err)
		}

		return nil
	})
}

func (p *wcaProvider) SetSessionMute(pid uint32, muted bool) error {
	return p.withSessionVolume(pid, func(volume *wca.ISimpleAudioVolume) error {
		if err := volume.SetMute(muted, p.eventCtx); err != nil {
			p.logger.Warnw("Failed to set session mute state", "pid", pid, "error", err)
			return fmt.Errorf("set session mute: %w", err)
		}

		return nil
	})
}

func (p *wcaProvider) SetDefaultEndpoint(id string, role mixer.Role) error {
	return p.do(func() error {
		var device *wca.IMMDevice
		if err := p.mmDeviceEnumerator.GetDevice(id, &device); err != nil {
			return fmt.Errorf("get device %s: %w", id, mixer.ErrEndpointNotFound)
		}
		device.Release()

		if err := setDefaultEndpoint(id, uint32(role)); err != nil {
			p.logger.Warnw("Failed to set default endpoint", "endpoint", id, "role", role, "error", err)
			return fmt.Errorf("set default endpoint for %s: %w", role, err)
		}

		return nil
	})
}

func (p *wcaProvider) Release() error {
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}

	<-p.done

	p.logger.Debug("Released WCA audio provider")
	return nil
}

// withDefaultDevice must not be called from the COM thread
func (p *wcaProvider) withDefaultDevice(role mixer.Role, f func(device *wca.IMMDevice) error) error {
	return p.do(func() error {
		return p.defaultDevice(role, f)
	})
}

func (p *wcaProvider) defaultDevice(role mixer.Role, f func(device *wca.IMMDevice) error) error {
	var device *wca.IMMDevice

	if err := p.mmDeviceEnumerator.GetDefaultAudioEndpoint(wca.ERender, uint32(role), &device); err != nil {
		p.logger.Warnw("Failed to call GetDefaultAudioEndpoint", "role", role, "error", err)
		return fmt.Errorf("call GetDefaultAudioEndpoint (%s): %w", role, err)
	}
	defer device.Release()

	return f(device)
}

func (p *wcaProvider) withEndpointVolume(f func(volume *wca.IAudioEndpointVolume) error) error {
	return p.withDefaultDevice(mixer.RoleMultimedia, func(device *wca.IMMDevice) error {
		var audioEndpointVolume *wca.IAudioEndpointVolume

		if err := device.Activate(wca.IID_IAudioEndpointVolume, wca.CLSCTX_ALL, nil, &audioEndpointVolume); err != nil {
			p.logger.Warnw("Failed to activate AudioEndpointVolume", "error", err)
			return fmt.Errorf("activate endpoint volume: %w", err)
		}
		defer audioEndpointVolume.Release()

		return f(audioEndpointVolume)
	})
}

// withSessionVolume finds the first live session of pid on the default multimedia endpoint
func (p *wcaProvider) withSessionVolume(pid uint32, f func(volume *wca.ISimpleAudioVolume) error) error {
	return p.withDefaultDevice(mixer.RoleMultimedia, func(device *wca.IMMDevice) error {
		found := false

		err := p.forEachSession(device, func(control *wca.IAudioSessionControl2, sessionPID uint32) (bool, error) {
			if sessionPID != pid {
				return true, nil
			}
			found = true

			dispatch, err := control.QueryInterface(wca.IID_ISimpleAudioVolume)
			if err != nil {
				return false, fmt.Errorf("query session's ISimpleAudioVolume: %w", err)
			}

			simpleAudioVolume := (*wca.ISimpleAudioVolume)(unsafe.Pointer(dispatch))
			defer simpleAudioVolume.Release()

			return false, f(simpleAudioVolume)
		})
		if err != nil {
			return err
		}

		if !found {
			return fmt.Errorf("session for pid %d: %w", pid, mixer.ErrSessionNotFound)
		}

		return nil
	})
}

// forEachSession visits the sessions of a device whose process is still alive,
// stopping when visit returns false or an error
func (p *wcaProvider) forEachSession(
	device *wca.IMMDevice,
	visit func(control *wca.IAudioSessionControl2, pid uint32) (bool, error),
) error {
	var audioSessionManager2 *wca.IAudioSessionManager2

	if err := device.Activate(wca.IID_IAudioSessionManager2, wca.CLSCTX_ALL, nil, &audioSessionManager2); err != nil {
		p.logger.Warnw("Failed to activate endpoint as IAudioSessionManager2", "error", err)
		return fmt.Errorf("activate endpoint: %w", err)
	}
	defer audioSessionManager2.Release()

	var sessionEnumerator *wca.IAudioSessionEnumerator
	if err := audioSessionManager2.GetSessionEnumerator(&sessionEnumerator); err != nil {
		return fmt.Errorf("get session enumerator: %w", err)
	}
	defer sessionEnumerator.Release()

	var sessionCount int
	if err := sessionEnumerator.GetCount(&sessionCount); err != nil {
		p.logger.Warnw("Failed to get session count from session enumerator", "error", err)
		return fmt.Errorf("get session count: %w", err)
	}

	for sessionIdx := 0; sessionIdx < sessionCount; sessionIdx++ {
		more, err := p.visitSession(sessionEnumerator, sessionIdx, visit)
		if err != nil {
			return err
		}

		if !more {
			return nil
		}
	}

	return nil
}

func (p *wcaProvider) visitSession(
	sessionEnumerator *wca.IAudioSessionEnumerator,
	sessionIdx int,
	visit func(control *wca.IAudioSessionControl2, pid uint32) (bool, error),
) (bool, error) {
	var audioSessionControl *wca.IAudioSessionControl
	if err := sessionEnumerator.GetSession(sessionIdx, &audioSessionControl); err != nil {
		p.logger.Warnw("Failed to get session from session enumerator", "sessionIdx", sessionIdx, "error", err)
		return true, nil
	}
	defer audioSessionControl.Release()

	dispatch, err := audioSessionControl.QueryInterface(wca.IID_IAudioSessionControl2)
	if err != nil {
		p.logger.Warnw("Failed to query session's IAudioSessionControl2", "sessionIdx", sessionIdx, "error", err)
		return true, nil
	}

	audioSessionControl2 := (*wca.IAudioSessionControl2)(unsafe.Pointer(dispatch))
	defer audioSessionControl2.Release()

	var state uint32
	if err := audioSessionControl2.GetState(&state); err == nil && state == wca.AudioSessionStateExpired {
		return true, nil
	}

	var pid uint32
	if err := audioSessionControl2.GetProcessId(&pid); err != nil {
		// UWP applications report the same error but still fill in the pid
		if audioSessionControl2.IsSystemSoundsSession() != nil && !strings.Contains(err.Error(), noCurrentProcessCode) {
			p.logger.Warnw("Failed to query session's pid", "sessionIdx", sessionIdx, "error", err)
			return true, nil
		}
	}

	if pid != 0 {
		process, err := ps.FindProcess(int(pid))
		if err != nil || process == nil {
			p.logger.Debugw("Process already exited, skipping session", "pid", pid)
			return true, nil
		}
	}

	return visit(audioSessionControl2, pid)
}
