package soundcontrol

import (
	"fmt"
	"net"
	"strconv"

	"github.com/jfreymuth/pulse/proto"
	"go.uber.org/zap"

	"github.com/stalexteam/soundcontrol/pkg/soundcontrol/mixer"
	"github.com/stalexteam/soundcontrol/pkg/soundcontrol/util"
)

// normal PulseAudio volume (100%)
const maxVolume = 0x10000

// sink inputs carry no native identifier, one is synthesized in the
// prefix|path%suffix shape so executable names resolve the same way
const sinkInputIdentifierFormat = "pulse.sink-input.%d|%s%%b{%d}"

type paProvider struct {
	logger *zap.SugaredLogger

	client *proto.Client
	conn   net.Conn
}

func newProvider(logger *zap.SugaredLogger) (mixer.Provider, error) {
	client, conn, err := proto.Connect("")
	if err != nil {
		logger.Warnw("Failed to establish PulseAudio connection", "error", err)
		return nil, fmt.Errorf("establish PulseAudio connection: %w", err)
	}

	request := proto.SetClientName{
		Props: proto.PropList{
			"application.name": proto.PropListString("soundcontrol"),
		},
	}
	reply := proto.SetClientNameReply{}

	if err := client.Request(&request, &reply); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set client name: %w", err)
	}

	p := &paProvider{
		logger: logger.Named("provider"),
		client: client,
		conn:   conn,
	}

	p.logger.Debug("Created PA audio provider")
	return p, nil
}

func (p *paProvider) ListEndpoints() ([]mixer.RawEndpoint, error) {
	request := proto.GetSinkInfoList{}
	reply := proto.GetSinkInfoListReply{}

	if err := p.client.Request(&request, &reply); err != nil {
		p.logger.Warnw("Failed to get sink list", "error", err)
		return nil, fmt.Errorf("get sink list: %w", err)
	}

	endpoints := make([]mixer.RawEndpoint, 0, len(reply))
	for _, sink := range reply {
		if sink == nil {
			continue
		}

		// sinks that are gone are not listed at all
		endpoints = append(endpoints, mixer.RawEndpoint{
			ID:          sink.SinkName,
			State:       mixer.EndpointActive,
			DriverClass: property(sink.Properties, "device.bus"),
			Description: sinkDescription(sink),
		})
	}

	return endpoints, nil
}

// DefaultEndpoint ignores the role, PulseAudio has a single default sink
func (p *paProvider) DefaultEndpoint(role mixer.Role) (string, error) {
	request := proto.GetServerInfo{}
	reply := proto.GetServerInfoReply{}

	if err := p.client.Request(&request, &reply); err != nil {
		p.logger.Warnw("Failed to get server info", "error", err)
		return "", fmt.Errorf("get server info: %w", err)
	}

	return reply.DefaultSinkName, nil
}

func (p *paProvider) ListSessions(endpointID string) ([]mixer.RawSession, error) {
	sink, err := p.sink(endpointID)
	if err != nil {
		return nil, err
	}

	inputs, err := p.sinkInputs(sink.SinkIndex)
	if err != nil {
		return nil, err
	}

	sessions := make([]mixer.RawSession, 0, len(inputs))
	for _, info := range inputs {
		pid := sinkInputPID(info)

		binary := property(info.Properties, "application.process.binary")
		if pid != 0 {
			if path, err := util.GetProcessPath(int(pid)); err == nil {
				binary = path
			}
		}

		raw := mixer.RawSession{
			DisplayName: property(info.Properties, "application.name"),
			IconHint:    property(info.Properties, "application.icon_name"),
			ProcessID:   pid,
		}

		if binary != "" {
			raw.SessionIdentifier = fmt.Sprintf(sinkInputIdentifierFormat, info.SinkInputIndex, binary, info.SinkInputIndex)
		}

		sessions = append(sessions, raw)
	}

	return sessions, nil
}

func (p *paProvider) MasterVolume() (int, error) {
	sink, err := p.sink("")
	if err != nil {
		return 0, err
	}

	return util.ScalarToPercent(parseChannelVolumes(sink.ChannelVolumes)), nil
}

func (p *paProvider) MasterMute() (bool, error) {
	sink, err := p.sink("")
	if err != nil {
		return false, err
	}

	return sink.Mute, nil
}

func (p *paProvider) SetMasterVolume(level int) error {
	sink, err := p.sink("")
	if err != nil {
		return err
	}

	request := proto.SetSinkVolume{
		SinkIndex:      sink.SinkIndex,
		ChannelVolumes: createChannelVolumes(sink.Channels, util.PercentToScalar(mixer.ClampLevel(level))),
	}

	if err := p.client.Request(&request, nil); err != nil {
		p.logger.Warnw("Failed to set master volume", "error", err, "volume", level)
		return fmt.Errorf("adjust master volume: %w", err)
	}

	return nil
}

func (p *paProvider) SetMasterMute(muted bool) error {
	sink, err := p.sink("")
	if err != nil {
		return err
	}

	request := proto.SetSinkMute{
		SinkIndex: sink.SinkIndex,
		Mute:      muted,
	}

	if err := p.client.Request(&request, nil); err != nil {
		p.logger.Warnw("Failed to set master mute state", "error", err)
		return fmt.Errorf("set master mute: %w", err)
	}

	return nil
}

func (p *paProvider) SessionVolume(pid uint32) (int, error) {
	info, err := p.sessionInput(pid)
	if err != nil {
		return 0, err
	}

	return util.ScalarToPercent(parseChannelVolumes(info.ChannelVolumes)), nil
}

func (p *paProvider) SessionMute(pid uint32) (bool, error) {
	info, err := p.sessionInput(pid)
	if err != nil {
		return false, err
	}

	return info.Muted, nil
}

func (p *paProvider) SetSessionVolume(pid uint32, level int) error {
	info, err := p.sessionInput(pid)
	if err != nil {
		return err
	}

	request := proto.SetSinkInputVolume{
		SinkInputIndex: info.SinkInputIndex,
		ChannelVolumes: createChannelVolumes(info.Channels, util.PercentToScalar(mixer.ClampLevel(level))),
	}

	if err := p.client.Request(&request, nil); err != nil {
		p.logger.Warnw("Failed to set session volume", "pid", pid, "error", err)
		return fmt.Errorf("adjust session volume: %w", err)
	}

	return nil
}

func (p *paProvider) SetSessionMute(pid uint32, muted bool) error {
	info, err := p.sessionInput(pid)
	if err != nil {
		return err
	}

	request := proto.SetSinkInputMute{
		SinkInputIndex: info.SinkInputIndex,
		Mute:           muted,
	}

	if err := p.client.Request(&request, nil); err != nil {
		p.logger.Warnw("Failed to set session mute state", "pid", pid, "error", err)
		return fmt.Errorf("set session mute: %w", err)
	}

	return nil
}

// SetDefaultEndpoint applies to every role at once
func (p *paProvider) SetDefaultEndpoint(id string, role mixer.Role) error {
	if _, err := p.sink(id); err != nil {
		return err
	}

	request := proto.SetDefaultSink{SinkName: id}
	if err := p.client.Request(&request, nil); err != nil {
		p.logger.Warnw("Failed to set default sink", "sink", id, "role", role, "error", err)
		return fmt.Errorf("set default sink: %w", err)
	}

	return nil
}

func (p *paProvider) Release() error {
	if err := p.conn.Close(); err != nil {
		p.logger.Warnw("Failed to close PulseAudio connection", "error", err)
		return fmt.Errorf("close PulseAudio connection: %w", err)
	}

	p.logger.Debug("Released PA audio provider")
	return nil
}

// sink looks a sink up by name, the empty name meaning the default sink
func (p *paProvider) sink(name string) (*proto.GetSinkInfoReply, error) {
	request := proto.GetSinkInfo{
		SinkIndex: proto.Undefined,
		SinkName:  name,
	}
	reply := proto.GetSinkInfoReply{}

	if err := p.client.Request(&request, &reply); err != nil {
		if name == "" {
			p.logger.Warnw("Failed to get default sink info", "error", err)
			return nil, fmt.Errorf("get default sink info: %w", err)
		}

		return nil, fmt.Errorf("get sink %s: %w", name, mixer.ErrEndpointNotFound)
	}

	return &reply, nil
}

func (p *paProvider) sinkInputs(sinkIndex uint32) ([]*proto.GetSinkInputInfoReply, error) {
	request := proto.GetSinkInputInfoList{}
	reply := proto.GetSinkInputInfoListReply{}

	if err := p.client.Request(&request, &reply); err != nil {
		p.logger.Warnw("Failed to get sink input list", "error", err)
		return nil, fmt.Errorf("get sink input list: %w", err)
	}

	inputs := make([]*proto.GetSinkInputInfoReply, 0, len(reply))
	for _, info := range reply {
		if info != nil && info.SinkIndex == sinkIndex {
			inputs = append(inputs, info)
		}
	}

	return inputs, nil
}

// sessionInput finds the first sink input of pid on the default sink
func (p *paProvider) sessionInput(pid uint32) (*proto.GetSinkInputInfoReply, error) {
	sink, err := p.sink("")
	if err != nil {
		return nil, err
	}

	inputs, err := p.sinkInputs(sink.SinkIndex)
	if err != nil {
		return nil, err
	}

	for _, info := range inputs {
		if sinkInputPID(info) == pid {
			return info, nil
		}
	}

	return nil, fmt.Errorf("sink input for pid %d: %w", pid, mixer.ErrSessionNotFound)
}

func sinkInputPID(info *proto.GetSinkInputInfoReply) uint32 {
	pid, err := strconv.ParseUint(property(info.Properties, "application.process.id"), 10, 32)
	if err != nil {
		return 0
	}

	return uint32(pid)
}

func sinkDescription(sink *proto.GetSinkInfoReply) string {
	if description := property(sink.Properties, "device.description"); description != "" {
		return description
	}

	return sink.SinkName
}

func property(props proto.PropList, key string) string {
	if props == nil {
		return ""
	}

	entry, ok := props[key]
	if !ok {
		return ""
	}

	return entry.String()
}

func createChannelVolumes(channels byte, volume float32) []uint32 {
	volumes := make([]uint32, channels)

	for i := range volumes {
		volumes[i] = uint32(volume * maxVolume)
	}

	return volumes
}

func parseChannelVolumes(volumes []uint32) float32 {
	if len(volumes) == 0 {
		return 0
	}

	var level uint32
	for _, volume := range volumes {
		level += volume
	}

	return float32(level) / float32(len(volumes)) / float32(maxVolume)
}
