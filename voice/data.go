package voice

import "github.com/opd-ai/voicerecv/rtp"

// Identity is the resolved speaker behind an SSRC. The mapping is owned
// by the signaling layer; this package only caches lookups.
type Identity struct {
	UserID   uint64
	Username string
}

// LookupFunc resolves an SSRC to a speaker identity. It is supplied by
// the session owner and may report false while the mapping is not yet
// known.
type LookupFunc func(ssrc uint32) (Identity, bool)

// VoiceData is one decoded audio unit for one source.
type VoiceData struct {
	// Packet is the packet this unit was decoded from; a placeholder
	// packet when the unit was synthesized by loss concealment.
	Packet *rtp.Packet

	// Source is the resolved speaker identity, nil while unknown.
	Source *Identity

	// PCM is the decoded audio, interleaved signed 16-bit samples.
	PCM []int16
}

// Opus returns the decrypted Opus frame this unit was decoded from, if
// any.
func (d *VoiceData) Opus() []byte {
	return d.Packet.Decrypted
}

// AudioSink consumes decoded audio units from the router's scheduling
// loop. Implementations live outside this package.
type AudioSink interface {
	Write(source *Identity, data *VoiceData) error
}

// ReportSink consumes report packets from report dispatch.
type ReportSink interface {
	WriteReport(report rtp.Report) error
}

// BasicSink adapts plain functions to the sink interfaces.
type BasicSink struct {
	OnVoice  func(source *Identity, data *VoiceData) error
	OnReport func(report rtp.Report) error
}

// Write forwards to OnVoice when set.
func (s *BasicSink) Write(source *Identity, data *VoiceData) error {
	if s.OnVoice == nil {
		return nil
	}
	return s.OnVoice(source, data)
}

// WriteReport forwards to OnReport when set.
func (s *BasicSink) WriteReport(report rtp.Report) error {
	if s.OnReport == nil {
		return nil
	}
	return s.OnReport(report)
}
