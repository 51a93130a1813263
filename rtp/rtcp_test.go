package rtp

import (
	"testing"

	"github.com/pion/rtcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReceiverReport(t *testing.T) {
	data, err := (&rtcp.ReceiverReport{
		SSRC: 0x11111111,
		Reports: []rtcp.ReceptionReport{{
			SSRC:               0x22222222,
			FractionLost:       64,
			TotalLost:          1234,
			LastSequenceNumber: 0x00015678,
			Jitter:             99,
			LastSenderReport:   0xAABBCCDD,
			Delay:              500,
		}},
	}).Marshal()
	require.NoError(t, err)

	report, err := ParseReport(data)
	require.NoError(t, err)

	rr, ok := report.(*ReceiverReport)
	require.True(t, ok)
	assert.Equal(t, TypeReceiverReport, rr.ReportType())
	assert.Equal(t, uint32(0x11111111), rr.SSRC)
	require.Len(t, rr.Reports, 1)

	block := rr.Reports[0]
	assert.Equal(t, uint32(0x22222222), block.SSRC)
	assert.Equal(t, uint8(64), block.FractionLost)
	assert.Equal(t, uint32(1234), block.TotalLost)
	assert.Equal(t, uint32(0x00015678), block.LastSequence)
	assert.Equal(t, uint32(99), block.Jitter)
	assert.Equal(t, uint32(0xAABBCCDD), block.LastSR)
	assert.Equal(t, uint32(500), block.Delay)
}

func TestParseSenderReport(t *testing.T) {
	// NTP 32.32 fixed point: 100 seconds and a half.
	ntp := uint64(100)<<32 | 1<<31

	data, err := (&rtcp.SenderReport{
		SSRC:        0x33333333,
		NTPTime:     ntp,
		RTPTime:     48000,
		PacketCount: 250,
		OctetCount:  16000,
		Reports: []rtcp.ReceptionReport{{
			SSRC:               0x44444444,
			LastSequenceNumber: 42,
		}},
	}).Marshal()
	require.NoError(t, err)

	report, err := ParseReport(data)
	require.NoError(t, err)

	sr, ok := report.(*SenderReport)
	require.True(t, ok)
	assert.Equal(t, uint32(0x33333333), sr.SSRC)
	assert.InDelta(t, 100.5, sr.Info.NTPTimestamp, 1e-9)
	assert.Equal(t, uint32(48000), sr.Info.RTPTimestamp)
	assert.Equal(t, uint32(250), sr.Info.PacketCount)
	assert.Equal(t, uint32(16000), sr.Info.OctetCount)
	require.Len(t, sr.Reports, 1)
	assert.Equal(t, uint32(0x44444444), sr.Reports[0].SSRC)
}

func TestParseSourceDescription(t *testing.T) {
	data, err := (&rtcp.SourceDescription{
		Chunks: []rtcp.SourceDescriptionChunk{{
			Source: 0x55555555,
			Items: []rtcp.SourceDescriptionItem{{
				Type: rtcp.SDESCNAME,
				Text: "abc",
			}},
		}},
	}).Marshal()
	require.NoError(t, err)

	report, err := ParseReport(data)
	require.NoError(t, err)

	sd, ok := report.(*SourceDescription)
	require.True(t, ok)
	require.Len(t, sd.Chunks, 1)
	assert.Equal(t, uint32(0x55555555), sd.Chunks[0].SSRC)
	require.Len(t, sd.Chunks[0].Items, 1)
	assert.Equal(t, uint8(rtcp.SDESCNAME), sd.Chunks[0].Items[0].Type)
	assert.Equal(t, "abc", sd.Chunks[0].Items[0].Text)
}

func TestParseGoodbye(t *testing.T) {
	data, err := (&rtcp.Goodbye{
		Sources: []uint32{0x66666666, 0x77777777},
		Reason:  "left",
	}).Marshal()
	require.NoError(t, err)

	report, err := ParseReport(data)
	require.NoError(t, err)

	bye, ok := report.(*Goodbye)
	require.True(t, ok)
	assert.Equal(t, []uint32{0x66666666, 0x77777777}, bye.SSRCs)
	assert.Equal(t, "left", bye.Reason)
}

func TestParseApplication(t *testing.T) {
	// Common header with subtype 5 in the count field, then ssrc, the
	// 4-byte name, and application data.
	data := []byte{
		0x85, 204, 0x00, 0x03,
		0x88, 0x88, 0x88, 0x88,
		'T', 'E', 'S', 'T',
		1, 2, 3, 4,
	}

	report, err := ParseReport(data)
	require.NoError(t, err)

	app, ok := report.(*Application)
	require.True(t, ok)
	assert.Equal(t, uint8(5), app.Subtype)
	assert.Equal(t, uint32(0x88888888), app.SSRC)
	assert.Equal(t, "TEST", app.Name)
	assert.Equal(t, []byte{1, 2, 3, 4}, app.Data)
}

func TestParseReportErrors(t *testing.T) {
	// Too short for the common header.
	_, err := ParseReport([]byte{0x80, 200})
	assert.ErrorIs(t, err, ErrMalformedPacket)

	// Wrong version bits.
	_, err = ParseReport([]byte{0x00, 200, 0x00, 0x00})
	assert.ErrorIs(t, err, ErrMalformedPacket)

	// Declared length runs past the datagram.
	_, err = ParseReport([]byte{0x80, 201, 0x00, 0x06, 0, 0, 0, 1})
	assert.ErrorIs(t, err, ErrTruncatedReport)

	// Unknown report type.
	_, err = ParseReport([]byte{0x80, 205, 0x00, 0x00})
	assert.ErrorIs(t, err, ErrUnknownReportType)

	// Count promises more blocks than the body carries.
	_, err = ParseReport([]byte{0x81, 201, 0x00, 0x01, 0, 0, 0, 1})
	assert.ErrorIs(t, err, ErrTruncatedReport)
}
