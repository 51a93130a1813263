package rtp

import (
	"encoding/binary"
	"fmt"
)

// ReportType identifies a report packet variant.
type ReportType uint8

const (
	// TypeSenderReport carries sender transmission statistics plus
	// reception-quality reports.
	TypeSenderReport ReportType = 200

	// TypeReceiverReport carries reception-quality reports only.
	TypeReceiverReport ReportType = 201

	// TypeSourceDescription carries per-source descriptive items.
	TypeSourceDescription ReportType = 202

	// TypeGoodbye announces the end of one or more sources.
	TypeGoodbye ReportType = 203

	// TypeApplication carries application-defined data.
	TypeApplication ReportType = 204
)

const (
	reportTypeMin = 200
	reportTypeMax = 204

	reportHeaderSize    = 4
	receptionReportSize = 24
	senderInfoSize      = 20
)

// ReportHeader is the 4-byte common header shared by every report
// variant. Count is the reused 5-bit count/subtype field; Length is the
// declared body length in 32-bit words minus one.
type ReportHeader struct {
	Version uint8
	Padding bool
	Count   uint8
	Type    ReportType
	Length  uint16
}

// Report is the closed set of report packet variants.
type Report interface {
	ReportType() ReportType
}

// ReceptionReport is the fixed-size reception-quality block carried by
// sender and receiver reports.
type ReceptionReport struct {
	SSRC         uint32
	FractionLost uint8
	TotalLost    uint32 // 24-bit on the wire
	LastSequence uint32 // extended highest sequence number seen
	Jitter       uint32
	LastSR       uint32
	Delay        uint32 // delay since last SR, 1/65536 seconds
}

// SenderInfo is the sender statistics block of a sender report. The NTP
// timestamp is the wire's 32.32 fixed-point value as a float64.
type SenderInfo struct {
	NTPTimestamp float64
	RTPTimestamp uint32
	PacketCount  uint32
	OctetCount   uint32
}

// SenderReport is report type 200.
type SenderReport struct {
	ReportHeader
	SSRC      uint32
	Info      SenderInfo
	Reports   []ReceptionReport
	Extension []byte
}

func (SenderReport) ReportType() ReportType { return TypeSenderReport }

// ReceiverReport is report type 201.
type ReceiverReport struct {
	ReportHeader
	SSRC      uint32
	Reports   []ReceptionReport
	Extension []byte
}

func (ReceiverReport) ReportType() ReportType { return TypeReceiverReport }

// SourceDescriptionItem is one typed item in a source description chunk.
// Type 0 terminates a chunk's item list.
type SourceDescriptionItem struct {
	Type uint8
	Text string
}

// SourceDescriptionChunk groups the items describing one SSRC.
type SourceDescriptionChunk struct {
	SSRC  uint32
	Items []SourceDescriptionItem
}

// SourceDescription is report type 202.
type SourceDescription struct {
	ReportHeader
	Chunks []SourceDescriptionChunk
}

func (SourceDescription) ReportType() ReportType { return TypeSourceDescription }

// Goodbye is report type 203.
type Goodbye struct {
	ReportHeader
	SSRCs  []uint32
	Reason string
}

func (Goodbye) ReportType() ReportType { return TypeGoodbye }

// Application is report type 204. The 5-bit count field is reused as the
// application-defined subtype.
type Application struct {
	ReportHeader
	Subtype uint8
	SSRC    uint32
	Name    string
	Data    []byte
}

func (Application) ReportType() ReportType { return TypeApplication }

// ParseReport parses a report packet, dispatching on the type byte to
// one of the five fixed-layout readers. The declared word length bounds
// the body; bytes inside the body beyond a variant's fixed layout are
// retained as the profile-specific extension tail where the variant has
// one.
func ParseReport(data []byte) (Report, error) {
	hdr, body, err := parseReportHeader(data)
	if err != nil {
		return nil, err
	}

	switch hdr.Type {
	case TypeSenderReport:
		return parseSenderReport(hdr, body)
	case TypeReceiverReport:
		return parseReceiverReport(hdr, body)
	case TypeSourceDescription:
		return parseSourceDescription(hdr, body)
	case TypeGoodbye:
		return parseGoodbye(hdr, body)
	case TypeApplication:
		return parseApplication(hdr, body)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownReportType, hdr.Type)
	}
}

// parseReportHeader validates the common header and returns it along
// with the body bounded by the declared length.
func parseReportHeader(data []byte) (ReportHeader, []byte, error) {
	if len(data) < reportHeaderSize {
		return ReportHeader{}, nil, fmt.Errorf("%w: %d bytes", ErrMalformedPacket, len(data))
	}
	if data[0]>>6 != 2 {
		return ReportHeader{}, nil, fmt.Errorf("%w: version bits 0b%02b", ErrMalformedPacket, data[0]>>6)
	}

	hdr := ReportHeader{
		Version: data[0] >> 6,
		Padding: data[0]&0x20 != 0,
		Count:   data[0] & 0x1F,
		Type:    ReportType(data[1]),
		Length:  binary.BigEndian.Uint16(data[2:4]),
	}

	end := reportHeaderSize * (int(hdr.Length) + 1)
	if len(data) < end {
		return ReportHeader{}, nil, fmt.Errorf("%w: declared %d bytes, have %d", ErrTruncatedReport, end, len(data))
	}
	return hdr, data[reportHeaderSize:end], nil
}

// parseReceptionReport reads one 24-byte reception-quality block.
func parseReceptionReport(body []byte) ReceptionReport {
	return ReceptionReport{
		SSRC:         binary.BigEndian.Uint32(body[0:4]),
		FractionLost: body[4],
		TotalLost:    binary.BigEndian.Uint32(body[4:8]) & 0xFFFFFF,
		LastSequence: binary.BigEndian.Uint32(body[8:12]),
		Jitter:       binary.BigEndian.Uint32(body[12:16]),
		LastSR:       binary.BigEndian.Uint32(body[16:20]),
		Delay:        binary.BigEndian.Uint32(body[20:24]),
	}
}

func parseSenderReport(hdr ReportHeader, body []byte) (*SenderReport, error) {
	fixed := 4 + senderInfoSize + receptionReportSize*int(hdr.Count)
	if len(body) < fixed {
		return nil, fmt.Errorf("%w: sender report with %d blocks in %d bytes", ErrTruncatedReport, hdr.Count, len(body))
	}

	sr := &SenderReport{
		ReportHeader: hdr,
		SSRC:         binary.BigEndian.Uint32(body[0:4]),
		Info: SenderInfo{
			NTPTimestamp: ntpToFloat(binary.BigEndian.Uint32(body[4:8]), binary.BigEndian.Uint32(body[8:12])),
			RTPTimestamp: binary.BigEndian.Uint32(body[12:16]),
			PacketCount:  binary.BigEndian.Uint32(body[16:20]),
			OctetCount:   binary.BigEndian.Uint32(body[20:24]),
		},
	}
	for i := 0; i < int(hdr.Count); i++ {
		sr.Reports = append(sr.Reports, parseReceptionReport(body[4+senderInfoSize+receptionReportSize*i:]))
	}
	if len(body) > fixed {
		sr.Extension = append([]byte(nil), body[fixed:]...)
	}
	return sr, nil
}

func parseReceiverReport(hdr ReportHeader, body []byte) (*ReceiverReport, error) {
	fixed := 4 + receptionReportSize*int(hdr.Count)
	if len(body) < fixed {
		return nil, fmt.Errorf("%w: receiver report with %d blocks in %d bytes", ErrTruncatedReport, hdr.Count, len(body))
	}

	rr := &ReceiverReport{
		ReportHeader: hdr,
		SSRC:         binary.BigEndian.Uint32(body[0:4]),
	}
	for i := 0; i < int(hdr.Count); i++ {
		rr.Reports = append(rr.Reports, parseReceptionReport(body[4+receptionReportSize*i:]))
	}
	if len(body) > fixed {
		rr.Extension = append([]byte(nil), body[fixed:]...)
	}
	return rr, nil
}

func parseSourceDescription(hdr ReportHeader, body []byte) (*SourceDescription, error) {
	sd := &SourceDescription{ReportHeader: hdr}
	pos := 0

	for c := 0; c < int(hdr.Count); c++ {
		if pos+4 > len(body) {
			return nil, fmt.Errorf("%w: source description chunk %d", ErrTruncatedReport, c)
		}
		chunk := SourceDescriptionChunk{SSRC: binary.BigEndian.Uint32(body[pos:])}
		pos += 4

		for {
			if pos >= len(body) {
				return nil, fmt.Errorf("%w: unterminated description chunk", ErrTruncatedReport)
			}
			itemType := body[pos]
			if itemType == 0 {
				pos++
				break
			}
			if pos+2 > len(body) {
				return nil, fmt.Errorf("%w: description item header", ErrTruncatedReport)
			}
			itemLen := int(body[pos+1])
			if pos+2+itemLen > len(body) {
				return nil, fmt.Errorf("%w: description item body", ErrTruncatedReport)
			}
			chunk.Items = append(chunk.Items, SourceDescriptionItem{
				Type: itemType,
				Text: string(body[pos+2 : pos+2+itemLen]),
			})
			pos += 2 + itemLen
		}

		// chunks are padded to 32-bit boundaries
		if pos%4 != 0 {
			pos += 4 - pos%4
		}
		sd.Chunks = append(sd.Chunks, chunk)
	}
	return sd, nil
}

func parseGoodbye(hdr ReportHeader, body []byte) (*Goodbye, error) {
	if len(body) < 4*int(hdr.Count) {
		return nil, fmt.Errorf("%w: goodbye with %d sources in %d bytes", ErrTruncatedReport, hdr.Count, len(body))
	}

	bye := &Goodbye{ReportHeader: hdr}
	for i := 0; i < int(hdr.Count); i++ {
		bye.SSRCs = append(bye.SSRCs, binary.BigEndian.Uint32(body[4*i:]))
	}

	pos := 4 * int(hdr.Count)
	if pos < len(body) {
		reasonLen := int(body[pos])
		if pos+1+reasonLen > len(body) {
			return nil, fmt.Errorf("%w: goodbye reason", ErrTruncatedReport)
		}
		bye.Reason = string(body[pos+1 : pos+1+reasonLen])
	}
	return bye, nil
}

func parseApplication(hdr ReportHeader, body []byte) (*Application, error) {
	if len(body) < 8 {
		return nil, fmt.Errorf("%w: application packet body %d bytes", ErrTruncatedReport, len(body))
	}
	return &Application{
		ReportHeader: hdr,
		Subtype:      hdr.Count,
		SSRC:         binary.BigEndian.Uint32(body[0:4]),
		Name:         string(body[4:8]),
		Data:         append([]byte(nil), body[8:]...),
	}, nil
}

// ntpToFloat converts a 32.32 fixed-point NTP timestamp to float64.
func ntpToFloat(hi, lo uint32) float64 {
	return float64(hi) + float64(lo)/(1<<32)
}
