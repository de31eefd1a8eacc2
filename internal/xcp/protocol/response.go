package protocol

import (
	"encoding/binary"
	"fmt"
)

// Response is a decoded slave-to-master packet. The concrete type tells
// the caller which kind of packet arrived:
//
//	ConnectResponse, DisconnectResponse, StatusResponse, ShortUploadResponse,
//	SetMTAResponse, DownloadResponse, ChecksumResponse, AckResponse,
//	ErrorResponse, DaqPacket, EventPacket, ServicePacket
type Response interface {
	response()
}

// Minimum positive response lengths, PID included.
const (
	MinConnectResponse  = 8
	MinStatusResponse   = 5
	MinChecksumResponse = 8
	MinAckResponse      = 1
	MinErrorPacket      = 2
)

// ConnectResponse carries the slave capabilities reported by CONNECT.
type ConnectResponse struct {
	Resource         Resource
	CommMode         CommModeBasic
	MaxCTO           uint8
	MaxDTO           uint16
	ProtocolVersion  uint8
	TransportVersion uint8
}

// DisconnectResponse acknowledges DISCONNECT.
type DisconnectResponse struct{}

// StatusResponse carries the GET_STATUS fields.
type StatusResponse struct {
	Session         SessionStatus
	Protection      Resource
	StateNumber     uint8
	SessionConfigID uint16
}

// ShortUploadResponse carries the bytes read by SHORT_UPLOAD.
type ShortUploadResponse struct {
	Address uint32
	Data    []byte
	// Raw is Data accumulated as an unsigned integer in the slave byte order.
	Raw uint64
}

// SetMTAResponse acknowledges SET_MTA.
type SetMTAResponse struct {
	Address uint32
}

// DownloadResponse acknowledges DOWNLOAD.
type DownloadResponse struct {
	Size int
}

// ChecksumResponse carries the BUILD_CHECKSUM result.
type ChecksumResponse struct {
	Type      ChecksumType
	BlockSize uint32
	Checksum  uint32
}

// AckResponse is a positive response without decoded fields, used for
// GET_SYNC and the DAQ configuration commands.
type AckResponse struct {
	Command Command
}

// ErrorResponse is a negative response to the command in flight.
type ErrorResponse struct {
	Command Command
	Code    ErrorCode
}

// Err returns the response as a ProtocolError.
func (r ErrorResponse) Err() *ProtocolError {
	return &ProtocolError{Command: r.Command, Code: r.Code}
}

// DaqPacket is a DTO whose first byte is the DAQ list number.
type DaqPacket struct {
	List uint8
	Data []byte
}

// EventPacket is an asynchronous EV packet.
type EventPacket struct {
	Code uint8
	Data []byte
}

// ServicePacket is an asynchronous SERV packet.
type ServicePacket struct {
	Code uint8
	Data []byte
}

func (ConnectResponse) response()     {}
func (DisconnectResponse) response()  {}
func (StatusResponse) response()      {}
func (ShortUploadResponse) response() {}
func (SetMTAResponse) response()      {}
func (DownloadResponse) response()    {}
func (ChecksumResponse) response()    {}
func (AckResponse) response()         {}
func (ErrorResponse) response()       {}
func (DaqPacket) response()           {}
func (EventPacket) response()         {}
func (ServicePacket) response()       {}

// ChecksumType is byte 1 of a BUILD_CHECKSUM response.
type ChecksumType uint8

const (
	ChecksumAdd11  ChecksumType = 0x01
	ChecksumAdd12  ChecksumType = 0x02
	ChecksumAdd14  ChecksumType = 0x03
	ChecksumAdd22  ChecksumType = 0x04
	ChecksumAdd24  ChecksumType = 0x05
	ChecksumAdd44  ChecksumType = 0x06
	ChecksumCRC16  ChecksumType = 0x07
	ChecksumCRC16C ChecksumType = 0x08
	ChecksumCRC32  ChecksumType = 0x09
	ChecksumUser   ChecksumType = 0xFF
)

func (t ChecksumType) String() string {
	switch t {
	case ChecksumAdd11:
		return "ADD_11"
	case ChecksumAdd12:
		return "ADD_12"
	case ChecksumAdd14:
		return "ADD_14"
	case ChecksumAdd22:
		return "ADD_22"
	case ChecksumAdd24:
		return "ADD_24"
	case ChecksumAdd44:
		return "ADD_44"
	case ChecksumCRC16:
		return "CRC_16"
	case ChecksumCRC16C:
		return "CRC_16_CITT"
	case ChecksumCRC32:
		return "CRC_32"
	case ChecksumUser:
		return "USER_DEFINED"
	default:
		return fmt.Sprintf("0x%02X", uint8(t))
	}
}

// Decode interprets a packet received from the slave. Positive responses
// are decoded against inFlight, the command awaiting an answer; multi-byte
// header fields use order while uploaded values are little endian. A positive response shorter than the command's minimum
// yields a *ShortResponseError and no Response.
func Decode(packet []byte, inFlight CommandPayload, order binary.ByteOrder) (Response, error) {
	if len(packet) == 0 {
		return nil, ErrEmptyPacket
	}
	if order == nil {
		order = binary.LittleEndian
	}

	switch packet[0] {
	case PIDResponse:
		if inFlight.IsEmpty() {
			return nil, ErrUnsolicited
		}
		return decodePositive(packet, inFlight, order)
	case PIDError:
		if len(packet) < MinErrorPacket {
			return nil, &ShortResponseError{Command: inFlight.Command, Got: len(packet), Want: MinErrorPacket}
		}
		return ErrorResponse{Command: inFlight.Command, Code: ErrorCode(packet[1])}, nil
	case PIDEvent:
		return EventPacket{Code: at(packet, 1), Data: tail(packet, 2)}, nil
	case PIDServiceRequest:
		return ServicePacket{Code: at(packet, 1), Data: tail(packet, 2)}, nil
	default:
		return DaqPacket{List: packet[0], Data: tail(packet, 1)}, nil
	}
}

func decodePositive(packet []byte, cmd CommandPayload, order binary.ByteOrder) (Response, error) {
	short := func(want int) error {
		return &ShortResponseError{Command: cmd.Command, Got: len(packet), Want: want}
	}

	switch cmd.Command {
	case CmdConnect:
		if len(packet) < MinConnectResponse {
			return nil, short(MinConnectResponse)
		}
		mode := CommModeBasic(packet[2])
		return ConnectResponse{
			Resource:         Resource(packet[1]),
			CommMode:         mode,
			MaxCTO:           packet[3],
			MaxDTO:           mode.ByteOrder().Uint16(packet[4:6]),
			ProtocolVersion:  packet[6],
			TransportVersion: packet[7],
		}, nil

	case CmdDisconnect:
		return DisconnectResponse{}, nil

	case CmdGetStatus:
		if len(packet) < MinStatusResponse {
			return nil, short(MinStatusResponse)
		}
		resp := StatusResponse{
			Session:     SessionStatus(packet[1]),
			Protection:  Resource(packet[2]),
			StateNumber: packet[3],
		}
		if len(packet) >= 6 {
			resp.SessionConfigID = order.Uint16(packet[4:6])
		} else {
			resp.SessionConfigID = uint16(packet[4])
		}
		return resp, nil

	case CmdShortUpload:
		want := cmd.Size + 1
		if len(packet) < want {
			return nil, short(want)
		}
		data := make([]byte, cmd.Size)
		copy(data, packet[1:want])
		return ShortUploadResponse{Address: cmd.ID, Data: data, Raw: DecodeUint(data, binary.LittleEndian)}, nil

	case CmdSetMTA:
		if len(packet) < MinAckResponse {
			return nil, short(MinAckResponse)
		}
		return SetMTAResponse{Address: cmd.ID}, nil

	case CmdDownload:
		if len(packet) < MinAckResponse {
			return nil, short(MinAckResponse)
		}
		return DownloadResponse{Size: cmd.Size}, nil

	case CmdBuildChecksum:
		if len(packet) < MinChecksumResponse {
			return nil, short(MinChecksumResponse)
		}
		return ChecksumResponse{
			Type:      ChecksumType(packet[1]),
			BlockSize: cmd.ID,
			Checksum:  order.Uint32(packet[4:8]),
		}, nil

	default:
		return AckResponse{Command: cmd.Command}, nil
	}
}

func at(b []byte, i int) uint8 {
	if i < len(b) {
		return b[i]
	}
	return 0
}

func tail(b []byte, from int) []byte {
	if from >= len(b) {
		return nil
	}
	out := make([]byte, len(b)-from)
	copy(out, b[from:])
	return out
}
