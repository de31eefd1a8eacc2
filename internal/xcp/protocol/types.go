package protocol

// XCP protocol types.
//
// Every XCP packet starts with a packet identifier (PID). On the command
// channel the master sends a command PID, the slave answers with a positive
// response (0xFF), an error (0xFE), an event (0xFD) or a service request
// (0xFC). Any other first byte from the slave identifies a DAQ packet.

// Command is the PID of a master-to-slave command packet.
type Command uint8

const (
	CmdConnect          Command = 0xFF
	CmdDisconnect       Command = 0xFE
	CmdGetStatus        Command = 0xFD
	CmdGetSync          Command = 0xFC
	CmdSetMTA           Command = 0xF6
	CmdShortUpload      Command = 0xF4
	CmdBuildChecksum    Command = 0xF3
	CmdDownload         Command = 0xF0
	CmdSetDaqListMode   Command = 0xE0
	CmdWriteDaq         Command = 0xE1
	CmdSetDaqPtr        Command = 0xE2
	CmdStartStopDaqList Command = 0xDE
	CmdStartStopSynch   Command = 0xDD
	CmdFreeDaq          Command = 0xD6
	CmdAllocDaq         Command = 0xD5
	CmdAllocODT         Command = 0xD4
	CmdAllocODTEntry    Command = 0xD3
)

// Slave-to-master packet identifiers.
const (
	PIDResponse       uint8 = 0xFF
	PIDError          uint8 = 0xFE
	PIDEvent          uint8 = 0xFD
	PIDServiceRequest uint8 = 0xFC
)

// String returns the command name as written in the ASAM standard.
func (c Command) String() string {
	switch c {
	case CmdConnect:
		return "CONNECT"
	case CmdDisconnect:
		return "DISCONNECT"
	case CmdGetStatus:
		return "GET_STATUS"
	case CmdGetSync:
		return "GET_SYNC"
	case CmdSetMTA:
		return "SET_MTA"
	case CmdShortUpload:
		return "SHORT_UPLOAD"
	case CmdBuildChecksum:
		return "BUILD_CHECKSUM"
	case CmdDownload:
		return "DOWNLOAD"
	case CmdSetDaqListMode:
		return "SET_DAQ_LIST_MODE"
	case CmdWriteDaq:
		return "WRITE_DAQ"
	case CmdSetDaqPtr:
		return "SET_DAQ_PTR"
	case CmdStartStopDaqList:
		return "START_STOP_DAQ_LIST"
	case CmdStartStopSynch:
		return "START_STOP_SYNCH"
	case CmdFreeDaq:
		return "FREE_DAQ"
	case CmdAllocDaq:
		return "ALLOC_DAQ"
	case CmdAllocODT:
		return "ALLOC_ODT"
	case CmdAllocODTEntry:
		return "ALLOC_ODT_ENTRY"
	default:
		return "UNKNOWN"
	}
}

// IsDaqConfig reports whether the command belongs to dynamic DAQ provisioning.
func (c Command) IsDaqConfig() bool {
	switch c {
	case CmdFreeDaq, CmdAllocDaq, CmdAllocODT, CmdAllocODTEntry,
		CmdSetDaqPtr, CmdWriteDaq, CmdSetDaqListMode,
		CmdStartStopDaqList, CmdStartStopSynch:
		return true
	default:
		return false
	}
}

// ErrorCode is the second byte of an XCP error packet.
type ErrorCode uint8

const (
	ErrCmdSynch                       ErrorCode = 0x00
	ErrCmdBusy                        ErrorCode = 0x10
	ErrDaqActive                      ErrorCode = 0x11
	ErrPgmActive                      ErrorCode = 0x12
	ErrCmdUnknown                     ErrorCode = 0x20
	ErrCmdSyntax                      ErrorCode = 0x21
	ErrOutOfRange                     ErrorCode = 0x22
	ErrWriteProtected                 ErrorCode = 0x23
	ErrAccessDenied                   ErrorCode = 0x24
	ErrAccessLocked                   ErrorCode = 0x25
	ErrPageNotValid                   ErrorCode = 0x26
	ErrModeNotValid                   ErrorCode = 0x27
	ErrSegmentNotValid                ErrorCode = 0x28
	ErrSequence                       ErrorCode = 0x29
	ErrDaqConfig                      ErrorCode = 0x2A
	ErrMemoryOverflow                 ErrorCode = 0x30
	ErrGeneric                        ErrorCode = 0x31
	ErrVerify                         ErrorCode = 0x32
	ErrResourceTemporaryNotAccessible ErrorCode = 0x33
	ErrSubCmdUnknown                  ErrorCode = 0x34
)

type errorInfo struct {
	name    string
	message string
}

var errorTable = map[ErrorCode]errorInfo{
	ErrCmdSynch:                       {"ERR_CMD_SYNCH", "command processor synchronization"},
	ErrCmdBusy:                        {"ERR_CMD_BUSY", "command was not executed"},
	ErrDaqActive:                      {"ERR_DAQ_ACTIVE", "command rejected because DAQ is running"},
	ErrPgmActive:                      {"ERR_PGM_ACTIVE", "command rejected because PGM is running"},
	ErrCmdUnknown:                     {"ERR_CMD_UNKNOWN", "unknown command or not implemented optional command"},
	ErrCmdSyntax:                      {"ERR_CMD_SYNTAX", "command syntax invalid"},
	ErrOutOfRange:                     {"ERR_OUT_OF_RANGE", "command syntax valid but command parameter(s) out of range"},
	ErrWriteProtected:                 {"ERR_WRITE_PROTECTED", "the memory location is write protected"},
	ErrAccessDenied:                   {"ERR_ACCESS_DENIED", "the memory location is not accessible"},
	ErrAccessLocked:                   {"ERR_ACCESS_LOCKED", "access denied, seed & key is required"},
	ErrPageNotValid:                   {"ERR_PAGE_NOT_VALID", "selected page not available"},
	ErrModeNotValid:                   {"ERR_MODE_NOT_VALID", "selected page mode not available"},
	ErrSegmentNotValid:                {"ERR_SEGMENT_NOT_VALID", "selected segment not valid"},
	ErrSequence:                       {"ERR_SEQUENCE", "sequence error"},
	ErrDaqConfig:                      {"ERR_DAQ_CONFIG", "DAQ configuration not valid"},
	ErrMemoryOverflow:                 {"ERR_MEMORY_OVERFLOW", "memory overflow error"},
	ErrGeneric:                        {"ERR_GENERIC", "generic error"},
	ErrVerify:                         {"ERR_VERIFY", "the slave internal program verify routine detects an error"},
	ErrResourceTemporaryNotAccessible: {"ERR_RESOURCE_TEMPORARY_NOT_ACCESSIBLE", "access to the requested resource is temporary not possible"},
	ErrSubCmdUnknown:                  {"ERR_SUBCMD_UNKNOWN", "unknown sub command or not implemented optional sub command"},
}

// String returns the ASAM name of the error code.
func (e ErrorCode) String() string {
	if info, ok := errorTable[e]; ok {
		return info.name
	}
	return "ERR_UNKNOWN"
}

// Message returns a human-readable description of the error code.
func (e ErrorCode) Message() string {
	if info, ok := errorTable[e]; ok {
		return info.message
	}
	return "unknown error"
}

// Known reports whether the code is one of the defined XCP error codes.
func (e ErrorCode) Known() bool {
	_, ok := errorTable[e]
	return ok
}
