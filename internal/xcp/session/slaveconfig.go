package session

import (
	"encoding/binary"

	"github.com/tonylturner/xcpmaster/internal/xcp/protocol"
)

// SlaveConfig mirrors what the slave reported about itself. CONNECT fills
// the capability fields, GET_STATUS the session fields.
type SlaveConfig struct {
	Connected bool

	Resources          protocol.Resource
	CommMode           protocol.CommModeBasic
	MaxCTO             int
	MaxDTO             int
	ProtocolVersion    uint8
	TransportVersion   uint8
	AddressGranularity protocol.AddressGranularity

	StatusKnown     bool
	SessionStatus   protocol.SessionStatus
	Protection      protocol.Resource
	StateNumber     uint8
	SessionConfigID uint16

	// SynchErrorCode is the code returned to the last GET_SYNC.
	SynchErrorCode *protocol.ErrorCode
}

// ByteOrder returns the slave byte order.
func (c SlaveConfig) ByteOrder() binary.ByteOrder {
	return c.CommMode.ByteOrder()
}

// DaqRunning reports the DAQ running bit of the last GET_STATUS.
func (c SlaveConfig) DaqRunning() bool {
	return c.SessionStatus.DaqRunning()
}

func (c *SlaveConfig) applyConnect(r protocol.ConnectResponse) {
	c.Connected = true
	c.Resources = r.Resource
	c.CommMode = r.CommMode
	c.MaxCTO = int(r.MaxCTO)
	c.MaxDTO = int(r.MaxDTO)
	c.ProtocolVersion = r.ProtocolVersion
	c.TransportVersion = r.TransportVersion
	c.AddressGranularity = r.CommMode.AddressGranularity()
}

func (c *SlaveConfig) applyStatus(r protocol.StatusResponse) {
	c.StatusKnown = true
	c.SessionStatus = r.Session
	c.Protection = r.Protection
	c.StateNumber = r.StateNumber
	c.SessionConfigID = r.SessionConfigID
}
