package shmstore

import (
	"github.com/ehrlich-b/shmstore/internal/constants"
	"github.com/ehrlich-b/shmstore/internal/types"
)

// Re-export constants for the public API.
const (
	ObjectIDSize            = constants.ObjectIDSize
	DefaultArenaSegmentSize = constants.DefaultArenaSegmentSize
	DefaultListenBacklog    = constants.DefaultListenBacklog

	MsgCreate     = constants.MsgCreate
	MsgGet        = constants.MsgGet
	MsgContains   = constants.MsgContains
	MsgSeal       = constants.MsgSeal
	MsgDelete     = constants.MsgDelete
	MsgTransfer   = constants.MsgTransfer
	MsgData       = constants.MsgData
	MsgSubscribe  = constants.MsgSubscribe
	MsgDisconnect = constants.MsgDisconnect
)

// ObjectID, Info, and Handle are re-exported as type aliases so callers
// of the public API never need to import internal/types directly.
type (
	ObjectID = types.ObjectID
	Info     = types.Info
	Handle   = types.Handle
)
