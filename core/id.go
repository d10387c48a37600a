package core

import (
	"github.com/google/uuid"

	"pkt.systems/kernelx/schema"
)

func newSessionID() schema.SessionID {
	return schema.SessionID(uuid.NewString())
}
