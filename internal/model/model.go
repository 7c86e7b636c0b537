package model

import (
	"github.com/LeonardoBeccarini/espcluster/internal/model/entities"
	"github.com/LeonardoBeccarini/espcluster/internal/model/messages"
)

// Aliases of the types shared by the node services.

type (
	SensorSnapshot = entities.SensorSnapshot
	TimingCommand  = entities.TimingCommand
	DutyCycleState = entities.DutyCycleState
	BoardID        = entities.BoardID
	Addr           = entities.Addr
	Datagram       = messages.Datagram
)
