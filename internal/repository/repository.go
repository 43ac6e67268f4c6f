package repository

import (
	"otabridge/internal/database"
)

type Repositories struct {
	Payloads    *PayloadRepository
	Amendments  *AmendmentRepository
	Transitions *TransitionRepository
	Channels    *ChannelConfigRepository
	Bus         *BusRepository
	DeadLetters *DeadLetterRepository
}

func NewRepositories(db *database.DB) *Repositories {
	return &Repositories{
		Payloads:    NewPayloadRepository(db),
		Amendments:  NewAmendmentRepository(db),
		Transitions: NewTransitionRepository(db),
		Channels:    NewChannelConfigRepository(db),
		Bus:         NewBusRepository(db),
		DeadLetters: NewDeadLetterRepository(db),
	}
}
