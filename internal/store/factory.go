package store

import (
	"nixo.app/triage/core/db"
)

// Stores binds every Postgres store to one connection or transaction.
type Stores struct {
	db db.DBTX
}

func NewStores(conn db.DBTX) *Stores {
	return &Stores{db: conn}
}

func (s *Stores) Tickets() TicketStore {
	return newTicketStore(s.db)
}

func (s *Stores) Messages() MessageStore {
	return newMessageStore(s.db)
}
