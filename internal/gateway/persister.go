package gateway

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/telemost/switchboard/internal/broadcast"
	"github.com/telemost/switchboard/internal/directory"
)

// Persister backs completed flows with the directory and the broadcast
// runner. It satisfies flow.Persister.
type Persister struct {
	db     *gorm.DB
	runner *broadcast.Runner
}

// NewPersister creates a Persister.
func NewPersister(db *gorm.DB, runner *broadcast.Runner) (*Persister, error) {
	if db == nil {
		return nil, fmt.Errorf("gateway: persister: db is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("gateway: persister: broadcast runner is required")
	}
	return &Persister{db: db, runner: runner}, nil
}

func (p *Persister) AddOperator(userID, addedBy int64) (bool, error) {
	return directory.AddOperator(p.db, userID, "", "", addedBy)
}

func (p *Persister) RemoveOperator(userID int64) (bool, error) {
	return directory.RemoveOperator(p.db, userID)
}

func (p *Persister) AddProvider(name, code, providerType string, groupID, addedBy int64) error {
	created, err := directory.AddProvider(p.db, name, code, providerType, groupID, addedBy)
	if err != nil {
		return err
	}
	if !created {
		return fmt.Errorf("gateway: provider code %s already exists", code)
	}
	return nil
}

func (p *Persister) RemoveProvider(code string) (bool, error) {
	return directory.RemoveProvider(p.db, code)
}

func (p *Persister) Broadcast(senderID int64, text string) (int, int, error) {
	return p.runner.Run(context.Background(), senderID, text)
}
