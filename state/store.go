package state

import (
	"errors"

	"lendex/native/lending"
	"lendex/storage"
)

// Store persists lending records in a key-value backend. It satisfies the
// engine's persistence surface: missing records return nil without error.
type Store struct {
	db storage.Database
}

// NewStore binds a store to the given backend.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

func (s *Store) get(key []byte) ([]byte, error) {
	raw, err := s.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	return raw, err
}

// GetMarket loads a lending market, nil if absent.
func (s *Store) GetMarket(marketID string) (*lending.LendingMarket, error) {
	raw, err := s.get(marketKey(marketID))
	if err != nil || raw == nil {
		return nil, err
	}
	return decodeMarket(raw)
}

// PutMarket stores a lending market.
func (s *Store) PutMarket(marketID string, market *lending.LendingMarket) error {
	encoded, err := encodeMarket(market)
	if err != nil {
		return err
	}
	return s.db.Put(marketKey(marketID), encoded)
}

// GetReserve loads a reserve, nil if absent. Legacy records are upgraded to
// the current schema transparently.
func (s *Store) GetReserve(marketID, reserveID string) (*lending.Reserve, error) {
	raw, err := s.get(reserveKey(marketID, reserveID))
	if err != nil || raw == nil {
		return nil, err
	}
	return decodeReserve(raw)
}

// PutReserve stores a reserve, always in the current schema.
func (s *Store) PutReserve(marketID, reserveID string, reserve *lending.Reserve) error {
	encoded, err := encodeReserve(reserve)
	if err != nil {
		return err
	}
	return s.db.Put(reserveKey(marketID, reserveID), encoded)
}

// GetObligation loads an obligation, nil if absent.
func (s *Store) GetObligation(marketID, obligationID string) (*lending.Obligation, error) {
	raw, err := s.get(obligationKey(marketID, obligationID))
	if err != nil || raw == nil {
		return nil, err
	}
	return decodeObligation(raw)
}

// PutObligation stores an obligation.
func (s *Store) PutObligation(marketID, obligationID string, obligation *lending.Obligation) error {
	encoded, err := encodeObligation(obligation)
	if err != nil {
		return err
	}
	return s.db.Put(obligationKey(marketID, obligationID), encoded)
}

// DeleteObligation removes an obligation record.
func (s *Store) DeleteObligation(marketID, obligationID string) error {
	return s.db.Delete(obligationKey(marketID, obligationID))
}
