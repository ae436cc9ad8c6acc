package token

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"lendex/storage"
)

var (
	ErrInvalidAccount      = errors.New("token: invalid account")
	ErrInsufficientBalance = errors.New("token: insufficient balance")
	ErrBalanceOverflow     = errors.New("token: balance overflow")
	ErrSupplyOverflow      = errors.New("token: supply overflow")
)

var balancePrefix = []byte("token/balance/")

// Ledger tracks fungible token balances in a key-value backend. It implements
// the engine's token movement surface: a failed movement leaves both balances
// untouched.
type Ledger struct {
	db storage.Database
}

// NewLedger binds a ledger to the given backend.
func NewLedger(db storage.Database) *Ledger {
	return &Ledger{db: db}
}

func balanceKey(mint, account string) []byte {
	mint = strings.TrimSpace(mint)
	account = strings.TrimSpace(account)
	key := make([]byte, 0, len(balancePrefix)+len(mint)+1+len(account))
	key = append(key, balancePrefix...)
	key = append(key, mint...)
	key = append(key, '/')
	key = append(key, account...)
	return key
}

// Balance returns the current balance for an account, zero if the account has
// never held the mint.
func (l *Ledger) Balance(mint, account string) (uint64, error) {
	raw, err := l.db.Get(balanceKey(mint, account))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("token: corrupt balance record for %s/%s", mint, account)
	}
	return binary.BigEndian.Uint64(raw), nil
}

func (l *Ledger) setBalance(mint, account string, amount uint64) error {
	key := balanceKey(mint, account)
	if amount == 0 {
		return l.db.Delete(key)
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], amount)
	return l.db.Put(key, buf[:])
}

// Transfer moves amount of mint from one account to another.
func (l *Ledger) Transfer(mint, from, to string, amount uint64) error {
	if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
		return ErrInvalidAccount
	}
	if amount == 0 || from == to {
		return nil
	}
	fromBal, err := l.Balance(mint, from)
	if err != nil {
		return err
	}
	if fromBal < amount {
		return ErrInsufficientBalance
	}
	toBal, err := l.Balance(mint, to)
	if err != nil {
		return err
	}
	if toBal > math.MaxUint64-amount {
		return ErrBalanceOverflow
	}
	if err := l.setBalance(mint, from, fromBal-amount); err != nil {
		return err
	}
	return l.setBalance(mint, to, toBal+amount)
}

// MintTo credits freshly minted tokens to an account.
func (l *Ledger) MintTo(mint, to string, amount uint64) error {
	if strings.TrimSpace(to) == "" {
		return ErrInvalidAccount
	}
	if amount == 0 {
		return nil
	}
	bal, err := l.Balance(mint, to)
	if err != nil {
		return err
	}
	if bal > math.MaxUint64-amount {
		return ErrSupplyOverflow
	}
	return l.setBalance(mint, to, bal+amount)
}

// Burn destroys tokens held by an account.
func (l *Ledger) Burn(mint, from string, amount uint64) error {
	if strings.TrimSpace(from) == "" {
		return ErrInvalidAccount
	}
	if amount == 0 {
		return nil
	}
	bal, err := l.Balance(mint, from)
	if err != nil {
		return err
	}
	if bal < amount {
		return ErrInsufficientBalance
	}
	return l.setBalance(mint, from, bal-amount)
}
