package ledger

import (
	"time"

	"github.com/fastprodman/balancesync/internal/money"
	"github.com/google/uuid"
)

type Account string

const (
	NoAccount Account = ""
	Cash      Account = "cash"
	Bank      Account = "bank"
)

func (a Account) Valid() bool {
	return a == Cash || a == Bank
}

type Kind string

const (
	Deposit            Kind = "deposit"
	Withdrawal         Kind = "withdrawal"
	StockBuy           Kind = "stock_buy"
	StockSell          Kind = "stock_sell"
	FixedDepositCreate Kind = "fixed_deposit_create"
	FixedDepositClaim  Kind = "fixed_deposit_claim"
	Transfer           Kind = "transfer"
)

// Kinds lists every kind in declaration order.
var Kinds = []Kind{Deposit, Withdrawal, StockBuy, StockSell, FixedDepositCreate, FixedDepositClaim, Transfer}

func (k Kind) Valid() bool {
	_, ok := plans[k]

	return ok
}

type Direction string

const (
	Debit  Direction = "debit"
	Credit Direction = "credit"
)

type Status string

const (
	Pending   Status = "pending"
	Confirmed Status = "confirmed"
	Failed    Status = "failed"
)

// Plan describes the money legs of a kind. The optimistic leg moves
// Account in Direction as soon as the transaction is applied; Settle, when
// set, is credited once the backend confirms.
type Plan struct {
	Direction Direction
	Account   Account
	Settle    Account
}

var plans = map[Kind]Plan{
	Deposit:            {Direction: Debit, Account: Cash, Settle: Bank},
	Withdrawal:         {Direction: Debit, Account: Bank, Settle: Cash},
	StockBuy:           {Direction: Debit, Account: Cash},
	StockSell:          {Direction: Credit, Account: Cash},
	FixedDepositCreate: {Direction: Debit, Account: Bank},
	FixedDepositClaim:  {Direction: Credit, Account: Bank},
	Transfer:           {Direction: Debit, Account: Bank},
}

var compensations = map[Kind]Kind{
	Deposit:            Withdrawal,
	Withdrawal:         Deposit,
	StockBuy:           StockSell,
	StockSell:          StockBuy,
	FixedDepositCreate: FixedDepositClaim,
	FixedDepositClaim:  FixedDepositCreate,
}

func (k Kind) Plan() (Plan, bool) {
	p, ok := plans[k]

	return p, ok
}

// Compensation returns the kind that reverses a confirmed k. Transfers have none.
func (k Kind) Compensation() (Kind, bool) {
	c, ok := compensations[k]

	return c, ok
}

// Balances is a pair of account balances without versioning.
type Balances struct {
	Cash        money.Money `json:"cash"`
	BankBalance money.Money `json:"bankBalance"`
}

func (b Balances) Of(a Account) money.Money {
	if a == Bank {
		return b.BankBalance
	}

	return b.Cash
}

func (b Balances) Equal(o Balances) bool {
	return b.Cash.Equal(o.Cash) && b.BankBalance.Equal(o.BankBalance)
}

// Snapshot is the complete balance state of one session at a point in time.
type Snapshot struct {
	Cash         money.Money `json:"cash"`
	BankBalance  money.Money `json:"bankBalance"`
	Version      int64       `json:"version"`
	LastSyncedAt *time.Time  `json:"lastSyncedAt"`
}

func (s Snapshot) Balances() Balances {
	return Balances{Cash: s.Cash, BankBalance: s.BankBalance}
}

func (s Snapshot) Balance(a Account) money.Money {
	return s.Balances().Of(a)
}

// Meta carries the display-only fields of a transaction.
type Meta struct {
	Kind        Kind
	Description string
	Location    string
	Settle      Account
}

type Transaction struct {
	ID            uuid.UUID   `json:"id"`
	Kind          Kind        `json:"kind"`
	Amount        money.Money `json:"amount"`
	Direction     Direction   `json:"direction"`
	Account       Account     `json:"account"`
	Settle        Account     `json:"settle,omitempty"`
	Description   string      `json:"description"`
	Location      string      `json:"location"`
	Status        Status      `json:"status"`
	FailureReason string      `json:"failureReason,omitempty"`
	Unconfirmed   bool        `json:"unconfirmed,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
	ResolvedAt    *time.Time  `json:"resolvedAt,omitempty"`
}

// delta is the signed change the optimistic leg applied to Account.
func (t Transaction) delta() money.Money {
	if t.Direction == Debit {
		return t.Amount.Neg()
	}

	return t.Amount
}

// Failure describes why a pending transaction is being rolled back.
type Failure struct {
	Reason string
	// Unconfirmed marks failures where the backend may still have applied
	// the transaction (retries exhausted without a definitive answer).
	Unconfirmed bool
}

type Cause string

const (
	CauseDebit    Cause = "debit"
	CauseCredit   Cause = "credit"
	CauseConfirm  Cause = "confirm"
	CauseRollback Cause = "rollback"
	CauseResync   Cause = "resync"
)

// Event is what observers receive after a committed mutation.
type Event struct {
	Cause       Cause         `json:"cause"`
	Snapshot    Snapshot      `json:"snapshot"`
	Transaction *Transaction  `json:"transaction,omitempty"`
	Failed      []Transaction `json:"failed,omitempty"`
}

// Change is handed to the commit hook: the event plus the pending view
// needed for crash-recovery persistence.
type Change struct {
	Event   Event
	Pending []Transaction
}
