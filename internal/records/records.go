package records

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	opserrors "github.com/memeplatform/memeops/internal/errors"
)

// Record is a validated row ready for insertion into its destination table.
type Record interface {
	// Kind reports the entity kind of the record.
	Kind() Kind

	// SourceID is the identity of the originating document.
	SourceID() string

	// Columns lists destination columns in the order of Values.
	Columns() []string

	// Values returns the column values, encoding the attributes column.
	Values() ([]any, error)
}

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Token is a launched meme token.
type Token struct {
	ID          string
	Name        string
	Symbol      string
	MintAddress string
	Creator     string
	Decimals    *int64
	TotalSupply decimal.NullDecimal
	CreatedAt   *time.Time
	Attributes  Document
}

func (t *Token) Kind() Kind       { return KindToken }
func (t *Token) SourceID() string { return t.ID }

func (t *Token) Columns() []string {
	return []string{"source_id", "name", "symbol", "mint_address", "creator", "decimals", "total_supply", "created_at", "attributes"}
}

func (t *Token) Values() ([]any, error) {
	attrs, err := encodeAttributes(t.Attributes)
	if err != nil {
		return nil, err
	}
	return []any{t.ID, t.Name, t.Symbol, nullString(t.MintAddress), nullString(t.Creator), nullInt(t.Decimals), t.TotalSupply, nullTime(t.CreatedAt), attrs}, nil
}

// Trade is a buy or sell of a token.
type Trade struct {
	ID           string
	TokenAddress string
	Trader       string
	Side         Side
	Amount       decimal.Decimal
	Price        decimal.NullDecimal
	TxSignature  string
	ExecutedAt   *time.Time
	Attributes   Document
}

func (t *Trade) Kind() Kind       { return KindTrade }
func (t *Trade) SourceID() string { return t.ID }

func (t *Trade) Columns() []string {
	return []string{"source_id", "token_address", "trader", "side", "amount", "price", "tx_signature", "executed_at", "attributes"}
}

func (t *Trade) Values() ([]any, error) {
	attrs, err := encodeAttributes(t.Attributes)
	if err != nil {
		return nil, err
	}
	return []any{t.ID, t.TokenAddress, nullString(t.Trader), string(t.Side), t.Amount, t.Price, nullString(t.TxSignature), nullTime(t.ExecutedAt), attrs}, nil
}

// User is a platform account identified by its wallet.
type User struct {
	ID            string
	WalletAddress string
	Username      string
	CreatedAt     *time.Time
	Attributes    Document
}

func (u *User) Kind() Kind       { return KindUser }
func (u *User) SourceID() string { return u.ID }

func (u *User) Columns() []string {
	return []string{"source_id", "wallet_address", "username", "created_at", "attributes"}
}

func (u *User) Values() ([]any, error) {
	attrs, err := encodeAttributes(u.Attributes)
	if err != nil {
		return nil, err
	}
	return []any{u.ID, u.WalletAddress, nullString(u.Username), nullTime(u.CreatedAt), attrs}, nil
}

// Parse validates doc against the typed record of kind. Failures are returned as
// *errors.ErrRecordInvalid naming the offending field.
func Parse(kind Kind, doc Document) (Record, error) {
	id := doc.SourceID()
	if id == "" {
		return nil, opserrors.NewRecordInvalid(kind.Label(), "", "_id", "is required")
	}

	var (
		rec Record
		err error
	)
	switch kind {
	case KindToken:
		rec, err = parseToken(id, doc)
	case KindTrade:
		rec, err = parseTrade(id, doc)
	case KindUser:
		rec, err = parseUser(id, doc)
	default:
		return nil, fmt.Errorf("records: unsupported kind %q", kind)
	}
	if err == nil {
		err = checkEncodable(doc.Strip())
	}
	if err != nil {
		var fe *fieldError
		if errors.As(err, &fe) {
			return nil, opserrors.NewRecordInvalid(kind.Label(), id, fe.field, fe.reason)
		}
		return nil, err
	}
	return rec, nil
}

func parseToken(id string, doc Document) (*Token, error) {
	t := &Token{ID: id, Attributes: doc.Strip()}
	var err error
	if t.Name, err = doc.requiredString("name"); err != nil {
		return nil, err
	}
	if t.Symbol, err = doc.requiredString("symbol", "ticker"); err != nil {
		return nil, err
	}
	if t.MintAddress, err = doc.optionalString("mintAddress", "address", "mint"); err != nil {
		return nil, err
	}
	if t.Creator, err = doc.optionalString("creator", "creatorAddress", "owner"); err != nil {
		return nil, err
	}
	if t.Decimals, err = doc.optionalInt("decimals"); err != nil {
		return nil, err
	}
	if t.Decimals != nil && (*t.Decimals < 0 || *t.Decimals > 255) {
		return nil, &fieldError{field: "decimals", reason: "must be between 0 and 255"}
	}
	if t.TotalSupply, err = doc.optionalDecimal("totalSupply", "supply"); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = doc.optionalTime("createdAt"); err != nil {
		return nil, err
	}
	return t, nil
}

func parseTrade(id string, doc Document) (*Trade, error) {
	t := &Trade{ID: id, Attributes: doc.Strip()}
	var err error
	if t.TokenAddress, err = doc.requiredString("tokenAddress", "token", "mint"); err != nil {
		return nil, err
	}
	if t.Trader, err = doc.optionalString("trader", "user", "walletAddress", "wallet"); err != nil {
		return nil, err
	}
	if t.Side, err = parseSide(doc); err != nil {
		return nil, err
	}
	if t.Amount, err = doc.requiredDecimal("amount", "tokenAmount"); err != nil {
		return nil, err
	}
	if t.Amount.IsNegative() {
		return nil, &fieldError{field: "amount", reason: "must not be negative"}
	}
	if t.Price, err = doc.optionalDecimal("price", "solAmount"); err != nil {
		return nil, err
	}
	if t.TxSignature, err = doc.optionalString("signature", "txHash", "txSignature"); err != nil {
		return nil, err
	}
	if t.ExecutedAt, err = doc.optionalTime("timestamp", "createdAt"); err != nil {
		return nil, err
	}
	return t, nil
}

func parseSide(doc Document) (Side, error) {
	if v, ok := doc["isBuy"]; ok && v != nil {
		b, ok := v.(bool)
		if !ok {
			return "", &fieldError{field: "isBuy", reason: fmt.Sprintf("must be a boolean, got %T", v)}
		}
		if b {
			return SideBuy, nil
		}
		return SideSell, nil
	}
	name, v, ok := doc.lookup("type", "side")
	if !ok {
		return "", &fieldError{field: name, reason: "is required"}
	}
	s, err := asString(v)
	if err != nil {
		return "", &fieldError{field: name, reason: err.Error()}
	}
	switch Side(strings.ToLower(s)) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	}
	return "", &fieldError{field: name, reason: fmt.Sprintf("must be buy or sell, got %q", s)}
}

func parseUser(id string, doc Document) (*User, error) {
	u := &User{ID: id, Attributes: doc.Strip()}
	var err error
	if u.WalletAddress, err = doc.requiredString("walletAddress", "wallet", "address"); err != nil {
		return nil, err
	}
	if u.Username, err = doc.optionalString("username", "name"); err != nil {
		return nil, err
	}
	if u.CreatedAt, err = doc.optionalTime("createdAt"); err != nil {
		return nil, err
	}
	return u, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n *int64) any {
	if n == nil {
		return nil
	}
	return *n
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
