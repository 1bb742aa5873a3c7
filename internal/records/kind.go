// Package records defines the entity kinds moved by the migration and the typed
// record for each kind at the boundary between the document store and PostgreSQL.
package records

import (
	"fmt"
	"strings"
)

// Kind is a category of record migrated independently.
type Kind string

const (
	KindToken Kind = "token"
	KindTrade Kind = "trade"
	KindUser  Kind = "user"
)

// Kinds returns every kind in migration order. Trades reference tokens, so
// tokens are always written first.
func Kinds() []Kind {
	return []Kind{KindToken, KindTrade, KindUser}
}

// ParseKind resolves a kind from its name, case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindToken:
		return KindToken, nil
	case KindTrade:
		return KindTrade, nil
	case KindUser:
		return KindUser, nil
	}
	return "", fmt.Errorf("unknown record kind %q", s)
}

// Collection is the source collection holding documents of this kind.
func (k Kind) Collection() string {
	return string(k) + "s"
}

// Table is the destination table receiving rows of this kind.
func (k Kind) Table() string {
	return string(k) + "s"
}

// Label is the display name used in console output.
func (k Kind) Label() string {
	switch k {
	case KindToken:
		return "Token"
	case KindTrade:
		return "Trade"
	case KindUser:
		return "User"
	}
	return string(k)
}

// Position returns the index of k in migration order, or -1.
func (k Kind) Position() int {
	for i, kind := range Kinds() {
		if kind == k {
			return i
		}
	}
	return -1
}

func (k Kind) String() string {
	return string(k)
}
