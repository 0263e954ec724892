package event

import "github.com/ethereum/go-ethereum/common"

// TokenListing registers token under id. Ids are never reused.
type TokenListing struct {
	Meta
	ID    uint16         `json:"id"`
	Token common.Address `json:"token"`
}

func (*TokenListing) Kind() Kind { return KindTokenListing }
