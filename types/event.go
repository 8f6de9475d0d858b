package types

import (
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/colorfulnotion/avm/common"
)

// Event is a FIRE_EVENT payload tagged with the emitting contract.
type Event struct {
	Address common.Address `json:"address"`
	Depth   int            `json:"depth"`
	Data    hexutil.Bytes  `json:"data"`
}
