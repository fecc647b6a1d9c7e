// Package strategy defines the yield adapter capability set and the
// reference lending adapter.
package strategy

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "dough/native/common"
)

// Strategy wraps one yield venue. Capital is pushed to the adapter's account
// before Deposit is called; Withdraw and Harvest pay out to `to`.
type Strategy interface {
	ID() string
	Account() common.Address
	RewardToken() common.Address
	Deposit(ctx context.Context, caller common.Address, amount *big.Int) error
	// Withdraw never reports more than was actually recovered.
	Withdraw(ctx context.Context, caller common.Address, amount *big.Int, to common.Address) (*big.Int, error)
	Harvest(ctx context.Context, caller, to common.Address) (*big.Int, error)
	TotalAssets(ctx context.Context) (*big.Int, error)
}

// Stats is the reporting view of an adapter's venue.
type Stats struct {
	ID             string
	Venue          string
	SupplyAPYBps   uint64
	BorrowAPRBps   uint64
	Supplied       *big.Int
	VenueSupplied  *big.Int
	VenueBorrowed  *big.Int
	PendingRewards *big.Int
}

// Reporter is implemented by adapters that expose venue figures.
type Reporter interface {
	Stats(ctx context.Context) (*Stats, error)
}

// OperatorRole names the grant allowed to move capital through adapter id.
func OperatorRole(id string) string {
	return "strategy." + nativecommon.NormalizeLabel(id) + ".operator"
}
