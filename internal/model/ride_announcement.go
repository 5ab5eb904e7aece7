package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// RideAnnouncement is the decoded payload of an AnnounceRide log.
type RideAnnouncement struct {
	RideID          common.Hash      `json:"ride_id"`
	EscrowValueID   common.Hash      `json:"escrow_value_id"`
	AddressCount    uint64           `json:"address_count"`
	DriverAddresses []common.Address `json:"driver_addresses"`
}

// DriverPosition returns the index of driver in the announced queue, or -1.
func (a RideAnnouncement) DriverPosition(driver common.Address) int {
	for i, addr := range a.DriverAddresses {
		if addr == driver {
			return i
		}
	}
	return -1
}

// AcceptWindow returns how long after the announcement the driver's
// acceptance window opens. Each driver ahead in the queue holds the ride for
// perDriver before it passes on.
func (a RideAnnouncement) AcceptWindow(driver common.Address, perDriver time.Duration) (time.Duration, bool) {
	pos := a.DriverPosition(driver)
	if pos < 0 {
		return 0, false
	}
	return time.Duration(pos) * perDriver, true
}
