package common

import (
	"errors"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrModulePaused is returned when an operation targets a paused module.
var ErrModulePaused = errors.New("module paused")

// PauseView exposes the pause switches governing the native modules.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects mutations when the module is paused. A nil view means no
// pause switches are configured and every module is live.
func Guard(view PauseView, module string) error {
	if view == nil {
		return nil
	}
	if view.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// ModuleAddress derives the deterministic treasury address owned by a
// native module. Module addresses have no known private key.
func ModuleAddress(name string) ethcommon.Address {
	hash := ethcrypto.Keccak256([]byte("module/" + name))
	return ethcommon.BytesToAddress(hash[12:])
}
