package relayer

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// privateKeyToAddress derives the signer address a configured hex-encoded
// private key corresponds to, for the signerAddr the admission checklist's
// step 8 fee-recipient check compares against.
func privateKeyToAddress(hexKey string) (common.Address, error) {
	key := strings.TrimPrefix(hexKey, "0x")
	pk, err := crypto.HexToECDSA(key)
	if err != nil {
		return common.Address{}, fmt.Errorf("relayer: parse signer key: %w", err)
	}
	return crypto.PubkeyToAddress(pk.PublicKey), nil
}

// timeNowUnixMilli is the Service's default wall-clock source; tests
// inject nowMS explicitly instead of relying on this.
func timeNowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
