// Package normalize turns venue-specific wire shapes into the common
// trade/tick schema every downstream component consumes. Per-source
// adapters are expected to extract the venue's raw fields and hand them
// to these helpers rather than inventing their own id/slug logic.
package normalize

import (
	"fmt"

	"github.com/google/uuid"
)

var tradeIDNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// TradeID computes the deterministic trade id: a hash of the venue
// transaction hash and asset when both are known, else
// "market:asset:timestampMillis".
func TradeID(txHash, asset, market string, timestampMillis int64) string {
	if txHash != "" && asset != "" {
		return uuid.NewSHA1(tradeIDNamespace, []byte(txHash+":"+asset)).String()
	}
	return fmt.Sprintf("%s:%s:%d", market, asset, timestampMillis)
}
