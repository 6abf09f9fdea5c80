package parse

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
)

// TickID computes the deterministic idempotency key for an order-flow
// tick: hash(contract_id + "_" + delivery_area + "_" +
// revision_or_timestamp + "_" + order_id + "_" + action_tag). MD5 here is
// an identity hash, not a security boundary; any 128-bit digest over the
// same key material would do.
func TickID(contractID, deliveryArea, revisionOrTimestamp, orderID, actionTag string) string {
	raw := fmt.Sprintf("%s_%s_%s_%s_%s", contractID, deliveryArea, revisionOrTimestamp, orderID, actionTag)
	sum := md5.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}
