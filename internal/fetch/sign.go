package fetch

import (
	"crypto/md5" //nolint:gosec // provider-mandated request signature
	"encoding/hex"
	"strconv"
)

// Sign computes the provider request signature: an MD5 digest over the
// credential key, secret and timestamp in the provider's fixed layout.
func Sign(appKey, secret string, timestamp int64) string {
	payload := "app" + appKey + "secret" + secret + "timestamp" + strconv.FormatInt(timestamp, 10)
	sum := md5.Sum([]byte(payload)) //nolint:gosec // provider-mandated
	return hex.EncodeToString(sum[:])
}
