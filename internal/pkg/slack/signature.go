package slack

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

const signatureVersion = "v0"

// maxTimestampSkew guards against replayed requests
const maxTimestampSkew = 5 * time.Minute

// VerifySignature checks the v0 HMAC-SHA256 request signature
func VerifySignature(signingSecret, timestamp string, body []byte, signature string) error {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return errors.Wrap(err, "Can't parse request timestamp")
	}
	diff := time.Since(time.Unix(ts, 0))
	if diff > maxTimestampSkew || diff < -maxTimestampSkew {
		return errors.New("Request timestamp out of allowed window")
	}

	mac := hmac.New(sha256.New, []byte(signingSecret))
	mac.Write([]byte(signatureVersion + ":" + timestamp + ":"))
	mac.Write(body)
	expected := signatureVersion + "=" + hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return errors.New("Wrong request signature")
	}
	return nil
}
