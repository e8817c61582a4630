package aster

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
	"time"
)

// Signer implements the HMAC-SHA256 query signing used by the futures API.
type Signer struct {
	apiKey     string
	secret     []byte
	recvWindow int
	now        func() time.Time
}

func NewSigner(apiKey, secret string, recvWindow int) *Signer {
	if recvWindow <= 0 {
		recvWindow = 5000
	}
	return &Signer{apiKey: apiKey, secret: []byte(secret), recvWindow: recvWindow, now: time.Now}
}

// Sign adds timestamp and recvWindow to params and returns the encoded query
// with the signature appended. url.Values.Encode sorts keys.
func (s *Signer) Sign(params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(s.now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.Itoa(s.recvWindow))
	payload := params.Encode()
	return payload + "&signature=" + s.signature(payload)
}

func (s *Signer) signature(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
