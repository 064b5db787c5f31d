package internal

import (
	"crypto/md5"
	"encoding/hex"
)

func HashURL(url string) string {
	hash := md5.Sum([]byte(url))
	return hex.EncodeToString(hash[:])
}
