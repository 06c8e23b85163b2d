package config

import (
	"os"
	"strconv"
	"sync"
)

const minTxRetry = 3

var (
	txRetry     int
	txRetryOnce sync.Once
)

// GetTxRetry returns how many times a failed transaction is attempted. It is
// read once from MCLOAD_TX_RETRY and never drops below 3.
func GetTxRetry() int {
	txRetryOnce.Do(func() {
		n, err := strconv.Atoi(os.Getenv("MCLOAD_TX_RETRY"))
		if err != nil || n < minTxRetry {
			n = minTxRetry
		}
		txRetry = n
	})

	return txRetry
}
