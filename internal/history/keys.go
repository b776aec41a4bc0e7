package history

import "fmt"

// Key schema: short ASCII prefixes plus zero-padded big-endian-style
// decimal suffixes so lexicographic byte order matches numeric order,
// letting range scans serve "all open orders for a market" and "trades
// after sequence N" without a secondary index. Grounded on the sibling
// kernel's account/keys.go + storage/account_keys.go, consolidated here
// into one schema instead of the two the teacher carried in parallel.

func tokenKey(ticker string) []byte {
	return []byte("tok:" + ticker)
}

func tokenPrefix() []byte { return []byte("tok:") }

func marketKey(id string) []byte {
	return []byte("mkt:" + id)
}

func marketPrefix() []byte { return []byte("mkt:") }

func balanceKey(user, token string) []byte {
	return []byte(fmt.Sprintf("bal:%s:%s", user, token))
}

func balancePrefixForUser(user string) []byte {
	return []byte(fmt.Sprintf("bal:%s:", user))
}

func orderKey(marketID string, orderID int64) []byte {
	return []byte(fmt.Sprintf("ord:%s:%020d", marketID, orderID))
}

func orderPrefix(marketID string) []byte {
	return []byte(fmt.Sprintf("ord:%s:", marketID))
}

func openOrderKey(marketID string, orderID int64) []byte {
	return []byte(fmt.Sprintf("ordopen:%s:%020d", marketID, orderID))
}

func openOrderPrefix(marketID string) []byte {
	return []byte(fmt.Sprintf("ordopen:%s:", marketID))
}

func tradeKey(marketID string, tradeID int64) []byte {
	return []byte(fmt.Sprintf("trade:%s:%020d", marketID, tradeID))
}

func tradePrefix(marketID string) []byte {
	return []byte(fmt.Sprintf("trade:%s:", marketID))
}

func candleKey(marketID, interval string, bucketStartMs int64) []byte {
	return []byte(fmt.Sprintf("candle:%s:%s:%020d", marketID, interval, bucketStartMs))
}

func candlePrefix(marketID, interval string) []byte {
	return []byte(fmt.Sprintf("candle:%s:%s:", marketID, interval))
}

// keyUpperBound returns the smallest key that sorts after every key with
// the given prefix, for use as a pebble iterator's UpperBound.
func keyUpperBound(prefix []byte) []byte {
	out := make([]byte, len(prefix))
	copy(out, prefix)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] == 0xff {
			out = out[:i]
			continue
		}
		out[i]++
		return out[:i+1]
	}
	return nil // prefix is all 0xff bytes; unbounded
}
