package matching

import "sync/atomic"

func loadFlag(f *uint32) bool { return atomic.LoadUint32(f) == 1 }

func storeFlag(f *uint32, v bool) {
	if v {
		atomic.StoreUint32(f, 1)
	} else {
		atomic.StoreUint32(f, 0)
	}
}
