package utils

import "sync"

// AvgVal is a running mean, safe for concurrent use.
type AvgVal struct {
	lock  sync.Mutex
	mean  float64
	count int64
}

func (a *AvgVal) Add(val float64) {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.count++
	a.mean += (val - a.mean) / float64(a.count)
}

// Val is the mean so far, 0 before the first Add.
func (a *AvgVal) Val() float64 {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.mean
}

func (a *AvgVal) Count() int64 {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.count
}
