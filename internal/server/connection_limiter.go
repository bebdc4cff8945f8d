package server

import (
	"sync"
	"sync/atomic"
)

// ConnectionLimits caps websocket connections globally and per source IP.
type ConnectionLimits struct {
	current atomic.Int64
	max     int64

	mu       sync.Mutex
	perIP    map[string]int
	maxPerIP int
}

// NewConnectionLimits creates a limiter with the given global and per-IP caps.
func NewConnectionLimits(globalMax int64, maxPerIP int) *ConnectionLimits {
	return &ConnectionLimits{
		max:      globalMax,
		perIP:    make(map[string]int),
		maxPerIP: maxPerIP,
	}
}

// LimitReason describes why a connection was rejected.
type LimitReason string

const (
	LimitReasonGlobal LimitReason = "global_limit"
	LimitReasonPerIP  LimitReason = "per_ip_limit"
)

// Acquire attempts to claim a slot for the given IP.
func (l *ConnectionLimits) Acquire(ip string) (bool, LimitReason) {
	for {
		current := l.current.Load()
		if current >= l.max {
			return false, LimitReasonGlobal
		}
		if l.current.CompareAndSwap(current, current+1) {
			break
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.perIP[ip] >= l.maxPerIP {
		l.current.Add(-1)
		return false, LimitReasonPerIP
	}
	l.perIP[ip]++
	return true, ""
}

// Release returns a slot for the given IP.
func (l *ConnectionLimits) Release(ip string) {
	l.mu.Lock()
	if count := l.perIP[ip]; count > 0 {
		l.perIP[ip] = count - 1
		if l.perIP[ip] == 0 {
			delete(l.perIP, ip)
		}
	}
	l.mu.Unlock()
	l.current.Add(-1)
}

// Current returns the number of held slots.
func (l *ConnectionLimits) Current() int64 {
	return l.current.Load()
}
