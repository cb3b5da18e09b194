package handlers

import (
	"net"
	"net/http"
	"sync"
	"time"
)

type attemptData struct {
	count        int
	firstAttempt time.Time
}

// rateLimiter blocks an IP after too many failed sign-ins or reset requests.
type rateLimiter struct {
	sync.Mutex
	attempts map[string]*attemptData
	blocked  map[string]time.Time
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{
		attempts: make(map[string]*attemptData),
		blocked:  make(map[string]time.Time),
	}
}

const (
	maxAttempts    = 5
	blockDuration  = 15 * time.Minute
	windowDuration = 15 * time.Minute
	maxTracked     = 10000
)

// Allow returns false if the IP is currently blocked.
// It also cleans up expired blocks.
func (r *rateLimiter) Allow(ip string) bool {
	r.Lock()
	defer r.Unlock()

	if unblockTime, ok := r.blocked[ip]; ok {
		if time.Now().Before(unblockTime) {
			return false
		}
		delete(r.blocked, ip)
		delete(r.attempts, ip)
	}
	return true
}

// RecordFailure increments the failure count and blocks if threshold reached.
func (r *rateLimiter) RecordFailure(ip string) {
	r.Lock()
	defer r.Unlock()

	if len(r.attempts) > maxTracked {
		r.prune(time.Now())
	}

	data, exists := r.attempts[ip]
	if !exists || time.Since(data.firstAttempt) > windowDuration {
		data = &attemptData{firstAttempt: time.Now()}
		r.attempts[ip] = data
	}
	data.count++
	if data.count >= maxAttempts {
		r.blocked[ip] = time.Now().Add(blockDuration)
	}
}

// prune drops windows and blocks that are over. Callers hold the lock.
func (r *rateLimiter) prune(now time.Time) {
	for ip, data := range r.attempts {
		if now.Sub(data.firstAttempt) > windowDuration {
			delete(r.attempts, ip)
		}
	}
	for ip, until := range r.blocked {
		if now.After(until) {
			delete(r.blocked, ip)
		}
	}
}

// Reset clears the counter for an IP (used on successful login).
func (r *rateLimiter) Reset(ip string) {
	r.Lock()
	defer r.Unlock()
	delete(r.attempts, ip)
	delete(r.blocked, ip)
}

// getClientIP returns the remote IP. middleware.RealIP has already replaced
// RemoteAddr with the forwarded address when there is one.
func getClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
