package domain

// RateLimiter gates message publication per user with a sliding window.
type RateLimiter interface {
	// Allow reports whether the user may send now, consuming a slot when
	// admitted. An empty user id is an input error.
	Allow(userID string) (bool, error)
}
