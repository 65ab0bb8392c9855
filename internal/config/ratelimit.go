package config

import "time"

// RateLimitConfig configures the token bucket guarding the API. With a
// Redis client the bucket is shared across instances; without one each
// process keeps its own buckets.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int           // bucket size (burst)
	RefillTokens   int           // tokens added per RefillInterval
	RefillInterval time.Duration
	TTL            time.Duration // idle bucket expiry
	KeyStrategy    string        // ip, user, ip_route, ip_user_route
	Prefix         string
	Debug          bool          // emit X-RateLimit-* headers

	// AuthCapacity is a tighter burst applied to the login and signup
	// routes.
	AuthCapacity int
}

// Rate is the steady refill rate in tokens per second.
func (c RateLimitConfig) Rate() float64 {
	return float64(c.RefillTokens) / c.RefillInterval.Seconds()
}

// ForAuth returns a copy tuned for credential endpoints.
func (c RateLimitConfig) ForAuth() RateLimitConfig {
	out := c
	out.Capacity = c.AuthCapacity
	out.KeyStrategy = "ip_route"
	out.Prefix = c.Prefix + ":auth"
	return out
}

func LoadRateLimitConfig() RateLimitConfig {
	def := RateLimitConfig{
		Enabled:        envBool("RATE_LIMIT_ENABLED", true),
		Capacity:       envInt("RATE_LIMIT_CAPACITY", 60),
		RefillTokens:   envInt("RATE_LIMIT_REFILL_TOKENS", 1),
		RefillInterval: envDur("RATE_LIMIT_REFILL_INTERVAL", time.Second),
		TTL:            envDur("RATE_LIMIT_TTL", 10*time.Minute),
		KeyStrategy:    envStr("RATE_LIMIT_KEY_STRATEGY", "ip_user_route"),
		Prefix:         envStr("RATE_LIMIT_PREFIX", "clubs:rl"),
		Debug:          envBool("RATE_LIMIT_DEBUG", false),
		AuthCapacity:   envInt("RATE_LIMIT_AUTH_CAPACITY", 10),
	}
	if def.Capacity < 1 {
		def.Capacity = 1
	}
	if def.AuthCapacity < 1 {
		def.AuthCapacity = 1
	}
	if def.RefillTokens < 1 {
		def.RefillTokens = 1
	}
	if def.RefillInterval <= 0 {
		def.RefillInterval = time.Second
	}
	if minTTL := 5 * def.RefillInterval; def.TTL < minTTL {
		def.TTL = minTTL
	}
	return def
}
