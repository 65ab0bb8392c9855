package config

import (
	"net/http"
	"strings"
	"time"
)

// CacheConfig defines settings for the public catalog response cache.
// Responses are stored in Redis when a client is available and in a
// process local cache otherwise. Admin writes purge the prefix so lists
// never outlive an edit by more than one request.
type CacheConfig struct {
	Enabled      bool
	Methods      map[string]bool
	TTL          time.Duration
	KeyStrategy  string // route or route_query
	Prefix       string
	MaxBodyBytes int
}

// LoadCacheConfig reads environment variables to build a CacheConfig.
// Defaults are used when variables are not set.
func LoadCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:      envBool("CACHE_ENABLED", true),
		Methods:      parseMethods(envStr("CACHE_METHODS", "GET")),
		TTL:          envDur("CACHE_TTL", 30*time.Second),
		KeyStrategy:  envStr("CACHE_KEY_STRATEGY", "route_query"),
		Prefix:       envStr("CACHE_PREFIX", "clubs:cache"),
		MaxBodyBytes: envInt("CACHE_MAX_BODY_BYTES", 1<<20),
	}
}

// parseMethods keeps the safe methods named in s. Anything else is
// ignored; a cached POST would replay a write.
func parseMethods(s string) map[string]bool {
	m := map[string]bool{}
	for _, p := range splitList(s) {
		switch p = strings.ToUpper(p); p {
		case http.MethodGet, http.MethodHead:
			m[p] = true
		}
	}
	if len(m) == 0 {
		m[http.MethodGet] = true
	}
	return m
}
