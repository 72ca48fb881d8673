package cache

import "fmt"

// RateLimitKey is the counter key for one client within a limiter scope.
func RateLimitKey(scope, client string) string {
	return fmt.Sprintf("ratelimit:%s:%s", scope, client)
}
