package rediskey

import "fmt"

const (
	IdempotencyPrefix = "idem"
	RatesPrefix       = "rates:snapshot"
	LicenseSeqPrefix  = "seq:license"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildIdempotencyKey returns "idem:{scope}:{actor}:{key}"
func BuildIdempotencyKey(scope, actor, key string) string {
	return NamespaceKey(IdempotencyPrefix, fmt.Sprintf("%s:%s:%s", scope, actor, key))
}

// BuildRatesKey returns "rates:snapshot:{base}"
func BuildRatesKey(base string) string {
	return NamespaceKey(RatesPrefix, base)
}

// BuildLicenseSeqKey returns "seq:license:{prefix}:{yymmdd}"
func BuildLicenseSeqKey(prefix, day string) string {
	return NamespaceKey(LicenseSeqPrefix, fmt.Sprintf("%s:%s", prefix, day))
}
