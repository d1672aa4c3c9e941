package rediskey

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	require.Equal(t, "idem:license.activate:PHK-1:k1", BuildIdempotencyKey("license.activate", "PHK-1", "k1"))
	require.Equal(t, "rates:snapshot:XOF", BuildRatesKey("XOF"))
	require.Equal(t, "seq:license:PHK:250301", BuildLicenseSeqKey("PHK", "250301"))
}
