package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestL1TierExpiresEntries(t *testing.T) {
	tier, err := newL1Tier(10)
	require.NoError(t, err)

	tier.Set("a", []byte("1"), 10*time.Millisecond)
	v, ok := tier.Get("a")
	require.True(t, ok)
	require.Equal(t, "1", string(v))

	time.Sleep(20 * time.Millisecond)
	_, ok = tier.Get("a")
	require.False(t, ok)
}

func TestL1TierEvictsOnOverflow(t *testing.T) {
	tier, err := newL1Tier(2)
	require.NoError(t, err)

	tier.Set("a", []byte("1"), time.Minute)
	tier.Set("b", []byte("2"), time.Minute)
	tier.Set("c", []byte("3"), time.Minute)

	require.LessOrEqual(t, tier.Len(), 2)
}

func TestConfigValidateRejectsBadStrategy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = "bogus"
	require.Error(t, cfg.Validate())
}

func TestConfigValidateRequiresRedisAddrWhenL2Enabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.L2Enabled = true
	cfg.RedisAddr = ""
	require.Error(t, cfg.Validate())
}
