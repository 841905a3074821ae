package mongomock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg, err := NewConfig()
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:0", cfg.ListenAddress)
	require.Equal(t, 10*time.Second, cfg.RequestTimeout)
	require.Equal(t, IsMasterDefault, cfg.IsMaster)
}

func TestWithRequestTimeoutRejectsNonPositive(t *testing.T) {
	_, err := NewConfig(WithRequestTimeout(0))
	require.Error(t, err)
}

func TestWithAutoIsMasterCustomRequiresDoc(t *testing.T) {
	_, err := NewConfig(WithAutoIsMaster(IsMasterCustom, nil))
	require.Error(t, err)
}

func TestWithListenAddressAndUnixDomainSocketConflict(t *testing.T) {
	_, err := NewConfig(
		WithListenAddress("127.0.0.1:27017"),
		WithUnixDomainSocket("/tmp/mongomock.sock"),
	)
	require.Error(t, err)
}

func TestWithWireVersionBoundsValidates(t *testing.T) {
	_, err := NewConfig(WithWireVersionBounds(5, 2))
	require.Error(t, err)

	cfg, err := NewConfig(WithWireVersionBounds(0, 9))
	require.NoError(t, err)
	require.Equal(t, 9, cfg.MaxWireVersion)
}
