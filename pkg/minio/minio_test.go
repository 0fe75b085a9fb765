package minio

import (
	"testing"

	"incentive-controlplane/pkg/config"

	"github.com/stretchr/testify/require"
)

func TestDisabled(t *testing.T) {
	cfg := &config.Config{}

	client, err := registerClient(cfg)
	require.NoError(t, err)
	require.Nil(t, client)
	require.Nil(t, NewArchive(client, cfg))
}
