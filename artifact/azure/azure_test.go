package azure

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/flowmesh/artifact"
)

// Azurite's well-known development account.
const devConnectionString = "DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;" +
	"AccountKey=Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw==;" +
	"BlobEndpoint=http://127.0.0.1:10000/devstoreaccount1;"

func TestNew_BlobURL(t *testing.T) {
	s, err := New(Config{ConnectionString: devConnectionString}, nil)
	require.NoError(t, err)

	u := s.blobURL("org/a.png")
	assert.True(t, strings.HasPrefix(u, "http://127.0.0.1:10000/devstoreaccount1/attachments/"), u)
	assert.True(t, strings.HasSuffix(u, "a.png"), u)
}

func TestNew_InvalidConnectionString(t *testing.T) {
	_, err := New(Config{ConnectionString: "not a connection string"}, nil)
	assert.Error(t, err)
}

func TestStore_RejectsInvalidKeys(t *testing.T) {
	s, err := New(Config{ConnectionString: devConnectionString}, nil)
	require.NoError(t, err)

	_, err = s.Put(context.Background(), "../escape", nil, "text/plain")
	assert.ErrorIs(t, err, artifact.ErrInvalidKey)

	_, err = s.Get(context.Background(), "")
	assert.ErrorIs(t, err, artifact.ErrEmptyKey)
}
