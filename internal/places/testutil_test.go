package places

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/require"

	"trades-finder/internal/mapkit"
)

func newSigner(t *testing.T) *mapkit.Signer {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	signer, err := mapkit.NewSigner(mapkit.Config{
		TeamID:         "TEAM",
		KeyID:          "KID",
		PrivateKeyPEM:  string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})),
		AllowedOrigins: []string{"https://trades.example.com"},
	})
	require.NoError(t, err)
	return signer
}
