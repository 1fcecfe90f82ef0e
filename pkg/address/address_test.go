package address

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProcessIdRoundTrip(t *testing.T) {
	p := ProcessId{Name: "indexer", Package: "hns", Publisher: "sys"}
	require.Equal(t, "indexer:hns:sys", p.String())

	parsed, err := ParseProcessId("indexer:hns:sys")
	require.NoError(t, err)
	require.Equal(t, p, parsed)
}

func TestParseProcessIdRejectsMalformed(t *testing.T) {
	_, err := ParseProcessId("not-enough-fields")
	require.Error(t, err)

	_, err = ParseProcessId("a::c")
	require.Error(t, err)
}

func TestCapabilityKeyEquality(t *testing.T) {
	issuer := Address{Node: "alice", Process: ProcessId{"kernel", "sys", "sys"}}
	c1 := Capability{Issuer: issuer, Params: `{"kind":"messaging"}`}
	c2 := Capability{Issuer: issuer, Params: `{"kind":"messaging"}`}
	c3 := Capability{Issuer: issuer, Params: `{"kind":"root"}`}

	require.Equal(t, c1.Key(), c2.Key())
	require.NotEqual(t, c1.Key(), c3.Key())
}

func TestSignedCapabilityVerify(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	cap := Capability{
		Issuer: Address{Node: "alice", Process: ProcessId{"kernel", "sys", "sys"}},
		Params: `{"kind":"messaging","target":"bob"}`,
	}
	signed := Sign(cap, priv)
	require.True(t, signed.Verify(pub))

	otherPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	require.False(t, signed.Verify(otherPub))
}
