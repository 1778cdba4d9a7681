package repository

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXChaChaSealerRoundTrip(t *testing.T) {
	s := testSealer(t)

	sealed, err := s.Seal("EAAB-page-token")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, sealedPrefix))
	assert.NotContains(t, sealed, "EAAB")

	again, err := s.Seal("EAAB-page-token")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again)

	plain, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "EAAB-page-token", plain)
}

func TestXChaChaSealerReadsLegacyPlaintext(t *testing.T) {
	plain, err := testSealer(t).Open("legacy-token")
	require.NoError(t, err)
	assert.Equal(t, "legacy-token", plain)
}

func TestXChaChaSealerRejectsTampering(t *testing.T) {
	s := testSealer(t)
	sealed, err := s.Seal("token")
	require.NoError(t, err)

	tampered := sealed[:len(sealed)-2] + "AA"
	if tampered == sealed {
		tampered = sealed[:len(sealed)-2] + "BB"
	}
	_, err = s.Open(tampered)
	assert.Error(t, err)
}

func TestSealerFromHex(t *testing.T) {
	s, err := NewSealerFromHex("")
	require.NoError(t, err)
	assert.IsType(t, PlainSealer{}, s)

	_, err = NewSealerFromHex("abcd")
	assert.Error(t, err)

	_, err = NewSealerFromHex("not-hex")
	assert.Error(t, err)
}

func TestPlainSealerRefusesSealedValues(t *testing.T) {
	_, err := PlainSealer{}.Open(sealedPrefix + "xyz")
	assert.Error(t, err)
}
