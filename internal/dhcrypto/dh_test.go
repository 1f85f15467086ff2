package dhcrypto

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedRandom(b byte) RandomSource {
	return func(buf []byte) error {
		for i := range buf {
			buf[i] = b
		}
		return nil
	}
}

// a 128-bit test modulus, matching P_LEN=16.
var testP = []byte{
	0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
	0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xC5,
}

func TestGenerateLocalLength(t *testing.T) {
	ex := NewExchanger(testP, 16, 2, fixedRandom(0x01))
	pub, err := ex.GenerateLocal()
	require.NoError(t, err)
	assert.Len(t, pub, 16)
}

func TestCompleteRejectsShortPeerKey(t *testing.T) {
	ex := NewExchanger(testP, 16, 2, fixedRandom(0x01))
	_, err := ex.GenerateLocal()
	require.NoError(t, err)

	_, err = ex.Complete(make([]byte, 8))
	assert.ErrorIs(t, err, ErrShortPeerKey)
}

func TestRandomSourceFailurePropagates(t *testing.T) {
	failing := func(buf []byte) error { return assert.AnError }
	ex := NewExchanger(testP, 16, 2, failing)
	_, err := ex.GenerateLocal()
	assert.ErrorIs(t, err, ErrRandomSource)
}

// DH consistency: modpow(g,x,p)*modpow(g,y,p) mod p == modpow(g,x+y,p).
func TestDHConsistency(t *testing.T) {
	p := new(big.Int).SetBytes(testP)
	g := big.NewInt(2)
	x := big.NewInt(7)
	y := big.NewInt(11)

	gx := new(big.Int).Exp(g, x, p)
	gy := new(big.Int).Exp(g, y, p)
	product := new(big.Int).Mod(new(big.Int).Mul(gx, gy), p)

	sum := new(big.Int).Add(x, y)
	gxy := new(big.Int).Exp(g, sum, p)

	assert.Equal(t, gxy, product)
}

// E1-style scenario: with x=1 on our side, Complete(y) == y mod p.
func TestCompleteWithUnitExponent(t *testing.T) {
	ex := NewExchanger(testP, 16, 2, fixedRandom(0x00))
	ex.x = big.NewInt(1)

	peer := make([]byte, 16)
	peer[15] = 0x2A

	shared, err := ex.Complete(peer)
	require.NoError(t, err)
	assert.Equal(t, peer, shared)
}
