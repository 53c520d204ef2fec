package e2ee

import (
	"crypto/rsa"
	"crypto/subtle"
	"math/big"
	"runtime"
)

// ZeroBytes overwrites data with zeros. Nil slices are ignored.
func ZeroBytes(data []byte) {
	if data == nil {
		return
	}
	zeros := make([]byte, len(data))
	subtle.ConstantTimeCompare(data, zeros)
	copy(data, zeros)
	runtime.KeepAlive(data)
}

// WipePrivateKey zeroes the secret integers of priv in place.
func WipePrivateKey(priv *rsa.PrivateKey) {
	if priv == nil {
		return
	}
	wipeInt(priv.D)
	for _, p := range priv.Primes {
		wipeInt(p)
	}
	wipeInt(priv.Precomputed.Dp)
	wipeInt(priv.Precomputed.Dq)
	wipeInt(priv.Precomputed.Qinv)
}

func wipeInt(n *big.Int) {
	if n == nil {
		return
	}
	words := n.Bits()
	for i := range words {
		words[i] = 0
	}
	n.SetInt64(0)
}
