package model_test

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/frebib/kipa/internal/model"
)

func TestKeyEqualityByFingerprint(t *testing.T) {
	a := model.NewKey([]byte{1, 2, 3}, "fp-a")
	b := model.NewKey([]byte{9, 9, 9}, "fp-a")
	c := model.NewKey([]byte{1, 2, 3}, "fp-b")

	assert.True(t, a.Equal(b), "same fingerprint, different bytes, still equal")
	assert.False(t, a.Equal(c), "same bytes, different fingerprint, not equal")
}

func TestNodeEqualityIgnoresAddress(t *testing.T) {
	k := model.NewKey([]byte{1}, "fp")
	n1 := model.Node{Key: k, Address: model.Address{IP: net.ParseIP("10.0.0.1"), Port: 1}}
	n2 := model.Node{Key: k, Address: model.Address{IP: net.ParseIP("10.0.0.2"), Port: 2}}
	assert.True(t, n1.Equal(n2))
}

func TestSenderNodeResolveNeverTrustsPayloadIP(t *testing.T) {
	k := model.NewKey([]byte{1}, "fp")
	sender := model.SenderNode{Key: k, Port: 5000}
	resolved := sender.Resolve(net.ParseIP("203.0.113.9"))
	assert.Equal(t, "203.0.113.9", resolved.Address.IP.String())
	assert.EqualValues(t, 5000, resolved.Address.Port)
}

func TestSenderOfDropsIP(t *testing.T) {
	k := model.NewKey([]byte{1}, "fp")
	n := model.Node{Key: k, Address: model.Address{IP: net.ParseIP("10.0.0.1"), Port: 9}}
	s := model.SenderOf(n)
	assert.Equal(t, k.Fingerprint(), s.Key.Fingerprint())
	assert.EqualValues(t, 9, s.Port)
}

func TestCoordinateDeterministic(t *testing.T) {
	k := model.NewKey([]byte("some-key"), "fp")
	assert.Equal(t, k.Coordinate(), k.Coordinate())
}
