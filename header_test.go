package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewHeader_AssignsFreshGUID(t *testing.T) {
	h1 := NewHeader("radar-a", VideoMessageType, 1, nil)
	h2 := NewHeader("radar-a", VideoMessageType, 1, nil)

	require.NotEmpty(t, h1.GUID)
	require.NotEqual(t, h1.GUID, h2.GUID)
}

func TestHeader_Basis_ResolvesThroughWeakReference(t *testing.T) {
	upstream := NewVideo("radar-a", 1, []int16{1}, 0)
	downstream := NewVideo("radar-a", 2, []int16{2}, 0)
	downstream.header.SetBasis(upstream)

	store := map[string]Message{upstream.Header().GUID: upstream}
	downstream.header.SetBasisResolver(func(guid string) Message { return store[guid] })

	require.Same(t, upstream, downstream.header.Basis())
}

func TestHeader_Basis_NoneReturnsNil(t *testing.T) {
	v := NewVideo("radar-a", 1, []int16{1}, 0)
	require.Nil(t, v.header.Basis())
}

func TestHeader_Basis_ResolverReturningNilMeansAgedOut(t *testing.T) {
	v := NewVideo("radar-a", 1, []int16{1}, 0)
	v.header.SetBasis(v)
	v.header.SetBasisResolver(func(guid string) Message { return nil })

	require.Nil(t, v.header.Basis())
}

func TestRootBasis_WalksChainToDeepestMessage(t *testing.T) {
	root := NewVideo("radar-a", 1, []int16{1}, 0)
	mid := NewVideo("radar-a", 2, []int16{2}, 0)
	leaf := NewVideo("radar-a", 3, []int16{3}, 0)

	store := map[string]Message{
		root.Header().GUID: root,
		mid.Header().GUID:  mid,
	}
	resolver := func(guid string) Message { return store[guid] }

	mid.header.SetBasis(root)
	mid.header.SetBasisResolver(resolver)
	leaf.header.SetBasis(mid)
	leaf.header.SetBasisResolver(resolver)

	require.Same(t, root, RootBasis(leaf))
}

func TestRootBasis_NoBasisReturnsSelf(t *testing.T) {
	v := NewVideo("radar-a", 1, []int16{1}, 0)
	require.Same(t, v, RootBasis(v))
}
