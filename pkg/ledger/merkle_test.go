package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerkleRootEmptyBatch(t *testing.T) {
	root, err := MerkleRoot(nil)
	require.NoError(t, err)
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", root)
}

func TestMerkleRootSingleItem(t *testing.T) {
	root, err := MerkleRoot([]interface{}{
		map[string]interface{}{"a": "x", "b": 1},
	})
	require.NoError(t, err)
	assert.Equal(t, "cdab067e9f3beb32d1252cfd63e492592fecbf591b0d08cadb24bb17f3864246", root)
}

func TestMerkleRootFieldOrderIndependent(t *testing.T) {
	// the same logical record must hash identically whatever the struct
	// field order produces
	type ab struct {
		B int    `json:"b"`
		A string `json:"a"`
	}
	root, err := MerkleRoot([]interface{}{ab{B: 1, A: "x"}})
	require.NoError(t, err)
	assert.Equal(t, "cdab067e9f3beb32d1252cfd63e492592fecbf591b0d08cadb24bb17f3864246", root)
}

func TestMerkleRootPair(t *testing.T) {
	root, err := MerkleRoot([]interface{}{
		map[string]interface{}{"a": "x", "b": 1},
		map[string]interface{}{"a": "y"},
	})
	require.NoError(t, err)
	assert.Equal(t, "26af842bd73d84b13432036e1619b7bb8b81ede2fc89d8d58a4ddcccb8d417bc", root)
}

func TestMerkleRootOddBatchDuplicatesLastLeaf(t *testing.T) {
	root, err := MerkleRoot([]interface{}{
		map[string]interface{}{"a": "x", "b": 1},
		map[string]interface{}{"a": "y"},
		map[string]interface{}{"a": "z"},
	})
	require.NoError(t, err)
	assert.Equal(t, "031f878de46589dd796ca46dadc61a5921e50ca1df96819c0dd0233959e80602", root)
}

func TestMerkleRootOrderSensitive(t *testing.T) {
	items := []interface{}{
		map[string]interface{}{"a": "x", "b": 1},
		map[string]interface{}{"a": "y"},
	}
	swapped := []interface{}{items[1], items[0]}

	a, err := MerkleRoot(items)
	require.NoError(t, err)
	b, err := MerkleRoot(swapped)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
