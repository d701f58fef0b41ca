package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// canonicalJSON serializes an item with object keys sorted, so the same
// logical record always hashes identically regardless of field order.
func canonicalJSON(item interface{}) ([]byte, error) {
	raw, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal item: %w", err)
	}

	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("failed to normalize item: %w", err)
	}

	// encoding/json writes map keys in sorted order
	return json.Marshal(generic)
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// MerkleRoot computes the root hash over a batch of records. The empty
// batch hashes to SHA256 of empty input. Leaves are SHA-256 hex digests
// of the canonical JSON; odd levels duplicate the last leaf; pairs are
// combined by hashing the concatenated hex strings.
func MerkleRoot(items []interface{}) (string, error) {
	if len(items) == 0 {
		return sha256Hex(nil), nil
	}

	leaves := make([]string, 0, len(items))
	for _, item := range items {
		canonical, err := canonicalJSON(item)
		if err != nil {
			return "", err
		}
		leaves = append(leaves, sha256Hex(canonical))
	}

	for len(leaves) > 1 {
		if len(leaves)%2 == 1 {
			leaves = append(leaves, leaves[len(leaves)-1])
		}

		next := make([]string, 0, len(leaves)/2)
		for i := 0; i < len(leaves); i += 2 {
			next = append(next, sha256Hex([]byte(leaves[i]+leaves[i+1])))
		}
		leaves = next
	}

	return leaves[0], nil
}
