package models

import "encoding/json"

// KeyBlockPrefix is the prefix of key-block hashes.
const KeyBlockPrefix = "kh"

// Block represents a key-block or a micro-block header as returned by the node.
// Transactions are only attached to micro-blocks fetched by hash.
type Block struct {
	Hash        string `json:"hash"`
	Height      uint64 `json:"height"`
	PrevHash    string `json:"prev_hash"`
	PrevKeyHash string `json:"prev_key_hash"`
	StateHash   string `json:"state_hash"`
	Time        int64  `json:"time"`
	Version     int    `json:"version"`

	// Key-block fields
	Miner       string   `json:"miner,omitempty"`
	Beneficiary string   `json:"beneficiary,omitempty"`
	Target      uint64   `json:"target,omitempty"`
	Pow         []uint32 `json:"pow,omitempty"`
	Nonce       uint64   `json:"nonce,omitempty"`
	Info        string   `json:"info,omitempty"`

	// Micro-block fields
	PofHash   string `json:"pof_hash,omitempty"`
	Signature string `json:"signature,omitempty"`
	TxsHash   string `json:"txs_hash,omitempty"`

	Transactions []*Transaction `json:"transactions,omitempty"`
}

// Transaction represents a signed transaction included in a micro-block.
type Transaction struct {
	BlockHash   string          `json:"block_hash"`
	BlockHeight uint64          `json:"block_height"`
	Hash        string          `json:"hash"`
	Signatures  []string        `json:"signatures"`
	Tx          json.RawMessage `json:"tx"`
}

// Generation is a key-block together with the micro-blocks anchored to it.
type Generation struct {
	KeyBlock            *Block   `json:"key_block"`
	MicroBlocks         []string `json:"micro_blocks"`
	MicroBlocksDetailed []*Block `json:"micro_blocks_detailed,omitempty"`
	NumTransactions     int      `json:"num_transactions"`
}

// Height returns the height of the generation's key-block.
func (g *Generation) Height() uint64 {
	if g == nil || g.KeyBlock == nil {
		return 0
	}
	return g.KeyBlock.Height
}

// CountTransactions sums the transactions of the detailed micro-blocks.
func (g *Generation) CountTransactions() int {
	total := 0
	for _, mb := range g.MicroBlocksDetailed {
		total += len(mb.Transactions)
	}
	return total
}

// TopBlock is the chain tip; exactly one of the fields is set.
type TopBlock struct {
	KeyBlock   *Block `json:"key_block,omitempty"`
	MicroBlock *Block `json:"micro_block,omitempty"`
}

// NodeVersion describes the software the node runs.
type NodeVersion struct {
	GenesisHash string `json:"genesis_hash"`
	Revision    string `json:"revision"`
	Version     string `json:"version"`
}

// NodeStatus pairs the chain tip with the node version.
type NodeStatus struct {
	Top     *TopBlock    `json:"top"`
	Version *NodeVersion `json:"version"`
}
