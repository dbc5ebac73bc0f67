package simulation

import (
	"bytes"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"

	"lukechampine.com/blake3"
)

const HashLength = 32

const c_genesisMiner = -1

var (
	ErrNotExtending = errors.New("block does not extend the chain head")
	ErrUnknownBlock = errors.New("block not in the block index")
)

type Hash [HashLength]byte

// SetBytes sets the hash to the value of b.
// If b is larger than len(h), b will be cropped from the left.
func (h *Hash) SetBytes(b []byte) {
	if len(b) > len(h) {
		b = b[len(b)-HashLength:]
	}

	copy(h[HashLength-len(b):], b)
}

func (h Hash) String() string {
	enc := make([]byte, len(h[:])*2+2)
	copy(enc, "0x")
	hex.Encode(enc[2:], h[:])
	return string(enc)
}

func (h Hash) Bytes() []byte {
	return h[:]
}

type Role uint8

const (
	RoleFruit Role = iota
	RoleBlock
)

func (r Role) String() string {
	if r == RoleBlock {
		return "block"
	}
	return "fruit"
}

// EntityID identifies a fruit or a block. A fruit and a block mined by the
// same miner in the same round never compare equal.
type EntityID struct {
	Role  Role
	Miner int
	Round uint64
}

func (id EntityID) String() string {
	return fmt.Sprintf("%d|%d|%v", id.Miner, id.Round, id.Role)
}

type Fruit struct {
	miner        int
	mineRound    uint64
	hangHeight   uint64
	anchor       Hash
	includeRound uint64
	contHeight   uint64
}

func NewFruit(miner int, round, hangHeight uint64, anchor Hash) Fruit {
	return Fruit{
		miner:      miner,
		mineRound:  round,
		hangHeight: hangHeight,
		anchor:     anchor,
	}
}

func (f Fruit) ID() EntityID {
	return EntityID{Role: RoleFruit, Miner: f.miner, Round: f.mineRound}
}

func (f Fruit) Miner() int {
	return f.miner
}

func (f Fruit) MineRound() uint64 {
	return f.mineRound
}

func (f Fruit) HangHeight() uint64 {
	return f.hangHeight
}

func (f Fruit) Anchor() Hash {
	return f.anchor
}

func (f Fruit) IncludeRound() uint64 {
	return f.includeRound
}

func (f Fruit) ContHeight() uint64 {
	return f.contHeight
}

// Pending reports whether the fruit has not been placed in a block yet.
func (f Fruit) Pending() bool {
	return f.contHeight == 0
}

// included returns a copy of the fruit stamped with its place in the chain.
func (f Fruit) included(round, height uint64) Fruit {
	f.includeRound = round
	f.contHeight = height
	return f
}

func (f Fruit) String() string {
	return fmt.Sprintf("{ Fruit: %v, Hang: %v, Cont: %v}", f.ID(), f.hangHeight, f.contHeight)
}

type Block struct {
	miner      int
	mineRound  uint64
	height     uint64
	parentHash Hash
	fee        float64
	fruits     []Fruit
	hash       Hash
}

func GenesisBlock() *Block {
	b := &Block{
		miner:  c_genesisMiner,
		height: 1,
	}
	b.hash = b.SealHash()
	return b
}

// NewBlock packages fruits on top of parent. The fruits are stamped with the
// new block's height and the mining round.
func NewBlock(miner int, round uint64, parent *Block, fruits []Fruit, fee float64) *Block {
	b := &Block{
		miner:      miner,
		mineRound:  round,
		height:     parent.Height() + 1,
		parentHash: parent.Hash(),
		fee:        fee,
		fruits:     make([]Fruit, len(fruits)),
	}
	for i, f := range fruits {
		b.fruits[i] = f.included(round, b.height)
	}
	b.hash = b.SealHash()
	return b
}

func (b *Block) SealHash() (hash Hash) {
	fruitIDs := make([]EntityID, len(b.fruits))
	for i, f := range b.fruits {
		fruitIDs[i] = f.ID()
	}
	sealData := struct {
		ParentHash Hash
		Miner      int
		Round      uint64
		Height     uint64
		Fee        float64
		Fruits     []EntityID
	}{
		ParentHash: b.parentHash,
		Miner:      b.miner,
		Round:      b.mineRound,
		Height:     b.height,
		Fee:        b.fee,
		Fruits:     fruitIDs,
	}
	buf := bytes.Buffer{}
	e := gob.NewEncoder(&buf)
	err := e.Encode(sealData)
	if err != nil {
		panic(fmt.Sprintf("failed gob encode: %v", err))
	}
	data := buf.Bytes()
	sum := blake3.Sum256(data[:])
	hash.SetBytes(sum[:])
	return hash
}

func (b *Block) ID() EntityID {
	return EntityID{Role: RoleBlock, Miner: b.miner, Round: b.mineRound}
}

func (b *Block) Hash() Hash {
	return b.hash
}

func (b *Block) ParentHash() Hash {
	return b.parentHash
}

func (b *Block) Miner() int {
	return b.miner
}

func (b *Block) MineRound() uint64 {
	return b.mineRound
}

func (b *Block) Height() uint64 {
	return b.height
}

func (b *Block) Fee() float64 {
	return b.fee
}

// Fruits returns the fruits packaged in the block. The slice must not be
// modified.
func (b *Block) Fruits() []Fruit {
	return b.fruits
}

func (b *Block) NumFruits() int {
	return len(b.fruits)
}

func (b *Block) IsGenesis() bool {
	return b.miner == c_genesisMiner && b.height == 1
}

func (b *Block) String() string {
	return fmt.Sprintf("{ Block: %v, Height: %v, Fruits: %v, Fee: %v, Hash: %v}", b.ID(), b.Height(), b.NumFruits(), b.Fee(), b.Hash())
}

// Chain is an append-only sequence of blocks. Heights start at 1 with the
// genesis block and grow by exactly one per append.
type Chain struct {
	blocks []*Block
}

func NewChain() *Chain {
	return &Chain{
		blocks: []*Block{GenesisBlock()},
	}
}

// Len returns the number of blocks, genesis included. It equals the height of
// the head.
func (c *Chain) Len() uint64 {
	return uint64(len(c.blocks))
}

func (c *Chain) Head() *Block {
	return c.blocks[len(c.blocks)-1]
}

// At returns the block at index i, counting from the end when i is negative.
func (c *Chain) At(i int) *Block {
	if i < 0 {
		i += len(c.blocks)
	}
	return c.blocks[i]
}

func (c *Chain) ByHeight(height uint64) *Block {
	if height == 0 || height > c.Len() {
		return nil
	}
	return c.blocks[height-1]
}

func (c *Chain) Append(b *Block) error {
	head := c.Head()
	if b.Height() != head.Height()+1 || b.ParentHash() != head.Hash() {
		return fmt.Errorf("%w: block %v at height %d, head %v at height %d", ErrNotExtending, b.ID(), b.Height(), head.ID(), head.Height())
	}
	c.blocks = append(c.blocks, b)
	return nil
}

// Contains reports whether the block with the given hash sits at height on
// this chain.
func (c *Chain) Contains(height uint64, hash Hash) bool {
	b := c.ByHeight(height)
	return b != nil && b.Hash() == hash
}

// Equal compares two chains by content.
func (c *Chain) Equal(other *Chain) bool {
	if c.Len() != other.Len() {
		return false
	}
	for i := range c.blocks {
		if c.blocks[i].ID() != other.blocks[i].ID() {
			return false
		}
	}
	return true
}

// Clone returns a chain sharing the (immutable) blocks but not the backing
// slice.
func (c *Chain) Clone() *Chain {
	blocks := make([]*Block, len(c.blocks))
	copy(blocks, c.blocks)
	return &Chain{blocks: blocks}
}

// Prefix returns a copy of the first height blocks of c.
func (c *Chain) Prefix(height uint64) *Chain {
	if height > c.Len() {
		height = c.Len()
	}
	blocks := make([]*Block, height)
	copy(blocks, c.blocks[:height])
	return &Chain{blocks: blocks}
}

// ForkPoint returns the height of the last block both chains share.
func (c *Chain) ForkPoint(other *Chain) uint64 {
	n := c.Len()
	if other.Len() < n {
		n = other.Len()
	}
	var h uint64
	for h = 1; h <= n; h++ {
		if c.ByHeight(h).Hash() != other.ByHeight(h).Hash() {
			return h - 1
		}
	}
	return n
}

func (c *Chain) Blocks() []*Block {
	return c.blocks
}
