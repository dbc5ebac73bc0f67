package simulation

import (
	"fmt"
	"math"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/dominant-strategies/go-quai/event"
	lru "github.com/hashicorp/golang-lru/v2"
)

const c_blockIndexSize = 10000

type Kind uint

const (
	HonestMiner Kind = iota
	AdversaryMiner
)

func (k Kind) String() string {
	if k == AdversaryMiner {
		return "adversary"
	}
	return "honest"
}

type DeliveryKind uint8

const (
	DeliverFruit DeliveryKind = iota
	DeliverBlock
)

// Delivery is a broadcast message, either a fruit or a block.
type Delivery struct {
	Kind  DeliveryKind
	Fruit Fruit
	Block *Block
}

func FruitDelivery(f Fruit) Delivery {
	return Delivery{Kind: DeliverFruit, Fruit: f}
}

func BlockDelivery(b *Block) Delivery {
	return Delivery{Kind: DeliverBlock, Block: b}
}

// Miner is a node of the network. It keeps its own view of the chain, the
// fruits it knows of and what it has earned.
type Miner struct {
	id        int
	minerType Kind
	hashFrac  float64
	k         uint64
	reward    float64

	bc       *Chain
	pool     map[uint64]map[EntityID]Fruit // hang height -> fruits
	included mapset.Set[EntityID]
	blocks   *lru.Cache[Hash, *Block] // every block heard of, on any branch

	inbox chan Delivery
	sub   event.Subscription

	nBlocksMined uint64
	nFruitsMined uint64

	initialCost     float64
	costPerRound    float64
	expGainPerRound float64
}

// NewMiner creates a miner. Every miner needs the config of the environment
// it lives in.
func NewMiner(id int, kind Kind, hashFrac float64, cfg *Config) *Miner {
	blocks, _ := lru.New[Hash, *Block](c_blockIndexSize)
	m := &Miner{
		id:        id,
		minerType: kind,
		hashFrac:  hashFrac,
		k:         uint64(cfg.K),
		reward:    cfg.BlockReward,
		bc:        NewChain(),
		pool:      make(map[uint64]map[EntityID]Fruit),
		included:  mapset.NewThreadUnsafeSet[EntityID](),
		blocks:    blocks,
		inbox:     make(chan Delivery, 1),
	}
	m.calculateCost(cfg)
	return m
}

func (m *Miner) ID() int {
	return m.id
}

func (m *Miner) Kind() Kind {
	return m.minerType
}

func (m *Miner) HashFrac() float64 {
	return m.hashFrac
}

func (m *Miner) Chain() *Chain {
	return m.bc
}

func (m *Miner) BlocksMined() uint64 {
	return m.nBlocksMined
}

func (m *Miner) FruitsMined() uint64 {
	return m.nFruitsMined
}

func (m *Miner) InitialCost() float64 {
	return m.initialCost
}

func (m *Miner) CostPerRound() float64 {
	return m.costPerRound
}

func (m *Miner) ExpGainPerRound() float64 {
	return m.expGainPerRound
}

// Subscribe attaches the miner's inbox to the broadcast feed.
func (m *Miner) Subscribe(feed *event.Feed) {
	m.sub = feed.Subscribe(m.inbox)
}

func (m *Miner) Stop() {
	if m.sub != nil {
		m.sub.Unsubscribe()
		m.sub = nil
	}
}

// drain processes whatever has been broadcast to the miner.
func (m *Miner) drain() {
	for {
		select {
		case d := <-m.inbox:
			m.Deliver(d)
		default:
			return
		}
	}
}

// MineFruit hangs a new fruit from the current head.
func (m *Miner) MineFruit(round uint64) Fruit {
	head := m.bc.Head()
	fruit := NewFruit(m.id, round, head.Height(), head.Hash())
	m.addFruit(fruit)
	m.nFruitsMined++
	return fruit
}

// MineBlock packages every fresh fruit into a new block on top of the local
// chain.
func (m *Miner) MineBlock(round uint64) *Block {
	fresh := m.FreshFruits()
	block := NewBlock(m.id, round, m.bc.Head(), fresh, m.reward)
	if err := m.bc.Append(block); err != nil {
		panic(err)
	}
	m.blocks.Add(block.Hash(), block)
	m.markIncluded(block)
	m.nBlocksMined++
	return block
}

// Deliver merges a broadcast fruit or block into the local state. Every block
// goes into the block index. A block on another branch makes the miner switch
// only once that branch is longer than the local chain and all of its blocks
// are indexed.
func (m *Miner) Deliver(d Delivery) {
	switch d.Kind {
	case DeliverFruit:
		m.addFruit(d.Fruit)
	case DeliverBlock:
		b := d.Block
		if b == nil || m.bc.Contains(b.Height(), b.Hash()) {
			return
		}
		m.blocks.Add(b.Hash(), b)
		if err := m.bc.Append(b); err == nil {
			m.markIncluded(b)
			return
		}
		if b.Height() <= m.bc.Len() {
			return
		}
		if c, err := m.branch(b); err == nil {
			m.adopt(c)
		}
	}
}

// SetHead moves the local chain onto the indexed block with the given hash,
// whatever the length of its branch.
func (m *Miner) SetHead(hash Hash) error {
	if m.bc.Head().Hash() == hash {
		return nil
	}
	head, ok := m.blocks.Get(hash)
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnknownBlock, hash)
	}
	c, err := m.branch(head)
	if err != nil {
		return err
	}
	m.adopt(c)
	return nil
}

// branch rebuilds the chain ending in head by walking parents through the
// block index until one of them is on the local chain.
func (m *Miner) branch(head *Block) (*Chain, error) {
	walk := []*Block{head}
	for cur := head; !m.bc.Contains(cur.Height()-1, cur.ParentHash()); {
		parent, ok := m.blocks.Get(cur.ParentHash())
		if !ok {
			return nil, fmt.Errorf("%w: parent %v of block at height %d", ErrUnknownBlock, cur.ParentHash(), cur.Height())
		}
		walk = append(walk, parent)
		cur = parent
	}
	c := m.bc.Prefix(walk[len(walk)-1].Height() - 1)
	for i := len(walk) - 1; i >= 0; i-- {
		if err := c.Append(walk[i]); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// adopt replaces the local chain with c. Fruits hanging from blocks that are
// not on c are discarded.
func (m *Miner) adopt(c *Chain) {
	if m.bc.Equal(c) {
		return
	}
	m.bc = c.Clone()
	for hang, fruits := range m.pool {
		for id, f := range fruits {
			if !m.bc.Contains(hang, f.Anchor()) {
				delete(fruits, id)
			}
		}
		if len(fruits) == 0 {
			delete(m.pool, hang)
		}
	}
	// Only the last k blocks can contain fruits that are still fresh.
	m.included.Clear()
	start := 2
	if n := int(m.bc.Len()) - int(m.k) + 1; n > start {
		start = n
	}
	for h := start; h <= int(m.bc.Len()); h++ {
		m.markIncluded(m.bc.ByHeight(uint64(h)))
	}
}

func (m *Miner) addFruit(f Fruit) {
	fruits, ok := m.pool[f.HangHeight()]
	if !ok {
		fruits = make(map[EntityID]Fruit)
		m.pool[f.HangHeight()] = fruits
	}
	if _, dup := fruits[f.ID()]; !dup {
		fruits[f.ID()] = f
	}
}

func (m *Miner) markIncluded(b *Block) {
	for _, f := range b.Fruits() {
		m.included.Add(f.ID())
	}
}

func (m *Miner) firstFreshHeight() uint64 {
	length := m.bc.Len()
	if length < m.k {
		return 1
	}
	first := length - m.k + 1
	if first < 1 {
		first = 1
	}
	return first
}

// FreshFruits returns the fruits that hang from one of the last k blocks of
// the local chain and are not in the chain yet, ordered by hang height, round
// and miner.
func (m *Miner) FreshFruits() []Fruit {
	first := m.firstFreshHeight()
	for hang := range m.pool {
		if hang < first {
			delete(m.pool, hang)
		}
	}
	fresh := make([]Fruit, 0)
	for hang := first; hang <= m.bc.Len(); hang++ {
		for id, f := range m.pool[hang] {
			if m.included.Contains(id) || !m.bc.Contains(hang, f.Anchor()) {
				continue
			}
			fresh = append(fresh, f)
		}
	}
	sort.Slice(fresh, func(i, j int) bool {
		a, b := fresh[i], fresh[j]
		if a.HangHeight() != b.HangHeight() {
			return a.HangHeight() < b.HangHeight()
		}
		if a.MineRound() != b.MineRound() {
			return a.MineRound() < b.MineRound()
		}
		return a.Miner() < b.Miner()
	})
	return fresh
}

// PendingFruits is the number of fruits in the pool.
func (m *Miner) PendingFruits() int {
	n := 0
	for _, fruits := range m.pool {
		n += len(fruits)
	}
	return n
}

func (m *Miner) calculateCost(cfg *Config) {
	e := cfg.Economics
	hashRate := m.hashFrac * e.NetworkHashRate
	nDevices := math.Ceil(hashRate / e.DeviceHashRate)
	m.initialCost = nDevices * e.CostPerDevice
	consumptionPerRound := e.ConsumptionPerDevice * nDevices * (cfg.P / 6) // kWh
	m.costPerRound = consumptionPerRound * e.CostPerKWh
	m.computeExpRewardPerRound(cfg)
}

// computeExpRewardPerRound is the same under both policies.
func (m *Miner) computeExpRewardPerRound(cfg *Config) {
	m.expGainPerRound = m.hashFrac * cfg.P * cfg.BlockReward
}

func (m *Miner) setHashFrac(hashFrac float64, cfg *Config) {
	m.hashFrac = hashFrac
	m.computeExpRewardPerRound(cfg)
}
