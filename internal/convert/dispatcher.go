package convert

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownJobType は登録されていないジョブ種別が指定された場合に返されます。
var ErrUnknownJobType = errors.New("unknown job type")

// Dispatcher はジョブ種別からフォールバックチェーンを引く登録表です。
type Dispatcher struct {
	mu     sync.RWMutex
	chains map[JobType]Chain
}

// NewDispatcher は空の Dispatcher を作成します。
func NewDispatcher() *Dispatcher {
	return &Dispatcher{chains: make(map[JobType]Chain)}
}

// Register はジョブ種別にチェーンを登録します。既存の登録は置き換えられます。
func (d *Dispatcher) Register(t JobType, tiers ...Tier) {
	chain := make(Chain, len(tiers))
	copy(chain, tiers)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.chains[t] = chain
}

// Resolve はジョブ種別のチェーンを返します。未登録の種別は ValidationError です。
func (d *Dispatcher) Resolve(t JobType) (Chain, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	chain, ok := d.chains[t]
	if !ok {
		return nil, &ValidationError{Err: fmt.Errorf("%w: %q", ErrUnknownJobType, t)}
	}
	return chain, nil
}

// Validate は種別が登録済みかどうかだけを確認します。
func (d *Dispatcher) Validate(t JobType) error {
	_, err := d.Resolve(t)
	return err
}

// Types は登録済みの種別を名前順で返します。
func (d *Dispatcher) Types() []JobType {
	d.mu.RLock()
	defer d.mu.RUnlock()
	types := make([]JobType, 0, len(d.chains))
	for t := range d.chains {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
