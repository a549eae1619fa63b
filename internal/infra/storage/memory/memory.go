// Package memory provides in-process implementations of the storage
// repositories. It backs local runs without PostgreSQL and the handler tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/explorer/internal/core/amount"
	"github.com/vietddude/explorer/internal/core/domain"
	"github.com/vietddude/explorer/internal/infra/storage"
)

// MemoryStorage holds every table in maps guarded by one lock.
type MemoryStorage struct {
	mu     sync.RWMutex
	nextID int64

	workspaces     map[int64]*domain.Workspace
	blocks         map[int64]*domain.Block
	txs            map[int64]*domain.Transaction
	steps          map[int64][]*domain.TraceStep
	contracts      map[string]*domain.Contract
	transfers      map[int64]*domain.TokenTransfer
	transferKeys   map[string]int64
	events         []*domain.TokenTransferEvent
	balanceChanges map[string]*domain.TokenBalanceChange
	checks         map[int64]*domain.IntegrityCheck
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		workspaces:     make(map[int64]*domain.Workspace),
		blocks:         make(map[int64]*domain.Block),
		txs:            make(map[int64]*domain.Transaction),
		steps:          make(map[int64][]*domain.TraceStep),
		contracts:      make(map[string]*domain.Contract),
		transfers:      make(map[int64]*domain.TokenTransfer),
		transferKeys:   make(map[string]int64),
		balanceChanges: make(map[string]*domain.TokenBalanceChange),
		checks:         make(map[int64]*domain.IntegrityCheck),
	}
}

func (s *MemoryStorage) id() int64 {
	s.nextID++
	return s.nextID
}

// -----------------------------------------------------------------------------
// Seeding and inspection
// -----------------------------------------------------------------------------

// AddWorkspace stores a workspace with its explorer and subscription.
func (s *MemoryStorage) AddWorkspace(ws *domain.Workspace) *domain.Workspace {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ws.ID == 0 {
		ws.ID = s.id()
	}
	if ws.CreatedAt.IsZero() {
		ws.CreatedAt = time.Now()
	}
	if e := ws.Explorer; e != nil {
		if e.ID == 0 {
			e.ID = s.id()
		}
		e.WorkspaceID = ws.ID
		e.Workspace = ws
		if e.Subscription != nil {
			if e.Subscription.ID == 0 {
				e.Subscription.ID = s.id()
			}
			e.Subscription.ExplorerID = e.ID
		}
	}
	if ws.IntegrityCheck != nil {
		s.checks[ws.ID] = ws.IntegrityCheck
	}
	s.workspaces[ws.ID] = ws
	return ws
}

// AddBlock stores a block and any transactions attached to it.
func (s *MemoryStorage) AddBlock(b *domain.Block) *domain.Block {
	s.mu.Lock()
	if b.ID == 0 {
		b.ID = s.id()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	stored := *b
	stored.Transactions = nil
	s.blocks[b.ID] = &stored
	txs := b.Transactions
	s.mu.Unlock()

	for _, tx := range txs {
		tx.BlockID = b.ID
		tx.BlockNumber = b.Number
		tx.WorkspaceID = b.WorkspaceID
		s.AddTransaction(tx)
	}
	return b
}

// AddTransaction stores a transaction with its receipt and trace steps.
func (s *MemoryStorage) AddTransaction(tx *domain.Transaction) *domain.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.ID == 0 {
		tx.ID = s.id()
	}
	if b, ok := s.blocks[tx.BlockID]; ok {
		tx.BlockNumber = b.Number
		tx.WorkspaceID = b.WorkspaceID
	}
	stored := *tx
	stored.Block = nil
	stored.TraceSteps = nil
	stored.TokenTransfers = nil
	if tx.Receipt != nil {
		r := *tx.Receipt
		r.TransactionID = tx.ID
		stored.Receipt = &r
	}
	s.txs[tx.ID] = &stored

	if len(tx.TraceSteps) > 0 {
		steps := make([]*domain.TraceStep, len(tx.TraceSteps))
		for i, st := range tx.TraceSteps {
			c := *st
			c.ID = s.id()
			c.TransactionID = tx.ID
			c.Position = i
			steps[i] = &c
		}
		s.steps[tx.ID] = steps
	}
	return tx
}

// TransfersForTransaction returns stored transfers of a transaction ordered by id.
func (s *MemoryStorage) TransfersForTransaction(txID int64) []*domain.TokenTransfer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transfersFor(txID, "")
}

func (s *MemoryStorage) transfersFor(txID int64, token string) []*domain.TokenTransfer {
	var result []*domain.TokenTransfer
	for _, t := range s.transfers {
		if t.TransactionID != txID || (token != "" && t.Token != token) {
			continue
		}
		c := *t
		c.BalanceChanges = nil
		for _, bc := range s.balanceChanges {
			if bc.TokenTransferID == t.ID {
				bcCopy := *bc
				c.BalanceChanges = append(c.BalanceChanges, &bcCopy)
			}
		}
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Events returns every stored transfer event.
func (s *MemoryStorage) Events() []*domain.TokenTransferEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*domain.TokenTransferEvent(nil), s.events...)
}

// BalanceChanges returns snapshots stored for a transfer.
func (s *MemoryStorage) BalanceChanges(transferID int64) []*domain.TokenBalanceChange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*domain.TokenBalanceChange
	for _, bc := range s.balanceChanges {
		if bc.TokenTransferID == transferID {
			c := *bc
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Address < result[j].Address })
	return result
}

// Steps returns the stored trace of a transaction.
func (s *MemoryStorage) Steps(txID int64) []*domain.TraceStep {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*domain.TraceStep(nil), s.steps[txID]...)
}

// Contract returns the stub stored for an address, or nil.
func (s *MemoryStorage) Contract(workspaceID int64, address string) *domain.Contract {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contracts[contractKey(workspaceID, address)]
}

// Block returns a stored block without transactions, or nil.
func (s *MemoryStorage) Block(id int64) *domain.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[id]
	if !ok {
		return nil
	}
	c := *b
	return &c
}

// Workspace returns the stored workspace, or nil.
func (s *MemoryStorage) Workspace(id int64) *domain.Workspace {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workspaces[id]
}

func contractKey(workspaceID int64, address string) string {
	return fmt.Sprintf("%d:%s", workspaceID, address)
}

func transferKey(t *domain.TokenTransfer) string {
	amt, err := amount.Normalize(t.Amount)
	if err != nil {
		amt = t.Amount
	}
	switch {
	case t.IsInternal():
		return fmt.Sprintf("%d|step|%d", t.TransactionID, *t.TraceStepPosition)
	case t.IsReward:
		return fmt.Sprintf("%d|reward|%s", t.TransactionID, t.Token)
	default:
		return fmt.Sprintf("%d|value|%s|%s|%s|%s", t.TransactionID, t.Token, t.Src, t.Dst, amt)
	}
}

// -----------------------------------------------------------------------------
// Workspace Repository
// -----------------------------------------------------------------------------

type WorkspaceRepo struct {
	store *MemoryStorage
}

func NewWorkspaceRepo(store *MemoryStorage) *WorkspaceRepo {
	return &WorkspaceRepo{store: store}
}

// snapshot copies a workspace and its relations so callers cannot mutate the store.
func (s *MemoryStorage) snapshot(ws *domain.Workspace) *domain.Workspace {
	c := *ws
	if ws.Explorer != nil {
		e := *ws.Explorer
		e.Workspace = &c
		if ws.Explorer.Subscription != nil {
			sub := *ws.Explorer.Subscription
			e.Subscription = &sub
		}
		c.Explorer = &e
	}
	if check, ok := s.checks[ws.ID]; ok {
		ic := *check
		if ic.BlockID != nil {
			if b, ok := s.blocks[*ic.BlockID]; ok {
				n := b.Number
				ic.BlockNumber = &n
			}
		}
		c.IntegrityCheck = &ic
	} else {
		c.IntegrityCheck = nil
	}
	if ws.RPCHealthCheck != nil {
		h := *ws.RPCHealthCheck
		c.RPCHealthCheck = &h
	}
	return &c
}

func (r *WorkspaceRepo) GetByID(ctx context.Context, id int64) (*domain.Workspace, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	ws, ok := r.store.workspaces[id]
	if !ok {
		return nil, nil
	}
	return r.store.snapshot(ws), nil
}

func (r *WorkspaceRepo) ListIntegrityCheckCandidates(ctx context.Context) ([]int64, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var ids []int64
	for _, ws := range r.store.workspaces {
		e := ws.Explorer
		if !ws.Public || ws.IntegrityCheckDisabled || ws.PendingDeletion ||
			ws.IntegrityCheckStartBlockNumber == nil || e == nil || !e.ShouldSync || e.IsDemo {
			continue
		}
		ids = append(ids, ws.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *WorkspaceRepo) ListWithRetention(ctx context.Context) ([]*domain.Workspace, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var result []*domain.Workspace
	for _, ws := range r.store.workspaces {
		if ws.PendingDeletion || ws.Explorer == nil || ws.Explorer.Subscription == nil ||
			ws.Explorer.Subscription.Plan == nil || ws.Explorer.Subscription.Plan.Capabilities.DataRetention <= 0 {
			continue
		}
		result = append(result, r.store.snapshot(ws))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r *WorkspaceRepo) MarkPendingDeletion(ctx context.Context, id int64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	ws, ok := r.store.workspaces[id]
	if !ok {
		return storage.ErrNotFound
	}
	ws.PendingDeletion = true
	ws.Public = false
	return nil
}

func (r *WorkspaceRepo) Delete(ctx context.Context, id int64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.workspaces, id)
	delete(r.store.checks, id)
	for bid, b := range r.store.blocks {
		if b.WorkspaceID == id {
			r.store.deleteBlockLocked(bid)
		}
	}
	for k, c := range r.store.contracts {
		if c.WorkspaceID == id {
			delete(r.store.contracts, k)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Explorer Repository
// -----------------------------------------------------------------------------

type ExplorerRepo struct {
	store *MemoryStorage
}

func NewExplorerRepo(store *MemoryStorage) *ExplorerRepo {
	return &ExplorerRepo{store: store}
}

func (r *ExplorerRepo) GetBySlug(ctx context.Context, slug string) (*domain.Explorer, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	for _, ws := range r.store.workspaces {
		if ws.Explorer != nil && ws.Explorer.Slug == slug {
			return r.store.snapshot(ws).Explorer, nil
		}
	}
	return nil, nil
}

func (r *ExplorerRepo) ListSlugs(ctx context.Context) ([]string, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var slugs []string
	for _, ws := range r.store.workspaces {
		if ws.Explorer != nil {
			slugs = append(slugs, ws.Explorer.Slug)
		}
	}
	sort.Strings(slugs)
	return slugs, nil
}

func (r *ExplorerRepo) list(match func(*domain.Workspace) bool) []*domain.Explorer {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var result []*domain.Explorer
	for _, ws := range r.store.workspaces {
		if ws.Explorer == nil || ws.PendingDeletion || !match(ws) {
			continue
		}
		result = append(result, r.store.snapshot(ws).Explorer)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (r *ExplorerRepo) ListDemoCreatedBefore(ctx context.Context, t time.Time) ([]*domain.Explorer, error) {
	return r.list(func(ws *domain.Workspace) bool {
		return ws.Explorer.IsDemo && ws.Explorer.CreatedAt.Before(t)
	}), nil
}

func (r *ExplorerRepo) ListWithExpiringPlans(ctx context.Context) ([]*domain.Explorer, error) {
	return r.list(func(ws *domain.Workspace) bool {
		_, expires := ws.Explorer.ExpiresAt()
		return !ws.Explorer.IsDemo && expires
	}), nil
}

// -----------------------------------------------------------------------------
// Subscription Repository
// -----------------------------------------------------------------------------

type SubscriptionRepo struct {
	store *MemoryStorage
}

func NewSubscriptionRepo(store *MemoryStorage) *SubscriptionRepo {
	return &SubscriptionRepo{store: store}
}

func (r *SubscriptionRepo) find(id int64) *domain.Explorer {
	for _, ws := range r.store.workspaces {
		if ws.Explorer != nil && ws.Explorer.Subscription != nil && ws.Explorer.Subscription.ID == id {
			return ws.Explorer
		}
	}
	return nil
}

func (r *SubscriptionRepo) IncrementTransactionCount(ctx context.Context, id int64, n int64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	e := r.find(id)
	if e == nil {
		return storage.ErrNotFound
	}
	e.Subscription.TransactionCount += n
	return nil
}

func (r *SubscriptionRepo) Delete(ctx context.Context, id int64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if e := r.find(id); e != nil {
		e.Subscription = nil
	}
	return nil
}

// -----------------------------------------------------------------------------
// Block Repository
// -----------------------------------------------------------------------------

type BlockRepo struct {
	store *MemoryStorage
}

func NewBlockRepo(store *MemoryStorage) *BlockRepo {
	return &BlockRepo{store: store}
}

func (r *BlockRepo) Count(ctx context.Context, workspaceID int64) (int64, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var n int64
	for _, b := range r.store.blocks {
		if b.WorkspaceID == workspaceID {
			n++
		}
	}
	return n, nil
}

func (r *BlockRepo) GetByID(ctx context.Context, id int64) (*domain.Block, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	b, ok := r.store.blocks[id]
	if !ok {
		return nil, nil
	}
	c := *b
	var txs []*domain.Transaction
	for _, tx := range r.store.txs {
		if tx.BlockID == id {
			t := *tx
			txs = append(txs, &t)
		}
	}
	sort.Slice(txs, func(i, j int) bool { return txs[i].ID < txs[j].ID })
	c.Transactions = txs
	return &c, nil
}

func (r *BlockRepo) byNumber(workspaceID, number int64) *domain.Block {
	for _, b := range r.store.blocks {
		if b.WorkspaceID == workspaceID && b.Number == number {
			return b
		}
	}
	return nil
}

func (r *BlockRepo) GetByNumber(ctx context.Context, workspaceID, number int64) (*domain.Block, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if b := r.byNumber(workspaceID, number); b != nil {
		c := *b
		return &c, nil
	}
	return nil, nil
}

func (r *BlockRepo) GetLatestReady(ctx context.Context, workspaceID int64) (*domain.Block, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var latest *domain.Block
	for _, b := range r.store.blocks {
		if b.WorkspaceID == workspaceID && b.IsReady && (latest == nil || b.Number > latest.Number) {
			latest = b
		}
	}
	if latest == nil {
		return nil, nil
	}
	c := *latest
	return &c, nil
}

func (r *BlockRepo) GetFirstAfter(ctx context.Context, workspaceID int64, t time.Time) (*domain.Block, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var first *domain.Block
	for _, b := range r.store.blocks {
		if b.WorkspaceID == workspaceID && b.Timestamp.After(t) && (first == nil || b.Number < first.Number) {
			first = b
		}
	}
	if first == nil {
		return nil, nil
	}
	c := *first
	return &c, nil
}

func (r *BlockRepo) FindGaps(ctx context.Context, workspaceID, fromBlock, toBlock int64) ([]storage.Gap, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var numbers []int64
	for _, b := range r.store.blocks {
		if b.WorkspaceID == workspaceID {
			numbers = append(numbers, b.Number)
		}
	}
	return storage.ComputeGaps(numbers, fromBlock, toBlock), nil
}

func (r *BlockRepo) LatestContiguousReady(ctx context.Context, workspaceID, fromBlock int64) (*domain.Block, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var last *domain.Block
	for n := fromBlock; ; n++ {
		b := r.byNumber(workspaceID, n)
		if b == nil || !b.IsReady {
			break
		}
		last = b
	}
	if last == nil {
		return nil, nil
	}
	c := *last
	return &c, nil
}

func (r *BlockRepo) ListStalled(ctx context.Context, before time.Time, limit int) ([]*domain.Block, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var result []*domain.Block
	for _, b := range r.store.blocks {
		if !b.IsReady && b.CreatedAt.Before(before) {
			c := *b
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *BlockRepo) MarkReady(ctx context.Context, id int64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	b, ok := r.store.blocks[id]
	if !ok {
		return storage.ErrNotFound
	}
	b.IsReady = true
	return nil
}

func (r *BlockRepo) Revert(ctx context.Context, id int64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.blocks[id]; !ok {
		return storage.ErrNotFound
	}
	r.store.deleteBlockLocked(id)
	return nil
}

func (r *BlockRepo) DeleteBetween(
	ctx context.Context,
	workspaceID int64,
	from, to time.Time,
	limit int,
) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var deleted int64
	for id, b := range r.store.blocks {
		if limit > 0 && deleted >= int64(limit) {
			break
		}
		if b.WorkspaceID != workspaceID || b.Timestamp.Before(from) || b.Timestamp.After(to) {
			continue
		}
		r.store.deleteBlockLocked(id)
		deleted++
	}
	return deleted, nil
}

// deleteBlockLocked mirrors the ON DELETE CASCADE chain of the relational schema.
func (s *MemoryStorage) deleteBlockLocked(id int64) {
	delete(s.blocks, id)
	for txID, tx := range s.txs {
		if tx.BlockID != id {
			continue
		}
		delete(s.txs, txID)
		delete(s.steps, txID)
		for tid, t := range s.transfers {
			if t.TransactionID == txID {
				delete(s.transfers, tid)
				delete(s.transferKeys, transferKey(t))
			}
		}
	}
	for wsID, c := range s.checks {
		if c.BlockID != nil && *c.BlockID == id {
			s.checks[wsID].BlockID = nil
		}
	}
}

// -----------------------------------------------------------------------------
// Transaction Repository
// -----------------------------------------------------------------------------

type TxRepo struct {
	store *MemoryStorage
}

func NewTxRepo(store *MemoryStorage) *TxRepo {
	return &TxRepo{store: store}
}

func (r *TxRepo) GetByID(ctx context.Context, id int64) (*domain.Transaction, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	tx, ok := r.store.txs[id]
	if !ok {
		return nil, nil
	}
	c := *tx
	c.Receipt = nil
	return &c, nil
}

func (r *TxRepo) GetByHash(ctx context.Context, workspaceID int64, hash string) (*domain.Transaction, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	for _, tx := range r.store.txs {
		if tx.WorkspaceID == workspaceID && tx.Hash == hash {
			c := *tx
			return &c, nil
		}
	}
	return nil, nil
}

func (r *TxRepo) GetForTransferBackfill(ctx context.Context, id int64) (*domain.Transaction, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	tx, ok := r.store.txs[id]
	if !ok {
		return nil, nil
	}
	c := *tx
	if b, ok := r.store.blocks[tx.BlockID]; ok {
		bc := *b
		c.Block = &bc
	}
	c.TokenTransfers = r.store.transfersFor(id, domain.NativeTokenAddress)
	for _, st := range r.store.steps[id] {
		sc := *st
		c.TraceSteps = append(c.TraceSteps, &sc)
	}
	return &c, nil
}

// -----------------------------------------------------------------------------
// Trace Repository
// -----------------------------------------------------------------------------

type TraceRepo struct {
	store *MemoryStorage
}

func NewTraceRepo(store *MemoryStorage) *TraceRepo {
	return &TraceRepo{store: store}
}

func (r *TraceRepo) UpsertContract(
	ctx context.Context,
	workspaceID int64,
	address, hashedBytecode string,
) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	key := contractKey(workspaceID, address)
	if c, ok := r.store.contracts[key]; ok {
		c.HashedBytecode = hashedBytecode
		return c.ID, nil
	}
	c := &domain.Contract{
		ID:             r.store.id(),
		WorkspaceID:    workspaceID,
		Address:        address,
		HashedBytecode: hashedBytecode,
	}
	r.store.contracts[key] = c
	return c.ID, nil
}

func (r *TraceRepo) SaveSteps(ctx context.Context, workspaceID int64, txHash string, steps []*domain.TraceStep) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var tx *domain.Transaction
	for _, t := range r.store.txs {
		if t.WorkspaceID == workspaceID && t.Hash == txHash {
			tx = t
			break
		}
	}
	if tx == nil {
		return storage.ErrNotFound
	}

	stored := make([]*domain.TraceStep, len(steps))
	for i, s := range steps {
		c := *s
		c.ID = r.store.id()
		c.TransactionID = tx.ID
		c.WorkspaceID = workspaceID
		c.Position = i
		stored[i] = &c
	}
	r.store.steps[tx.ID] = stored
	return nil
}

// -----------------------------------------------------------------------------
// Token Transfer Repository
// -----------------------------------------------------------------------------

type TransferRepo struct {
	store *MemoryStorage
}

func NewTransferRepo(store *MemoryStorage) *TransferRepo {
	return &TransferRepo{store: store}
}

func (r *TransferRepo) GetByID(ctx context.Context, id int64) (*domain.TokenTransfer, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	t, ok := r.store.transfers[id]
	if !ok {
		return nil, nil
	}
	c := *t
	return &c, nil
}

func (r *TransferRepo) CreateWithEvents(
	ctx context.Context,
	block *domain.Block,
	transfers []*domain.TokenTransfer,
) ([]*domain.TokenTransfer, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var created []*domain.TokenTransfer
	for _, t := range transfers {
		key := transferKey(t)
		if _, exists := r.store.transferKeys[key]; exists {
			continue
		}
		c := *t
		c.ID = r.store.id()
		c.BalanceChanges = nil
		r.store.transfers[c.ID] = &c
		r.store.transferKeys[key] = c.ID

		event := domain.NewTokenTransferEvent(&c, block)
		event.ID = r.store.id()
		r.store.events = append(r.store.events, event)

		out := c
		created = append(created, &out)
	}
	return created, nil
}

func (r *TransferRepo) SaveBalanceChanges(ctx context.Context, changes []*domain.TokenBalanceChange) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, bc := range changes {
		key := fmt.Sprintf("%d:%s", bc.TokenTransferID, bc.Address)
		if _, exists := r.store.balanceChanges[key]; exists {
			continue
		}
		c := *bc
		c.ID = r.store.id()
		r.store.balanceChanges[key] = &c
	}
	return nil
}

// -----------------------------------------------------------------------------
// Integrity Check Repository
// -----------------------------------------------------------------------------

type IntegrityRepo struct {
	store *MemoryStorage
}

func NewIntegrityRepo(store *MemoryStorage) *IntegrityRepo {
	return &IntegrityRepo{store: store}
}

func (r *IntegrityRepo) Upsert(ctx context.Context, check *domain.IntegrityCheck) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c := *check
	c.UpdatedAt = time.Now()
	r.store.checks[check.WorkspaceID] = &c
	return nil
}

func (r *IntegrityRepo) List(ctx context.Context) ([]*domain.IntegrityCheck, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var result []*domain.IntegrityCheck
	for _, c := range r.store.checks {
		ic := *c
		if ic.BlockID != nil {
			if b, ok := r.store.blocks[*ic.BlockID]; ok {
				n := b.Number
				ic.BlockNumber = &n
			}
		}
		result = append(result, &ic)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].WorkspaceID < result[j].WorkspaceID })
	return result, nil
}
