// Package materialiser implements the Block Materialiser (spec §4.5): the
// single write path shared by the Archive Backfiller, Tip Streamer, and
// Gap Filler. Grounded on the teacher's infra/storage/postgres's "one
// transaction, one unique-violation-is-idempotent-success" convention,
// generalised from a flat Block+Transaction batch insert to the full
// Block->Transaction->Signer->Event->Transfer->Balance graph plus the
// synthetic coinbase transaction this spec's Pact payload shape needs.
package materialiser

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vietddude/watcher/internal/core/domain"
	"github.com/vietddude/watcher/internal/indexing/metrics"
	"github.com/vietddude/watcher/internal/infra/node"
	"github.com/vietddude/watcher/internal/infra/storage"
)

// pactCmdEnvelope is the wire shape of a Pact command (spec §9: "cmd is a
// JSON-encoded string" wrapping pactCmdPayload).
type pactCmdEnvelope struct {
	Hash string        `json:"hash"`
	Sigs []pactSig     `json:"sigs"`
	Cmd  string        `json:"cmd"`
}

type pactSig struct {
	Sig string `json:"sig"`
}

type pactCmdPayload struct {
	Payload   json.RawMessage `json:"payload"`
	Signers   []pactSigner    `json:"signers"`
	Meta      pactMeta        `json:"meta"`
	NetworkID string          `json:"networkId"`
	Nonce     string          `json:"nonce"`
}

type pactSigner struct {
	PubKey string          `json:"pubKey"`
	Addr   *string         `json:"addr"`
	Scheme string          `json:"scheme"`
	CList  json.RawMessage `json:"clist"`
}

type pactMeta struct {
	ChainID    string `json:"chainId"`
	Sender     string `json:"sender"`
	GasLimit   int64  `json:"gasLimit"`
	GasPrice   string `json:"gasPrice"`
}

// pactResultEnvelope is the wire shape of a payload transaction's result
// half, and (reused) of the block's coinbase output (spec §4.5 step 4).
type pactResultEnvelope struct {
	Result pactResult  `json:"result"`
	Gas    int64       `json:"gas"`
	Logs   *string     `json:"logs"`
	TxID   int64       `json:"txId"`
	Events []pactEvent `json:"events"`
}

type pactResult struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  json.RawMessage `json:"error"`
}

type pactEvent struct {
	Name       string            `json:"name"`
	Module     pactModule        `json:"module"`
	ModuleHash string            `json:"moduleHash"`
	Params     []json.RawMessage `json:"params"`
}

type pactModule struct {
	Namespace *string `json:"namespace"`
	Name      string  `json:"name"`
}

func (m pactModule) qualified() string {
	if m.Namespace != nil && *m.Namespace != "" {
		return *m.Namespace + "." + m.Name
	}
	return m.Name
}

// Materialise decodes env and writes the full Block->...->Balance graph
// through uow, returning a DispatchInfo for successfully-inserted blocks
// and nil (no error) for idempotent duplicates (spec §4.5 step 2).
func Materialise(ctx context.Context, uow storage.UnitOfWork, source domain.Source, network domain.Network, chainID domain.ChainID, env node.Envelope) (*domain.DispatchInfo, error) {
	block, err := buildBlock(chainID, env.Header, env.PayloadWithOutputs)
	if err != nil {
		return nil, fmt.Errorf("build block attributes: %w", err)
	}

	inserted, err := uow.InsertBlock(ctx, block)
	if err != nil {
		return nil, fmt.Errorf("insert block: %w", err)
	}
	if !inserted {
		// Idempotent success: the hash already exists. spec §4.5 step 2.
		return nil, nil
	}

	decoded, err := env.PayloadWithOutputs.DecodeTransactions()
	if err != nil {
		return nil, fmt.Errorf("decode transactions: %w", err)
	}

	var requestKeys []string
	qualifiedNames := map[string]struct{}{}

	for _, dt := range decoded {
		rk, names, err := materialiseTransaction(ctx, uow, network, chainID, block.Hash, block.PayloadHash, block.Height, dt)
		if err != nil {
			return nil, fmt.Errorf("materialise transaction: %w", err)
		}
		requestKeys = append(requestKeys, rk)
		for _, n := range names {
			qualifiedNames[n] = struct{}{}
		}
	}

	if err := materialiseCoinbase(ctx, uow, network, chainID, block.Hash, block.PayloadHash, block.Height, env.PayloadWithOutputs.Coinbase); err != nil {
		return nil, fmt.Errorf("materialise coinbase: %w", err)
	}

	if err := reconcileCanonical(ctx, uow, chainID, block.Height); err != nil {
		return nil, fmt.Errorf("reconcile canonical: %w", err)
	}

	metrics.BlocksMaterialised.WithLabelValues(strconv.Itoa(int(chainID)), string(source)).Inc()

	names := make([]string, 0, len(qualifiedNames))
	for n := range qualifiedNames {
		names = append(names, n)
	}

	return &domain.DispatchInfo{
		Hash:                block.Hash,
		ChainID:             chainID,
		Height:              block.Height,
		RequestKeys:         requestKeys,
		QualifiedEventNames: names,
	}, nil
}

func buildBlock(chainID domain.ChainID, h node.Header, p node.PayloadWithOutputs) (*domain.Block, error) {
	creationTime, err := strconv.ParseInt(h.CreationTime, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse creationTime: %w", err)
	}
	epochStart, err := strconv.ParseInt(h.EpochStart, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse epochStart: %w", err)
	}

	minerData, err := node.DecodeBase64JSON(p.MinerData)
	if err != nil {
		return nil, fmt.Errorf("decode minerData: %w", err)
	}
	coinbase, err := node.DecodeBase64JSON(p.Coinbase)
	if err != nil {
		return nil, fmt.Errorf("decode coinbase: %w", err)
	}

	adjacents := make(map[domain.ChainID]string, len(h.Adjacents))
	for k, v := range h.Adjacents {
		id, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		adjacents[domain.ChainID(id)] = v
	}

	return &domain.Block{
		Hash:              h.Hash,
		ChainID:           chainID,
		Height:            h.Height,
		ParentHash:        h.ParentHash,
		CreationTime:      creationTime,
		EpochStart:        epochStart,
		FeatureFlags:      domain.ReinterpretFeatureFlags(h.FeatureFlags),
		Weight:            h.Weight,
		Target:            h.Target,
		Nonce:             h.Nonce,
		PayloadHash:       h.PayloadHash,
		Adjacents:         adjacents,
		MinerData:         minerData,
		TransactionsHash:  p.TransactionsHash,
		OutputsHash:       p.OutputsHash,
		Coinbase:          coinbase,
		TransactionsCount: len(p.Transactions),
	}, nil
}

// materialiseTransaction inserts one payload transaction and its
// Signers/Events/Transfers/Balance deltas (spec §4.5 step 3). It returns
// the transaction's request key and the qualified names of the events it
// emitted.
func materialiseTransaction(ctx context.Context, uow storage.UnitOfWork, network domain.Network, chainID domain.ChainID, blockHash, payloadHash string, height uint64, dt node.DecodedTransaction) (string, []string, error) {
	var cmdEnv pactCmdEnvelope
	if err := json.Unmarshal(dt.Cmd, &cmdEnv); err != nil {
		return "", nil, fmt.Errorf("decode cmd envelope: %w", err)
	}
	var cmdPayload pactCmdPayload
	if err := json.Unmarshal([]byte(cmdEnv.Cmd), &cmdPayload); err != nil {
		return "", nil, fmt.Errorf("decode cmd payload: %w", err)
	}

	payload, err := domain.DecodePayload(cmdPayload.Payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode payload variant: %w", err)
	}

	var resEnv pactResultEnvelope
	if err := json.Unmarshal(dt.Result, &resEnv); err != nil {
		return "", nil, fmt.Errorf("decode result envelope: %w", err)
	}

	logs := ""
	if resEnv.Logs != nil {
		logs = *resEnv.Logs
	}

	txn := &domain.Transaction{
		BlockHash:    blockHash,
		RequestKey:   cmdEnv.Hash,
		Hash:         cmdEnv.Hash,
		Sender:       cmdPayload.Meta.Sender,
		ChainID:      chainID,
		CreationTime: 0,
		Result:       resEnv.Result.Data,
		Logs:         logs,
		NumEvents:    len(resEnv.Events),
		TxID:         resEnv.TxID,
		Canonical:    true,
		GasUsed:      resEnv.Gas,
		GasPrice:     cmdPayload.Meta.GasPrice,
		Payload:      payload,
	}
	if err := uow.InsertTransaction(ctx, txn); err != nil {
		return "", nil, fmt.Errorf("insert transaction: %w", err)
	}

	for i, s := range cmdPayload.Signers {
		signer := &domain.Signer{
			TransactionID: txn.ID,
			Pubkey:        s.PubKey,
			Address:       s.Addr,
			OrderIndex:    i,
			CList:         s.CList,
		}
		if err := uow.InsertSigner(ctx, signer); err != nil {
			return "", nil, fmt.Errorf("insert signer: %w", err)
		}
	}

	qualifiedNames := make([]string, 0, len(resEnv.Events))
	for i, pe := range resEnv.Events {
		params, err := json.Marshal(pe.Params)
		if err != nil {
			return "", nil, fmt.Errorf("marshal event params: %w", err)
		}
		ev := &domain.Event{
			TransactionID: txn.ID,
			RequestKey:    cmdEnv.Hash,
			ChainID:       chainID,
			OrderIndex:    i,
			Module:        pe.Module.qualified(),
			Name:          pe.Name,
			Params:        params,
			BlockHash:     blockHash,
			Height:        height,
		}
		if err := uow.InsertEvent(ctx, ev); err != nil {
			return "", nil, fmt.Errorf("insert event: %w", err)
		}
		qualifiedNames = append(qualifiedNames, ev.QualifiedName())

		if ev.IsTransfer() {
			if err := materialiseTransfer(ctx, uow, network, chainID, cmdEnv.Hash, payloadHash, pe.ModuleHash, ev); err != nil {
				return "", nil, fmt.Errorf("materialise transfer: %w", err)
			}
		}
	}

	return cmdEnv.Hash, qualifiedNames, nil
}

// materialiseTransfer derives a Transfer from an M.TRANSFER event and
// applies its balance deltas (spec §4.5 step 3: "from -= amount, to +=
// amount, create rows on first observation").
func materialiseTransfer(ctx context.Context, uow storage.UnitOfWork, network domain.Network, chainID domain.ChainID, requestKey, payloadHash, moduleHash string, ev *domain.Event) error {
	from, to, amount, tokenID, hasTokenID, err := decodeTransferParams(ev.Params)
	if err != nil {
		// Not every M.TRANSFER event necessarily carries the canonical
		// [from,to,amount] shape (e.g. a module-defined synonym); skip
		// rather than fail the whole transaction.
		return nil
	}

	transferType := domain.ClassifyTransferType(ev.Module)

	transfer := &domain.Transfer{
		RequestKey:  requestKey,
		ChainID:     chainID,
		Network:     network,
		PayloadHash: payloadHash,
		ModuleHash:  moduleHash,
		ModuleName:  ev.Module,
		From:        from,
		To:          to,
		Amount:      amount,
		Type:        transferType,
		HasTokenID:  hasTokenID,
		TokenID:     tokenID,
		Canonical:   true,
	}
	if err := uow.InsertTransfer(ctx, transfer); err != nil {
		return err
	}

	neg := amount.Neg().String()
	if err := uow.UpsertBalanceDelta(ctx, from, chainID, ev.Module, tokenID, neg); err != nil {
		return fmt.Errorf("debit %s: %w", from, err)
	}
	if err := uow.UpsertBalanceDelta(ctx, to, chainID, ev.Module, tokenID, amount.String()); err != nil {
		return fmt.Errorf("credit %s: %w", to, err)
	}
	return nil
}

// decodeTransferParams parses [from, to, amount] or [from, to, amount,
// tokenId] (spec §4.5 step 3). amount may arrive as a bare JSON number, a
// JSON string, or Pact's `{"decimal": "..."}` wrapper.
func decodeTransferParams(params json.RawMessage) (from, to string, amount decimal.Decimal, tokenID string, hasTokenID bool, err error) {
	var args []json.RawMessage
	if err = json.Unmarshal(params, &args); err != nil {
		return
	}
	if len(args) < 3 {
		err = fmt.Errorf("transfer event has %d args, want >= 3", len(args))
		return
	}
	if err = json.Unmarshal(args[0], &from); err != nil {
		return
	}
	if err = json.Unmarshal(args[1], &to); err != nil {
		return
	}
	amount, err = decodeAmount(args[2])
	if err != nil {
		return
	}
	if len(args) >= 4 {
		if err = json.Unmarshal(args[3], &tokenID); err == nil {
			hasTokenID = true
		}
		err = nil
	}
	return
}

func decodeAmount(raw json.RawMessage) (decimal.Decimal, error) {
	var wrapped struct {
		Decimal string `json:"decimal"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Decimal != "" {
		return decimal.NewFromString(wrapped.Decimal)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return decimal.NewFromString(s)
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return decimal.NewFromFloat(f), nil
	}
	return decimal.Decimal{}, fmt.Errorf("unrecognised amount encoding: %s", string(raw))
}

// materialiseCoinbase inserts the synthetic per-block coinbase
// transaction (spec §4.5 step 4).
func materialiseCoinbase(ctx context.Context, uow storage.UnitOfWork, network domain.Network, chainID domain.ChainID, blockHash, payloadHash string, height uint64, coinbase string) error {
	raw, err := node.DecodeBase64JSON(coinbase)
	if err != nil {
		return fmt.Errorf("decode coinbase: %w", err)
	}
	if raw == nil {
		return nil
	}

	var resEnv pactResultEnvelope
	if err := json.Unmarshal(raw, &resEnv); err != nil {
		return fmt.Errorf("decode coinbase result: %w", err)
	}

	logs := ""
	if resEnv.Logs != nil {
		logs = *resEnv.Logs
	}

	txn := &domain.Transaction{
		BlockHash:  blockHash,
		RequestKey: blockHash + "-coinbase",
		Hash:       blockHash + "-coinbase",
		Sender:     "coinbase",
		ChainID:    chainID,
		Result:     resEnv.Result.Data,
		Logs:       logs,
		NumEvents:  len(resEnv.Events),
		TxID:       resEnv.TxID,
		Canonical:  true,
		GasUsed:    resEnv.Gas,
		Payload:    domain.Payload{Kind: domain.PayloadExecution, Execution: &domain.ExecutionPayload{}},
	}
	if err := uow.InsertTransaction(ctx, txn); err != nil {
		return fmt.Errorf("insert coinbase transaction: %w", err)
	}

	for i, pe := range resEnv.Events {
		params, err := json.Marshal(pe.Params)
		if err != nil {
			return fmt.Errorf("marshal coinbase event params: %w", err)
		}
		ev := &domain.Event{
			TransactionID: txn.ID,
			RequestKey:    txn.RequestKey,
			ChainID:       chainID,
			OrderIndex:    i,
			Module:        pe.Module.qualified(),
			Name:          pe.Name,
			Params:        params,
			BlockHash:     blockHash,
			Height:        height,
		}
		if err := uow.InsertEvent(ctx, ev); err != nil {
			return fmt.Errorf("insert coinbase event: %w", err)
		}
		if ev.IsTransfer() {
			if err := materialiseTransfer(ctx, uow, network, chainID, txn.RequestKey, payloadHash, pe.ModuleHash, ev); err != nil {
				return fmt.Errorf("materialise coinbase transfer: %w", err)
			}
		}
	}
	return nil
}

// reconcileCanonical flips `canonical` on every transaction/transfer at
// (chainId, height) to match the heaviest competing block at that height
// (spec §4.5 canonicalisation: heaviest weight, ties by lexicographic
// hash). A reorg deeper than 1 leaves already-materialised blocks sitting
// on top of the now-losing fork, so once the winner at height is settled
// the walk continues forward along parent links (spec §4.5) to re-derive
// canonical status on every descendant height already in storage.
func reconcileCanonical(ctx context.Context, uow storage.UnitOfWork, chainID domain.ChainID, height uint64) error {
	blocks, err := uow.BlockAtHeight(ctx, chainID, height)
	if err != nil {
		return fmt.Errorf("block at height: %w", err)
	}
	if len(blocks) <= 1 {
		return nil
	}

	metrics.ReorgsDetected.WithLabelValues(strconv.Itoa(int(chainID))).Inc()

	winner := blocks[0]
	for _, b := range blocks[1:] {
		if isHeavier(b, winner) {
			winner = b
		}
	}
	if err := uow.SetCanonical(ctx, chainID, height, winner.Hash); err != nil {
		return fmt.Errorf("set canonical at height %d: %w", height, err)
	}
	return reconcileDescendants(ctx, uow, chainID, height+1, winner.Hash)
}

// reconcileDescendants walks forward one height at a time from
// (height, canonicalParentHash), re-deriving which already-materialised
// block at each height descends from the current canonical parent and
// flipping its transactions/transfers canonical via SetCanonical. Ties
// among candidate children are broken the same way as at the collision
// height (isHeavier).
//
// Once a height has no block whose ParentHash matches the tracked parent,
// the canonical lineage is broken there: SetCanonical is still called with
// an empty hash so every block materialised at that height loses
// `canonical`, and the walk continues with an empty parent so every
// further height under the old fork is flushed the same way, until
// BlockAtHeight finally returns nothing (nothing materialised beyond that
// point yet).
func reconcileDescendants(ctx context.Context, uow storage.UnitOfWork, chainID domain.ChainID, height uint64, canonicalParentHash string) error {
	blocks, err := uow.BlockAtHeight(ctx, chainID, height)
	if err != nil {
		return fmt.Errorf("block at height: %w", err)
	}
	if len(blocks) == 0 {
		return nil
	}

	var winner *domain.Block
	for _, b := range blocks {
		if b.ParentHash != canonicalParentHash {
			continue
		}
		if winner == nil || isHeavier(b, winner) {
			winner = b
		}
	}

	nextParentHash := ""
	if winner != nil {
		nextParentHash = winner.Hash
	}
	if err := uow.SetCanonical(ctx, chainID, height, nextParentHash); err != nil {
		return fmt.Errorf("set canonical at height %d: %w", height, err)
	}
	return reconcileDescendants(ctx, uow, chainID, height+1, nextParentHash)
}

// isHeavier reports whether a is the heavier fork relative to b: greater
// weight wins, ties broken by lexicographically greater hash (spec §4.5).
func isHeavier(a, b *domain.Block) bool {
	aw, aerr := decimal.NewFromString(a.Weight)
	bw, berr := decimal.NewFromString(b.Weight)
	if aerr == nil && berr == nil {
		if cmp := aw.Cmp(bw); cmp != 0 {
			return cmp > 0
		}
	} else if a.Weight != b.Weight {
		return strings.Compare(a.Weight, b.Weight) > 0
	}
	return strings.Compare(a.Hash, b.Hash) > 0
}
