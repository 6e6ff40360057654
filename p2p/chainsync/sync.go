package chainsync

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/tos-network/tosd/consensus"
	"github.com/tos-network/tosd/domain/consensus/model/externalapi"
)

const (
	// defaultMaxChainResponseSize bounds how many hashes one
	// ChainRequest/ChainResponse round carries, matching the node
	// operator-configurable cap spec.md §4.8 step 1 describes.
	defaultMaxChainResponseSize = 512
	// topBlocksWindow bounds how many alt-tip hashes HandleChainRequest
	// offers a peer that is nearly caught up with us, the local analogue
	// of CHAIN_SYNC_TOP_BLOCKS.
	topBlocksWindow = 16
	// fetchConcurrency bounds how many blocks Syncer requests from one
	// peer at once, the local analogue of PEER_OBJECTS_CONCURRENCY.
	fetchConcurrency = 8
	// deferredMaxRetries bounds how many rounds a block missing its
	// parent is retried before sync gives up on it.
	deferredMaxRetries = 3
	// deferredBlockTimeout bounds how long one deferred block keeps
	// retrying within a single round before it rolls to the next one.
	deferredBlockTimeout = 30 * time.Second
	// deferredRetryInterval is the pause between ParentNotFound retries.
	deferredRetryInterval = 100 * time.Millisecond
)

// Syncer drives chain-synchronization rounds against Peer handles over a
// ChainProvider's local view of the DAG.
type Syncer struct {
	chain  ChainProvider
	config Config
}

// New constructs a Syncer over chain using DefaultConfig.
func New(chain ChainProvider) *Syncer {
	return NewWithConfig(chain, DefaultConfig())
}

// NewWithConfig constructs a Syncer over chain with an explicit Config.
func NewWithConfig(chain ChainProvider, config Config) *Syncer {
	return &Syncer{chain: chain, config: config}
}

// BuildLocator samples our chain at logarithmically increasing offsets
// from the tip, terminating with genesis (topoheight 0), per spec.md
// §4.8 step 1. Returns nil if we haven't processed a genesis block yet.
func (s *Syncer) BuildLocator() ([]BlockID, error) {
	top, ok, err := s.chain.TopTopoheight()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var ids []BlockID
	height := top
	step := uint64(1)
	for {
		hash, found, err := s.chain.HashAtTopoheight(height)
		if err != nil {
			return nil, err
		}
		if found {
			ids = append(ids, BlockID{Hash: hash, Topoheight: height})
		}
		if height == 0 {
			break
		}
		if height < step {
			height = 0
		} else {
			height -= step
		}
		step *= 2
	}
	return ids, nil
}

// RequestSyncChainFor runs one sync round against peer: build our
// locator, ask for the peer's chain beyond our shared point, validate
// the response's size, and apply whatever it returns.
func (s *Syncer) RequestSyncChainFor(peer Peer) error {
	ids, err := s.BuildLocator()
	if err != nil {
		return err
	}

	resp, err := peer.RequestChain(ChainRequest{IDs: ids, MaxSize: defaultMaxChainResponseSize})
	if err != nil {
		return err
	}
	if len(resp.Blocks)+len(resp.TopBlocks) > defaultMaxChainResponseSize {
		return errors.Wrapf(ErrInvalidChainResponseSize, "from %s", peer)
	}

	requested := len(resp.Blocks)
	fetched, err := s.handleChainResponse(peer, resp)
	if err != nil {
		return err
	}

	// Spec step 9's peer-list fan-out (ask every other nearby peer for
	// inventory too) belongs to the connection manager that tracks the
	// full peer set; that component does not exist yet, so this round
	// only re-asks the peer we just synced against.
	if fetched > 0 && requested < defaultMaxChainResponseSize {
		return peer.RequestInventory()
	}
	return nil
}

// HandleChainRequest answers a peer's ChainRequest: find the deepest of
// their sampled IDs we also recognize, then return our hashes starting
// just after it, plus near-tip alt blocks if they're nearly caught up,
// per spec.md §4.8 step 2.
func (s *Syncer) HandleChainRequest(req ChainRequest) (*ChainResponse, error) {
	maxSize := req.MaxSize
	if maxSize <= 0 || maxSize > defaultMaxChainResponseSize {
		maxSize = defaultMaxChainResponseSize
	}

	var common *BlockID
	for _, id := range req.IDs {
		hash, found, err := s.chain.HashAtTopoheight(id.Topoheight)
		if err != nil {
			return nil, err
		}
		if found && hash.Equal(id.Hash) {
			c := id
			common = &c
			break
		}
	}

	resp := &ChainResponse{CommonPoint: common}
	if common == nil {
		return resp, nil
	}

	top, _, err := s.chain.TopTopoheight()
	if err != nil {
		return nil, err
	}

	lowest := top
	for topoheight := common.Topoheight + 1; len(resp.Blocks) < maxSize && topoheight <= top; topoheight++ {
		hash, found, err := s.chain.HashAtTopoheight(topoheight)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		if topoheight < lowest {
			lowest = topoheight
		}
		resp.Blocks = append(resp.Blocks, hash)
	}
	resp.LowestTopoheight = lowest

	if top-common.Topoheight < uint64(maxSize) {
		tips, err := s.chain.Tips()
		if err != nil {
			return nil, err
		}
		for _, tip := range tips {
			if len(resp.TopBlocks) >= topBlocksWindow {
				break
			}
			if containsHash(resp.Blocks, tip) {
				continue
			}
			resp.TopBlocks = append(resp.TopBlocks, tip)
		}
	}

	return resp, nil
}

type deferredBlock struct {
	block *externalapi.DomainBlock
	hash  *externalapi.DomainHash
}

// handleChainResponse applies a ChainResponse: concurrently fetches and
// processes every hash we don't already have, bounded by
// fetchConcurrency, then retries whatever was deferred for a missing
// parent. Returns how many blocks were newly applied.
func (s *Syncer) handleChainResponse(peer Peer, resp *ChainResponse) (int, error) {
	if resp.CommonPoint == nil {
		if len(resp.Blocks) > 0 || len(resp.TopBlocks) > 0 {
			return 0, errors.Wrapf(ErrNoCommonPoint, "from %s", peer)
		}
		return 0, nil
	}

	hashes := make([]*externalapi.DomainHash, 0, len(resp.Blocks)+len(resp.TopBlocks))
	hashes = append(hashes, resp.Blocks...)
	hashes = append(hashes, resp.TopBlocks...)

	var mu sync.Mutex
	var deferred []deferredBlock
	fetched := 0

	g := new(errgroup.Group)
	g.SetLimit(fetchConcurrency)
	for _, hash := range hashes {
		hash := hash
		g.Go(func() error {
			// A known block always carries a topoheight in this
			// package's model (ProcessBlock assigns both atomically), so
			// the re-execution case s.config.ReExecutionEnabled guards
			// against (a known hash with no topoheight) cannot occur
			// here; a known hash is simply done either way.
			has, err := s.chain.HasBlock(hash)
			if err != nil {
				return err
			}
			if has {
				return nil
			}

			block, err := peer.RequestBlock(hash)
			if err != nil {
				return err
			}
			if !consensus.HeaderHash(block.Header).Equal(hash) {
				return errors.Wrapf(ErrBlockHashMismatch, "from %s", peer)
			}

			err = s.chain.ProcessBlock(block)
			switch {
			case err == nil:
				mu.Lock()
				fetched++
				mu.Unlock()
				return nil
			case errors.Is(err, consensus.ErrDuplicateBlock):
				return nil
			case errors.Is(err, consensus.ErrParentUnknown):
				mu.Lock()
				deferred = append(deferred, deferredBlock{block: block, hash: hash})
				mu.Unlock()
				return nil
			default:
				return err
			}
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	deferredFetched, err := s.processDeferred(deferred)
	if err != nil {
		return fetched, err
	}
	return fetched + deferredFetched, nil
}

// processDeferred retries blocks whose parent wasn't known yet when
// first applied, per spec.md §4.8 step 8: up to deferredMaxRetries
// rounds, each block independently retried within its own
// deferredBlockTimeout window, sleeping deferredRetryInterval between
// ParentNotFound attempts.
func (s *Syncer) processDeferred(deferred []deferredBlock) (int, error) {
	fetched := 0
	for round := 0; round < deferredMaxRetries && len(deferred) > 0; round++ {
		var mu sync.Mutex
		var stillDeferred []deferredBlock

		g := new(errgroup.Group)
		for _, d := range deferred {
			d := d
			g.Go(func() error {
				deadline := time.Now().Add(deferredBlockTimeout)
				for {
					err := s.chain.ProcessBlock(d.block)
					if err == nil || errors.Is(err, consensus.ErrDuplicateBlock) {
						mu.Lock()
						fetched++
						mu.Unlock()
						return nil
					}
					if !errors.Is(err, consensus.ErrParentUnknown) {
						return err
					}
					if time.Now().After(deadline) {
						mu.Lock()
						stillDeferred = append(stillDeferred, d)
						mu.Unlock()
						return nil
					}
					time.Sleep(deferredRetryInterval)
				}
			})
		}
		if err := g.Wait(); err != nil {
			return fetched, err
		}
		deferred = stillDeferred
	}

	if len(deferred) > 0 {
		return fetched, errors.Wrapf(ErrSyncMaxRetriesExceeded, "%d blocks", len(deferred))
	}
	return fetched, nil
}

func containsHash(hashes []*externalapi.DomainHash, hash *externalapi.DomainHash) bool {
	for _, candidate := range hashes {
		if candidate.Equal(hash) {
			return true
		}
	}
	return false
}
