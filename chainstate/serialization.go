package chainstate

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/tos-network/tosd/domain/consensus/model/externalapi"
	"github.com/tos-network/tosd/scheduler"
)

// No protobuf schema was retrieved for Account/EscrowAccount/arbiter
// records (they are new, account-model types spec.md introduces), so
// they are serialized with a small fixed-layout little-endian binary
// encoding.

type writer struct {
	buf []byte
}

func (w *writer) putUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) putUint8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *writer) putBytes(b []byte) {
	w.putUint64(uint64(len(b)))
	w.buf = append(w.buf, b...)
}

type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) uint64() (uint64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, errors.New("chainstate: unexpected end of buffer")
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

func (r *byteReader) uint8() (uint8, error) {
	if r.pos+1 > len(r.buf) {
		return 0, errors.New("chainstate: unexpected end of buffer")
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *byteReader) bytes() ([]byte, error) {
	n, err := r.uint64()
	if err != nil {
		return nil, err
	}
	if r.pos+int(n) > len(r.buf) {
		return nil, errors.New("chainstate: unexpected end of buffer")
	}
	out := append([]byte(nil), r.buf[r.pos:r.pos+int(n)]...)
	r.pos += int(n)
	return out, nil
}

func serializeAccount(account *externalapi.Account) []byte {
	w := &writer{}
	w.putBytes(account.PublicKey)
	w.putUint64(account.Nonce)
	w.putUint64(uint64(len(account.Balances)))
	for asset, amount := range account.Balances {
		w.buf = append(w.buf, asset[:]...)
		w.putUint64(amount)
	}
	if account.MultiSig != nil {
		w.putUint8(1)
		w.putUint8(account.MultiSig.Threshold)
		w.putUint64(uint64(len(account.MultiSig.Participants)))
		for _, p := range account.MultiSig.Participants {
			w.putBytes(p)
		}
	} else {
		w.putUint8(0)
	}
	return w.buf
}

func deserializeAccount(data []byte) (*externalapi.Account, error) {
	r := &byteReader{buf: data}
	publicKey, err := r.bytes()
	if err != nil {
		return nil, err
	}
	account := externalapi.NewAccount(publicKey)

	account.Nonce, err = r.uint64()
	if err != nil {
		return nil, err
	}

	numBalances, err := r.uint64()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < numBalances; i++ {
		if r.pos+externalapi.DomainHashSize > len(r.buf) {
			return nil, errors.New("chainstate: unexpected end of buffer")
		}
		var asset externalapi.AssetID
		copy(asset[:], r.buf[r.pos:r.pos+externalapi.DomainHashSize])
		r.pos += externalapi.DomainHashSize
		amount, err := r.uint64()
		if err != nil {
			return nil, err
		}
		account.Balances[asset] = amount
	}

	hasMultiSig, err := r.uint8()
	if err != nil {
		return nil, err
	}
	if hasMultiSig == 1 {
		threshold, err := r.uint8()
		if err != nil {
			return nil, err
		}
		numParticipants, err := r.uint64()
		if err != nil {
			return nil, err
		}
		participants := make([][]byte, numParticipants)
		for i := range participants {
			participants[i], err = r.bytes()
			if err != nil {
				return nil, err
			}
		}
		account.MultiSig = &externalapi.MultiSigConfig{Threshold: threshold, Participants: participants}
	}

	return account, nil
}

func serializeEscrow(e *externalapi.EscrowAccount) []byte {
	w := &writer{}
	w.buf = append(w.buf, e.ID.ByteSlice()...)
	w.putBytes([]byte(e.TaskID))
	w.putBytes(e.Payer)
	w.putBytes(e.Payee)
	w.buf = append(w.buf, e.Asset[:]...)
	w.putUint64(e.Amount)
	w.putUint64(e.TotalAmount)
	w.putUint64(e.ReleasedAmount)
	w.putUint64(e.RefundedAmount)
	w.putUint8(uint8(e.State))
	w.putUint64(e.CreatedAt)
	w.putUint64(e.UpdatedAt)
	w.putUint64(e.TimeoutAt)
	w.putUint64(e.TimeoutBlocks)
	w.putUint64(e.ChallengeWindow)
	w.putUint64(uint64(e.ChallengeDepositBps))
	if e.OptimisticRelease {
		w.putUint8(1)
	} else {
		w.putUint8(0)
	}
	if e.HasPendingRelease {
		w.putUint8(1)
		w.putUint64(e.PendingReleaseAmount)
	} else {
		w.putUint8(0)
	}
	if e.HasReleaseRequestedAt {
		w.putUint8(1)
		w.putUint64(e.ReleaseRequestedAt)
	} else {
		w.putUint8(0)
	}
	if e.ArbitrationConfig != nil {
		w.putUint8(1)
		w.putUint8(uint8(e.ArbitrationConfig.Mode))
		w.putUint8(e.ArbitrationConfig.Threshold)
		w.putUint64(uint64(len(e.ArbitrationConfig.Arbiters)))
		for _, a := range e.ArbitrationConfig.Arbiters {
			w.putBytes(a)
		}
	} else {
		w.putUint8(0)
	}
	if e.HasDisputeRound {
		w.putUint8(1)
		w.buf = append(w.buf, e.DisputeID.ByteSlice()...)
		w.putUint64(uint64(e.DisputeRound))
	} else {
		w.putUint8(0)
	}
	if e.Dispute != nil {
		w.putUint8(1)
		w.buf = append(w.buf, e.Dispute.DisputeID.ByteSlice()...)
		w.putUint64(uint64(e.Dispute.Round))
		w.putBytes(e.Dispute.RaisedBy)
		w.putBytes(e.Dispute.Reason)
		w.putUint64(e.Dispute.RaisedAt)
	} else {
		w.putUint8(0)
	}
	if e.Appeal != nil {
		w.putUint8(1)
		w.putBytes(e.Appeal.RaisedBy)
		w.putUint64(e.Appeal.Deposit)
		w.putUint64(e.Appeal.RaisedAt)
	} else {
		w.putUint8(0)
	}
	w.putUint64(uint64(len(e.Resolutions)))
	for _, res := range e.Resolutions {
		w.buf = append(w.buf, res.DisputeID.ByteSlice()...)
		w.putUint64(uint64(res.Round))
		w.putUint64(res.PayerAmount)
		w.putUint64(res.PayeeAmount)
		w.putUint64(res.ResolvedAt)
	}
	return w.buf
}

func deserializeEscrow(data []byte) (*externalapi.EscrowAccount, error) {
	r := &byteReader{buf: data}
	e := &externalapi.EscrowAccount{}

	readHash := func(dst *externalapi.DomainHash) error {
		if r.pos+externalapi.DomainHashSize > len(r.buf) {
			return errors.New("chainstate: unexpected end of buffer")
		}
		copy(dst[:], r.buf[r.pos:r.pos+externalapi.DomainHashSize])
		r.pos += externalapi.DomainHashSize
		return nil
	}

	e.ID = &externalapi.DomainHash{}
	if err := readHash(e.ID); err != nil {
		return nil, err
	}
	taskID, err := r.bytes()
	if err != nil {
		return nil, err
	}
	e.TaskID = string(taskID)
	if e.Payer, err = r.bytes(); err != nil {
		return nil, err
	}
	if e.Payee, err = r.bytes(); err != nil {
		return nil, err
	}
	if err := readHash((*externalapi.DomainHash)(&e.Asset)); err != nil {
		return nil, err
	}
	if e.Amount, err = r.uint64(); err != nil {
		return nil, err
	}
	if e.TotalAmount, err = r.uint64(); err != nil {
		return nil, err
	}
	if e.ReleasedAmount, err = r.uint64(); err != nil {
		return nil, err
	}
	if e.RefundedAmount, err = r.uint64(); err != nil {
		return nil, err
	}
	state, err := r.uint8()
	if err != nil {
		return nil, err
	}
	e.State = externalapi.EscrowState(state)
	if e.CreatedAt, err = r.uint64(); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = r.uint64(); err != nil {
		return nil, err
	}
	if e.TimeoutAt, err = r.uint64(); err != nil {
		return nil, err
	}
	if e.TimeoutBlocks, err = r.uint64(); err != nil {
		return nil, err
	}
	if e.ChallengeWindow, err = r.uint64(); err != nil {
		return nil, err
	}
	bps, err := r.uint64()
	if err != nil {
		return nil, err
	}
	e.ChallengeDepositBps = uint16(bps)
	optimistic, err := r.uint8()
	if err != nil {
		return nil, err
	}
	e.OptimisticRelease = optimistic == 1

	hasPending, err := r.uint8()
	if err != nil {
		return nil, err
	}
	if hasPending == 1 {
		e.HasPendingRelease = true
		if e.PendingReleaseAmount, err = r.uint64(); err != nil {
			return nil, err
		}
	}

	hasRequestedAt, err := r.uint8()
	if err != nil {
		return nil, err
	}
	if hasRequestedAt == 1 {
		e.HasReleaseRequestedAt = true
		if e.ReleaseRequestedAt, err = r.uint64(); err != nil {
			return nil, err
		}
	}

	hasConfig, err := r.uint8()
	if err != nil {
		return nil, err
	}
	if hasConfig == 1 {
		mode, err := r.uint8()
		if err != nil {
			return nil, err
		}
		threshold, err := r.uint8()
		if err != nil {
			return nil, err
		}
		numArbiters, err := r.uint64()
		if err != nil {
			return nil, err
		}
		arbiters := make([][]byte, numArbiters)
		for i := range arbiters {
			if arbiters[i], err = r.bytes(); err != nil {
				return nil, err
			}
		}
		e.ArbitrationConfig = &externalapi.ArbitrationConfig{
			Mode:      externalapi.ArbitrationMode(mode),
			Threshold: threshold,
			Arbiters:  arbiters,
		}
	}

	hasDispute, err := r.uint8()
	if err != nil {
		return nil, err
	}
	if hasDispute == 1 {
		e.HasDisputeRound = true
		e.DisputeID = &externalapi.DomainHash{}
		if err := readHash(e.DisputeID); err != nil {
			return nil, err
		}
		round, err := r.uint64()
		if err != nil {
			return nil, err
		}
		e.DisputeRound = uint32(round)
	}

	hasDisputeInfo, err := r.uint8()
	if err != nil {
		return nil, err
	}
	if hasDisputeInfo == 1 {
		dispute := &externalapi.DisputeInfo{DisputeID: &externalapi.DomainHash{}}
		if err := readHash(dispute.DisputeID); err != nil {
			return nil, err
		}
		round, err := r.uint64()
		if err != nil {
			return nil, err
		}
		dispute.Round = uint32(round)
		if dispute.RaisedBy, err = r.bytes(); err != nil {
			return nil, err
		}
		if dispute.Reason, err = r.bytes(); err != nil {
			return nil, err
		}
		if dispute.RaisedAt, err = r.uint64(); err != nil {
			return nil, err
		}
		e.Dispute = dispute
	}

	hasAppeal, err := r.uint8()
	if err != nil {
		return nil, err
	}
	if hasAppeal == 1 {
		appeal := &externalapi.AppealInfo{}
		if appeal.RaisedBy, err = r.bytes(); err != nil {
			return nil, err
		}
		if appeal.Deposit, err = r.uint64(); err != nil {
			return nil, err
		}
		if appeal.RaisedAt, err = r.uint64(); err != nil {
			return nil, err
		}
		e.Appeal = appeal
	}

	numResolutions, err := r.uint64()
	if err != nil {
		return nil, err
	}
	if numResolutions > 0 {
		e.Resolutions = make([]externalapi.VerdictResolution, numResolutions)
		for i := range e.Resolutions {
			res := &e.Resolutions[i]
			res.DisputeID = &externalapi.DomainHash{}
			if err := readHash(res.DisputeID); err != nil {
				return nil, err
			}
			round, err := r.uint64()
			if err != nil {
				return nil, err
			}
			res.Round = uint32(round)
			if res.PayerAmount, err = r.uint64(); err != nil {
				return nil, err
			}
			if res.PayeeAmount, err = r.uint64(); err != nil {
				return nil, err
			}
			if res.ResolvedAt, err = r.uint64(); err != nil {
				return nil, err
			}
		}
	}

	return e, nil
}

func serializeUint64(v uint64) []byte {
	w := &writer{}
	w.putUint64(v)
	return w.buf
}

func deserializeUint64(data []byte) uint64 {
	r := &byteReader{buf: data}
	v, _ := r.uint64()
	return v
}

func serializeScheduledExecution(e *scheduler.Execution) []byte {
	w := &writer{}
	w.buf = append(w.buf, e.Hash.ByteSlice()...)
	w.buf = append(w.buf, e.Contract.ByteSlice()...)
	w.putUint64(uint64(e.ChunkID))
	w.putBytes(e.InputData)
	w.putUint64(e.MaxGas)
	w.putUint64(e.OfferAmount)
	w.buf = append(w.buf, e.SchedulerContract.ByteSlice()...)
	w.putUint8(uint8(e.Kind))
	w.putUint64(e.TargetTopoheight)
	w.putUint64(e.RegistrationTopoheight)
	w.putUint64(uint64(e.DeferCount))
	w.putUint8(uint8(e.Status))
	return w.buf
}

func deserializeScheduledExecution(data []byte) (*scheduler.Execution, error) {
	r := &byteReader{buf: data}
	e := &scheduler.Execution{}

	readHash := func() (*externalapi.DomainHash, error) {
		if r.pos+externalapi.DomainHashSize > len(r.buf) {
			return nil, errors.New("chainstate: unexpected end of buffer")
		}
		h := &externalapi.DomainHash{}
		copy(h[:], r.buf[r.pos:r.pos+externalapi.DomainHashSize])
		r.pos += externalapi.DomainHashSize
		return h, nil
	}

	var err error
	if e.Hash, err = readHash(); err != nil {
		return nil, err
	}
	if e.Contract, err = readHash(); err != nil {
		return nil, err
	}
	chunkID, err := r.uint64()
	if err != nil {
		return nil, err
	}
	e.ChunkID = uint16(chunkID)
	if e.InputData, err = r.bytes(); err != nil {
		return nil, err
	}
	if e.MaxGas, err = r.uint64(); err != nil {
		return nil, err
	}
	if e.OfferAmount, err = r.uint64(); err != nil {
		return nil, err
	}
	if e.SchedulerContract, err = readHash(); err != nil {
		return nil, err
	}
	kind, err := r.uint8()
	if err != nil {
		return nil, err
	}
	e.Kind = scheduler.Kind(kind)
	if e.TargetTopoheight, err = r.uint64(); err != nil {
		return nil, err
	}
	if e.RegistrationTopoheight, err = r.uint64(); err != nil {
		return nil, err
	}
	deferCount, err := r.uint64()
	if err != nil {
		return nil, err
	}
	e.DeferCount = uint32(deferCount)
	status, err := r.uint8()
	if err != nil {
		return nil, err
	}
	e.Status = scheduler.Status(status)
	return e, nil
}

func serializeArbiterRecord(rec *ArbiterRecord) []byte {
	w := &writer{}
	if rec.Active {
		w.putUint8(1)
	} else {
		w.putUint8(0)
	}
	w.putUint64(rec.Stake)
	return w.buf
}

func deserializeArbiterRecord(data []byte) (*ArbiterRecord, error) {
	r := &byteReader{buf: data}
	active, err := r.uint8()
	if err != nil {
		return nil, err
	}
	stake, err := r.uint64()
	if err != nil {
		return nil, err
	}
	return &ArbiterRecord{Active: active == 1, Stake: stake}, nil
}
