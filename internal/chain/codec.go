package chain

import (
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Account layouts mirror the on-chain challenge program. Every record starts
// with an 8-byte discriminator, then fields little-endian in declaration
// order with no padding.

const discriminatorLen = 8

// ChallengeAccountLen is the byte length of a challenge record after the
// discriminator: 3 pubkeys + u64 + i64 + i64 + u32 + u64 + u8.
const ChallengeAccountLen = 32*3 + 8 + 8 + 8 + 4 + 8 + 1

// ParticipantAccountLen is the byte length of a participant record after the
// discriminator: 2 pubkeys + u64 + u32 + i64 + i64 + u8.
const ParticipantAccountLen = 32*2 + 8 + 4 + 8 + 8 + 1

// ErrTruncatedRecord is returned when an account buffer is shorter than the
// fixed layout requires.
var ErrTruncatedRecord = errors.New("truncated account record")

// ChallengeAccount is the decoded on-chain challenge state.
type ChallengeAccount struct {
	Creator          solana.PublicKey
	Escrow           solana.PublicKey
	Oracle           solana.PublicKey
	StakeAmount      uint64
	StartTime        int64
	EndTime          int64
	ParticipantCount uint32
	TotalStaked      uint64
	IsActive         bool
}

// ParticipantAccount is the decoded on-chain participant state.
type ParticipantAccount struct {
	Challenge    solana.PublicKey
	User         solana.PublicKey
	StakeAmount  uint64
	ProofCount   uint32
	JoinedAt     int64
	LastProofAt  int64
	HasWithdrawn bool
}

// rawChallenge matches the wire layout exactly. The flag byte is kept as a
// u8 so that any value other than 1 decodes as false instead of erroring.
type rawChallenge struct {
	Creator          solana.PublicKey
	Escrow           solana.PublicKey
	Oracle           solana.PublicKey
	StakeAmount      uint64
	StartTime        int64
	EndTime          int64
	ParticipantCount uint32
	TotalStaked      uint64
	IsActive         uint8
}

type rawParticipant struct {
	Challenge    solana.PublicKey
	User         solana.PublicKey
	StakeAmount  uint64
	ProofCount   uint32
	JoinedAt     int64
	LastProofAt  int64
	HasWithdrawn uint8
}

// DecodeChallengeAccount decodes the raw account bytes returned by the ledger
// into a ChallengeAccount. Pure function of its input.
func DecodeChallengeAccount(data []byte) (ChallengeAccount, error) {
	if len(data) < discriminatorLen+ChallengeAccountLen {
		return ChallengeAccount{}, fmt.Errorf("challenge account: %w (got %d bytes, need %d)",
			ErrTruncatedRecord, len(data), discriminatorLen+ChallengeAccountLen)
	}

	var raw rawChallenge
	dec := bin.NewBorshDecoder(data[discriminatorLen:])
	if err := dec.Decode(&raw); err != nil {
		return ChallengeAccount{}, fmt.Errorf("decoding challenge account: %w", err)
	}

	return ChallengeAccount{
		Creator:          raw.Creator,
		Escrow:           raw.Escrow,
		Oracle:           raw.Oracle,
		StakeAmount:      raw.StakeAmount,
		StartTime:        raw.StartTime,
		EndTime:          raw.EndTime,
		ParticipantCount: raw.ParticipantCount,
		TotalStaked:      raw.TotalStaked,
		IsActive:         raw.IsActive == 1,
	}, nil
}

// DecodeParticipantAccount decodes the raw account bytes returned by the
// ledger into a ParticipantAccount.
func DecodeParticipantAccount(data []byte) (ParticipantAccount, error) {
	if len(data) < discriminatorLen+ParticipantAccountLen {
		return ParticipantAccount{}, fmt.Errorf("participant account: %w (got %d bytes, need %d)",
			ErrTruncatedRecord, len(data), discriminatorLen+ParticipantAccountLen)
	}

	var raw rawParticipant
	dec := bin.NewBorshDecoder(data[discriminatorLen:])
	if err := dec.Decode(&raw); err != nil {
		return ParticipantAccount{}, fmt.Errorf("decoding participant account: %w", err)
	}

	return ParticipantAccount{
		Challenge:    raw.Challenge,
		User:         raw.User,
		StakeAmount:  raw.StakeAmount,
		ProofCount:   raw.ProofCount,
		JoinedAt:     raw.JoinedAt,
		LastProofAt:  raw.LastProofAt,
		HasWithdrawn: raw.HasWithdrawn == 1,
	}, nil
}
