package chain

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
)

// encodeChallenge builds a wire-format challenge record by hand, independent
// of the decoder under test.
func encodeChallenge(t *testing.T, c ChallengeAccount, activeByte uint8) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	buf.Write(make([]byte, discriminatorLen))
	buf.Write(c.Creator[:])
	buf.Write(c.Escrow[:])
	buf.Write(c.Oracle[:])
	binary.Write(buf, binary.LittleEndian, c.StakeAmount)
	binary.Write(buf, binary.LittleEndian, c.StartTime)
	binary.Write(buf, binary.LittleEndian, c.EndTime)
	binary.Write(buf, binary.LittleEndian, c.ParticipantCount)
	binary.Write(buf, binary.LittleEndian, c.TotalStaked)
	buf.WriteByte(activeByte)
	return buf.Bytes()
}

func encodeParticipant(t *testing.T, p ParticipantAccount, withdrawnByte uint8) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	buf.Write(make([]byte, discriminatorLen))
	buf.Write(p.Challenge[:])
	buf.Write(p.User[:])
	binary.Write(buf, binary.LittleEndian, p.StakeAmount)
	binary.Write(buf, binary.LittleEndian, p.ProofCount)
	binary.Write(buf, binary.LittleEndian, p.JoinedAt)
	binary.Write(buf, binary.LittleEndian, p.LastProofAt)
	buf.WriteByte(withdrawnByte)
	return buf.Bytes()
}

func testKey(seed byte) solana.PublicKey {
	var k solana.PublicKey
	for i := range k {
		k[i] = seed
	}
	return k
}

func TestDecodeChallengeAccountRoundTrip(t *testing.T) {
	want := ChallengeAccount{
		Creator:          testKey(0x11),
		Escrow:           testKey(0x22),
		Oracle:           testKey(0x33),
		StakeAmount:      5_000_000,
		StartTime:        1_700_000_000,
		EndTime:          1_700_604_800,
		ParticipantCount: 42,
		TotalStaked:      210_000_000,
		IsActive:         true,
	}

	got, err := DecodeChallengeAccount(encodeChallenge(t, want, 1))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != want {
		t.Errorf("decoded = %+v, want %+v", got, want)
	}
}

func TestDecodeChallengeAccountZeroStake(t *testing.T) {
	want := ChallengeAccount{
		Creator: testKey(0x01),
		Escrow:  testKey(0x02),
		Oracle:  testKey(0x03),
	}

	got, err := DecodeChallengeAccount(encodeChallenge(t, want, 0))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.StakeAmount != 0 {
		t.Errorf("StakeAmount = %d, want 0", got.StakeAmount)
	}
	if got.IsActive {
		t.Error("IsActive = true, want false")
	}
}

func TestDecodeChallengeAccountNonCanonicalBool(t *testing.T) {
	// Any flag byte other than 1 decodes as false, never an error.
	for _, b := range []uint8{0, 2, 0x7f, 0xff} {
		got, err := DecodeChallengeAccount(encodeChallenge(t, ChallengeAccount{}, b))
		if err != nil {
			t.Fatalf("flag byte %#x: decode: %v", b, err)
		}
		if wantActive := b == 1; got.IsActive != wantActive {
			t.Errorf("flag byte %#x: IsActive = %v, want %v", b, got.IsActive, wantActive)
		}
	}
}

func TestDecodeChallengeAccountTruncated(t *testing.T) {
	full := encodeChallenge(t, ChallengeAccount{}, 1)
	for _, n := range []int{0, discriminatorLen, len(full) - 1} {
		_, err := DecodeChallengeAccount(full[:n])
		if !errors.Is(err, ErrTruncatedRecord) {
			t.Errorf("len %d: err = %v, want ErrTruncatedRecord", n, err)
		}
	}
}

func TestDecodeParticipantAccountRoundTrip(t *testing.T) {
	want := ParticipantAccount{
		Challenge:    testKey(0xaa),
		User:         testKey(0xbb),
		StakeAmount:  5_000_000,
		ProofCount:   7,
		JoinedAt:     1_700_000_123,
		LastProofAt:  1_700_600_000,
		HasWithdrawn: false,
	}

	got, err := DecodeParticipantAccount(encodeParticipant(t, want, 0))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != want {
		t.Errorf("decoded = %+v, want %+v", got, want)
	}
}

func TestDecodeParticipantAccountWithdrawnFlag(t *testing.T) {
	got, err := DecodeParticipantAccount(encodeParticipant(t, ParticipantAccount{}, 1))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.HasWithdrawn {
		t.Error("HasWithdrawn = false, want true")
	}

	got, err = DecodeParticipantAccount(encodeParticipant(t, ParticipantAccount{}, 2))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.HasWithdrawn {
		t.Error("flag byte 2: HasWithdrawn = true, want false")
	}
}

func TestDecodeParticipantAccountTruncated(t *testing.T) {
	full := encodeParticipant(t, ParticipantAccount{}, 0)
	_, err := DecodeParticipantAccount(full[:len(full)-1])
	if !errors.Is(err, ErrTruncatedRecord) {
		t.Errorf("err = %v, want ErrTruncatedRecord", err)
	}
}
