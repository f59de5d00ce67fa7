package sensor

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Initial(t *testing.T) {
	s := NewStore()
	assert.Equal(t, Sample{}, s.Snapshot())
	seq, updated := s.Seq()
	assert.Zero(t, seq)
	assert.True(t, updated.IsZero())
}

func TestStore_Update(t *testing.T) {
	s := NewStore()
	s.Update(KindGyro, Triple{1, 2, 3})
	s.Update(NumKinds, Triple{9, 9, 9})

	got := s.Snapshot()
	assert.Equal(t, Triple{1, 2, 3}, got.Gyro)
	assert.Equal(t, Triple{}, got.Acc)
	assert.Equal(t, Triple{}, got.Euler)
	seq, _ := s.Seq()
	assert.Equal(t, uint64(1), seq)
}

func TestStore_ApplyKeepsRejected(t *testing.T) {
	s := NewStore()
	require.True(t, s.Apply(Update{
		Valid:  [NumKinds]bool{true, true, true},
		Values: [NumKinds]Triple{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}},
	}))
	require.True(t, s.Apply(Update{
		Valid:  [NumKinds]bool{false, true, true},
		Values: [NumKinds]Triple{{}, {40, 50, 60}, {70, 80, 90}},
	}))

	got := s.Snapshot()
	assert.Equal(t, Triple{1, 2, 3}, got.Acc)
	assert.Equal(t, Triple{40, 50, 60}, got.Gyro)
	assert.Equal(t, Triple{70, 80, 90}, got.Euler)

	assert.False(t, s.Apply(Update{}))
	seq, updated := s.Seq()
	assert.Equal(t, uint64(2), seq)
	assert.False(t, updated.IsZero())
}

func TestStore_SnapshotIsCopy(t *testing.T) {
	s := NewStore()
	s.Update(KindAcc, Triple{1, 1, 1})
	got := s.Snapshot()
	got.Acc[0] = 100
	assert.Equal(t, Triple{1, 1, 1}, s.Snapshot().Acc)
}

// writers only ever store triples whose three values are equal, so any reader
// that sees differing values inside one triple has observed a torn write
func TestStore_ConcurrentTriplesNotTorn(t *testing.T) {
	s := NewStore()
	const rounds = 2000

	var wg sync.WaitGroup
	for kind := KindAcc; kind < NumKinds; kind++ {
		wg.Add(1)
		go func(kind TripleKind) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				v := float32(i)
				u := Update{}
				u.Valid[kind] = true
				u.Values[kind] = Triple{v, v, v}
				s.Apply(u)
			}
		}(kind)
	}

	torn := make(chan Sample, 1)
	var readers sync.WaitGroup
	for r := 0; r < 4; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for i := 0; i < rounds; i++ {
				snap := s.Snapshot()
				for kind := KindAcc; kind < NumKinds; kind++ {
					tr := snap.Triple(kind)
					if tr[0] != tr[1] || tr[1] != tr[2] {
						select {
						case torn <- snap:
						default:
						}
						return
					}
				}
			}
		}()
	}

	wg.Wait()
	readers.Wait()
	close(torn)
	snap, ok := <-torn
	assert.False(t, ok, "torn read: %+v", snap)

	final := s.Snapshot()
	last := float32(rounds - 1)
	assert.Equal(t, Triple{last, last, last}, final.Acc)
	assert.Equal(t, Triple{last, last, last}, final.Gyro)
	assert.Equal(t, Triple{last, last, last}, final.Euler)
	seq, _ := s.Seq()
	assert.Equal(t, uint64(rounds*int(NumKinds)), seq)
}

func TestSample_Fields(t *testing.T) {
	s := Sample{Acc: Triple{1, 2, 3}, Gyro: Triple{4, 5, 6}, Euler: Triple{7, 8, 9}}
	assert.Equal(t, [9]float32{1, 2, 3, 4, 5, 6, 7, 8, 9}, s.Fields())
	assert.Equal(t, "roll", FieldNames[6])
	assert.Equal(t, "euler", KindEuler.String())
	assert.Equal(t, "kind(7)", TripleKind(7).String())
}
