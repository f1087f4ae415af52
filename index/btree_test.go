package index

import (
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leftmike/mvdb/storage/dm"
)

type allCommitted struct{}

func (allCommitted) IsCommitted(xid uint64) bool {
	return true
}

func startTree(t *testing.T) (*Tree, *dm.DM, string) {
	t.Helper()

	dir := t.TempDir()
	dmgr, err := dm.Create(filepath.Join(dir, "index.db"), filepath.Join(dir, "index.log"), 50,
		allCommitted{})
	require.NoError(t, err)

	bootUID, err := Create(dmgr)
	require.NoError(t, err)
	tree, err := Load(bootUID, dmgr)
	require.NoError(t, err)
	return tree, dmgr, dir
}

func rowUID(key uint64) uint64 {
	return key*10 + 7
}

func TestEmpty(t *testing.T) {
	tree, dmgr, _ := startTree(t)
	defer dmgr.Close()
	defer tree.Close()

	uids, err := tree.Search(10)
	require.NoError(t, err)
	assert.Empty(t, uids)

	uids, err = tree.SearchRange(0, MaxKey-1)
	require.NoError(t, err)
	assert.Empty(t, uids)

	err = tree.Insert(MaxKey, 1)
	assert.ErrorIs(t, err, ErrBadKey)
}

func TestInsertSplit(t *testing.T) {
	tree, dmgr, _ := startTree(t)
	defer dmgr.Close()
	defer tree.Close()

	root := tree.rootUID()
	for key := uint64(1); key <= BalanceNumber*2+1; key += 1 {
		require.NoError(t, tree.Insert(key, rowUID(key)))
	}
	assert.NotEqual(t, root, tree.rootUID(), "root did not split")

	for key := uint64(1); key <= BalanceNumber*2+1; key += 1 {
		uids, err := tree.Search(key)
		require.NoError(t, err)
		assert.Equal(t, []uint64{rowUID(key)}, uids, "Search(%d)", key)
	}

	uids, err := tree.Search(BalanceNumber*2 + 2)
	require.NoError(t, err)
	assert.Empty(t, uids)
}

func TestSearchRange(t *testing.T) {
	tree, dmgr, _ := startTree(t)
	defer dmgr.Close()
	defer tree.Close()

	faker := gofakeit.New(1)
	keys := map[uint64]bool{}
	for len(keys) < 2000 {
		key := uint64(faker.Number(0, 100000))
		if keys[key] {
			continue
		}
		keys[key] = true
		require.NoError(t, tree.Insert(key, rowUID(key)))
	}

	var sorted []uint64
	for key := range keys {
		sorted = append(sorted, key)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	cases := []struct {
		lo, hi uint64
	}{
		{0, MaxKey - 1},
		{100, 200},
		{5000, 60000},
		{sorted[10], sorted[10]},
		{sorted[100], sorted[1000]},
		{200000, 300000},
		{50, 10},
	}

	for _, c := range cases {
		var want []uint64
		for _, key := range sorted {
			if key >= c.lo && key <= c.hi {
				want = append(want, rowUID(key))
			}
		}

		uids, err := tree.SearchRange(c.lo, c.hi)
		require.NoError(t, err)
		assert.Equal(t, want, uids, "SearchRange(%d, %d)", c.lo, c.hi)
	}
}

func TestDuplicateKeys(t *testing.T) {
	tree, dmgr, _ := startTree(t)
	defer dmgr.Close()
	defer tree.Close()

	counts := map[uint64]int{}
	for i := uint64(0); i < BalanceNumber*5; i += 1 {
		require.NoError(t, tree.Insert(i%3, i+1))
		counts[i%3] += 1
	}
	for key := uint64(0); key < 3; key += 1 {
		uids, err := tree.Search(key)
		require.NoError(t, err)
		assert.Len(t, uids, counts[key], "Search(%d)", key)
		for _, uid := range uids {
			assert.Equal(t, key, (uid-1)%3, "Search(%d) got uid %d", key, uid)
		}
	}

	uids, err := tree.SearchRange(0, 2)
	require.NoError(t, err)
	assert.Len(t, uids, BalanceNumber*5)
}

func TestConcurrentInsert(t *testing.T) {
	tree, dmgr, _ := startTree(t)
	defer dmgr.Close()
	defer tree.Close()

	const (
		workers = 8
		count   = 500
	)

	var wg sync.WaitGroup
	for w := 0; w < workers; w += 1 {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()

			for i := 0; i < count; i += 1 {
				key := uint64(i*workers + w)
				err := tree.Insert(key, rowUID(key))
				if err != nil {
					t.Errorf("Insert(%d) failed with %s", key, err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	uids, err := tree.SearchRange(0, MaxKey-1)
	require.NoError(t, err)
	require.Len(t, uids, workers*count)
	for key, uid := range uids {
		assert.Equal(t, rowUID(uint64(key)), uid)
	}
}

func TestSearchDuringSplits(t *testing.T) {
	tree, dmgr, _ := startTree(t)
	defer dmgr.Close()
	defer tree.Close()

	const (
		keys    = 2000
		writers = 4
		readers = 4
	)

	// Even keys are in the tree before the readers start; odd keys are inserted while they
	// search, splitting nodes under them.
	for key := uint64(0); key < keys; key += 2 {
		require.NoError(t, tree.Insert(key, rowUID(key)))
	}

	var wg sync.WaitGroup
	for w := 0; w < writers; w += 1 {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()

			for key := uint64(w*2 + 1); key < keys; key += writers * 2 {
				err := tree.Insert(key, rowUID(key))
				if err != nil {
					t.Errorf("Insert(%d) failed with %s", key, err)
					return
				}
			}
		}(w)
	}

	done := make(chan struct{})
	var rwg sync.WaitGroup
	for r := 0; r < readers; r += 1 {
		rwg.Add(1)
		go func(r int) {
			defer rwg.Done()

			faker := gofakeit.New(int64(r + 1))
			for {
				select {
				case <-done:
					return
				default:
				}

				key := uint64(faker.Number(0, keys/2-1)) * 2
				uids, err := tree.Search(key)
				if err != nil {
					t.Errorf("Search(%d) failed with %s", key, err)
					return
				}
				if len(uids) != 1 || uids[0] != rowUID(key) {
					t.Errorf("Search(%d) got %v want [%d]", key, uids, rowUID(key))
					return
				}

				hi := key + 100
				uids, err = tree.SearchRange(key, hi)
				if err != nil {
					t.Errorf("SearchRange(%d, %d) failed with %s", key, hi, err)
					return
				}
				var evens uint64
				for _, uid := range uids {
					if ((uid-7)/10)%2 == 0 {
						evens += 1
					}
				}
				want := (minKey(hi, keys-1)-key)/2 + 1
				if evens != want {
					t.Errorf("SearchRange(%d, %d) got %d even keys want %d", key, hi, evens,
						want)
					return
				}
			}
		}(r)
	}

	wg.Wait()
	close(done)
	rwg.Wait()

	uids, err := tree.SearchRange(0, MaxKey-1)
	require.NoError(t, err)
	require.Len(t, uids, keys)
	for key, uid := range uids {
		assert.Equal(t, rowUID(uint64(key)), uid)
	}
}

func minKey(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func TestReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")
	logPath := filepath.Join(dir, "index.log")

	dmgr, err := dm.Create(path, logPath, 50, allCommitted{})
	require.NoError(t, err)
	bootUID, err := Create(dmgr)
	require.NoError(t, err)
	tree, err := Load(bootUID, dmgr)
	require.NoError(t, err)
	for key := uint64(0); key < 1000; key += 1 {
		require.NoError(t, tree.Insert(key*2, rowUID(key*2)))
	}
	tree.Close()
	require.NoError(t, dmgr.Close())

	dmgr, err = dm.Open(path, logPath, 50, allCommitted{})
	require.NoError(t, err)
	defer dmgr.Close()
	tree, err = Load(bootUID, dmgr)
	require.NoError(t, err)
	defer tree.Close()

	uids, err := tree.SearchRange(100, 110)
	require.NoError(t, err)
	assert.Equal(t, []uint64{rowUID(100), rowUID(102), rowUID(104), rowUID(106), rowUID(108),
		rowUID(110)}, uids)

	uids, err = tree.Search(101)
	require.NoError(t, err)
	assert.Empty(t, uids)
}
