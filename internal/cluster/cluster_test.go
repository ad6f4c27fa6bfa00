package cluster

import "testing"

func TestPartitionEvenSplit(t *testing.T) {
	cases := []struct {
		clusterID          int
		wantStart, wantEnd int
	}{
		{0, 0, 3}, {1, 4, 7}, {2, 8, 11},
	}
	for _, c := range cases {
		start, end := Partition(12, 3, c.clusterID)
		if start != c.wantStart || end != c.wantEnd {
			t.Errorf("cluster %d: got [%d,%d], want [%d,%d]", c.clusterID, start, end, c.wantStart, c.wantEnd)
		}
	}
}

func TestPartitionRemainderGoesToFirstClusters(t *testing.T) {
	// 10 shards over 3 clusters: base=3, extra=1. Cluster 0 gets 4 shards,
	// clusters 1 and 2 get 3 each.
	cases := []struct {
		clusterID          int
		wantStart, wantEnd int
	}{
		{0, 0, 3}, {1, 4, 6}, {2, 7, 9},
	}
	for _, c := range cases {
		start, end := Partition(10, 3, c.clusterID)
		if start != c.wantStart || end != c.wantEnd {
			t.Errorf("cluster %d: got [%d,%d], want [%d,%d]", c.clusterID, start, end, c.wantStart, c.wantEnd)
		}
	}
}

func TestPartitionSingleCluster(t *testing.T) {
	start, end := Partition(16, 1, 0)
	if start != 0 || end != 15 {
		t.Errorf("got [%d,%d], want [0,15]", start, end)
	}
}

func TestPartitionCoversEveryShardExactlyOnce(t *testing.T) {
	const shardsTotal = 37
	const clusters = 5

	seen := make(map[int]bool)
	for clusterID := 0; clusterID < clusters; clusterID++ {
		start, end := Partition(shardsTotal, clusters, clusterID)
		for id := start; id <= end; id++ {
			if seen[id] {
				t.Fatalf("shard %d owned by more than one cluster", id)
			}
			seen[id] = true
		}
	}
	if len(seen) != shardsTotal {
		t.Fatalf("covered %d shards, want %d", len(seen), shardsTotal)
	}
}
