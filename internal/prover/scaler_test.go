package prover

import "testing"

func TestScalerReplicas(t *testing.T) {
	oracle := NewScalerOracle(1, 2, 8)

	cases := []struct {
		backlog int
		want    int
	}{
		{0, 1},
		{1, 2},
		{2, 2},
		{3, 3},
		{100, 8}, // capped
	}
	for _, c := range cases {
		if got := oracle.Replicas(c.backlog); got != c.want {
			t.Errorf("Replicas(%d) = %d, want %d", c.backlog, got, c.want)
		}
	}
}

func TestScalerZeroJobsPerProver(t *testing.T) {
	oracle := NewScalerOracle(0, 0, 0)
	if got := oracle.Replicas(3); got != 3 {
		t.Errorf("Replicas(3) = %d, want 3", got)
	}
}
