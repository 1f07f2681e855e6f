package prover

// ScalerOracle reports how many prover replicas should exist for the
// current backlog. The result feeds an external autoscaler.
type ScalerOracle struct {
	idleProvers   int
	jobsPerProver int
	maxReplicas   int
}

// NewScalerOracle creates an oracle. idleProvers is the baseline kept warm
// even with an empty backlog; jobsPerProver is the backlog one replica is
// expected to absorb.
func NewScalerOracle(idleProvers, jobsPerProver, maxReplicas int) *ScalerOracle {
	if jobsPerProver < 1 {
		jobsPerProver = 1
	}
	return &ScalerOracle{
		idleProvers:   idleProvers,
		jobsPerProver: jobsPerProver,
		maxReplicas:   maxReplicas,
	}
}

// Replicas maps a backlog size to a replica count.
func (o *ScalerOracle) Replicas(backlog int) int {
	replicas := o.idleProvers
	if backlog > 0 {
		replicas += (backlog + o.jobsPerProver - 1) / o.jobsPerProver
	}
	if o.maxReplicas > 0 && replicas > o.maxReplicas {
		replicas = o.maxReplicas
	}
	return replicas
}
