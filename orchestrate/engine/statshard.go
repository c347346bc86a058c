package engine

import (
	"context"
	"hash/fnv"
)

// shardFor hash-partitions a work item across a task's configured shard
// count so concurrent firings of the same hot task spread their stats
// writes across independent documents instead of serializing on one.
func shardFor(workItemID string, shardCount int) int {
	if shardCount <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(workItemID))
	return int(h.Sum32() % uint32(shardCount))
}

func (e *Engine) recordStat(ctx context.Context, workflowID, taskName, workItemID string, generation, shardCount int, field WorkItemState) error {
	shardID := shardFor(workItemID, shardCount)
	r := repo{store: e.store}
	shard, err := r.getStatsShard(ctx, workflowID, taskName, generation, shardID)
	if err != nil {
		return err
	}
	switch field {
	case WorkItemInitialized:
		shard.Total++
		shard.Initialized++
	case WorkItemStarted:
		shard.Started++
	case WorkItemCompleted:
		shard.Completed++
	case WorkItemFailed:
		shard.Failed++
	case WorkItemCanceled:
		shard.Canceled++
	}
	if err := r.putStatsShard(ctx, shard); err != nil {
		return err
	}
	e.metrics.recordStatsShardWrite(taskName, shardID)
	return nil
}

// TaskStats aggregates every shard's counters for one firing generation of
// a task into a single snapshot, the read-side counterpart of the
// hash-partitioned write path. Total is the count of work items the
// generation has created; summed across shards, Total always equals the
// count of work items with that workflowID/taskName/generation.
type TaskStats struct {
	Total, Initialized, Started, Completed, Failed, Canceled int64
}

// TaskStatistics sums every stats shard of one generation of
// workflowID/taskName.
func (e *Engine) TaskStatistics(ctx context.Context, workflowID, taskName string, generation int) (TaskStats, error) {
	r := repo{store: e.store}
	shards, err := r.listStatsShards(ctx, workflowID, taskName, generation)
	if err != nil {
		return TaskStats{}, err
	}
	var out TaskStats
	for _, s := range shards {
		out.Total += s.Total
		out.Initialized += s.Initialized
		out.Started += s.Started
		out.Completed += s.Completed
		out.Failed += s.Failed
		out.Canceled += s.Canceled
	}
	return out, nil
}
