package tree

import (
	"github.com/vibetree/vibetree/internal/models"
)

// topoSort orders tasks parent-first using Kahn's algorithm over the edges
// whose endpoints are both in the batch. Tasks outside any edge keep their
// input order. A cycle leaves its members unordered at the tail so they
// fail individually rather than aborting the batch.
func topoSort(tasks []models.MaterializeTask, edges []models.PlanEdge) []models.MaterializeTask {
	inBatch := make(map[string]int, len(tasks))
	for i, t := range tasks {
		inBatch[t.ID] = i
	}

	inDegree := make(map[string]int, len(tasks))
	children := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		inDegree[t.ID] = 0
	}
	for _, e := range edges {
		if _, ok := inBatch[e.From]; !ok {
			continue
		}
		if _, ok := inBatch[e.To]; !ok {
			continue
		}
		children[e.From] = append(children[e.From], e.To)
		inDegree[e.To]++
	}

	// Seed with zero-degree tasks in input order for stable output.
	var queue []string
	for _, t := range tasks {
		if inDegree[t.ID] == 0 {
			queue = append(queue, t.ID)
		}
	}

	ordered := make([]models.MaterializeTask, 0, len(tasks))
	seen := make(map[string]bool, len(tasks))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		seen[id] = true
		ordered = append(ordered, tasks[inBatch[id]])
		for _, child := range children[id] {
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}

	for _, t := range tasks {
		if !seen[t.ID] {
			ordered = append(ordered, t)
		}
	}
	return ordered
}
