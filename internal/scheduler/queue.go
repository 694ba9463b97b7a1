package scheduler

// taskQueue is a heap ordering tasks by priority rank descending, then
// submission sequence ascending, so the highest-priority task always
// dispatches first and ties keep FIFO order.
type taskQueue []*task

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	ri, rj := q[i].priority.Rank(), q[j].priority.Rank()
	if ri != rj {
		return ri > rj
	}
	return q[i].seq < q[j].seq
}

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].heapIndex = i
	q[j].heapIndex = j
}

func (q *taskQueue) Push(x interface{}) {
	t := x.(*task)
	t.heapIndex = len(*q)
	*q = append(*q, t)
}

func (q *taskQueue) Pop() interface{} {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.heapIndex = -1
	*q = old[:n-1]
	return t
}
