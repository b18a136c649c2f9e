package assets

import "golang.org/x/sync/errgroup"

// runPool feeds items to n workers over a bounded queue and returns one result per item
// in completion order. work must not fail; outcomes are carried in R.
func runPool[T, R any](n int, items []T, work func(T) R) []R {
	if len(items) == 0 {
		return nil
	}
	n = max(1, min(n, len(items)))

	queue := make(chan T, n)
	out := make(chan R, len(items))
	var g errgroup.Group
	for range n {
		g.Go(func() error {
			for item := range queue {
				out <- work(item)
			}
			return nil
		})
	}
	for _, item := range items {
		queue <- item
	}
	close(queue)
	_ = g.Wait()
	close(out)

	results := make([]R, 0, len(items))
	for r := range out {
		results = append(results, r)
	}
	return results
}
