package task

import (
	"errors"
	"testing"

	"pgregory.net/rapid"
)

var statusRank = map[Status]int{
	StatusPending:   0,
	StatusRunning:   1,
	StatusSucceeded: 2,
	StatusFailed:    2,
	StatusCancelled: 2,
}

func TestNode_StatusNeverMovesBackwards(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := New("id", "prop")
		ops := rapid.SliceOfN(rapid.IntRange(0, 4), 1, 20).Draw(t, "ops")

		prev := n.Status()
		for _, op := range ops {
			switch op {
			case 0:
				_ = n.Start()
			case 1:
				_ = n.Finish()
			case 2:
				_ = n.Fail(errors.New("x"))
			case 3:
				_ = n.MarkCancelled()
			case 4:
				_ = n.SetProgress(rapid.Int64Range(0, 100).Draw(t, "progress"))
			}
			cur := n.Status()
			if statusRank[cur] < statusRank[prev] {
				t.Fatalf("status moved backwards: %s -> %s", prev, cur)
			}
			if prev.IsTerminal() && cur != prev {
				t.Fatalf("terminal status %s changed to %s", prev, cur)
			}
			prev = cur
		}
	})
}

func TestNode_ProgressNeverExceedsTotal(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := New("id", "prop")
		_ = n.Start()

		steps := rapid.IntRange(1, 30).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			u := Update{
				Progress: rapid.Int64Range(Unknown, 200).Draw(t, "progress"),
				Total:    rapid.Int64Range(Unknown, 200).Draw(t, "total"),
			}
			if _, err := n.Apply(u); err != nil {
				t.Fatalf("Apply(%+v): %v", u, err)
			}
			progress, total := n.Progress()
			if progress != Unknown && total != Unknown && progress > total {
				t.Fatalf("progress %d exceeds total %d", progress, total)
			}
		}
	})
}
