package workflow

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"pgregory.net/rapid"
)

// Feature: graph executor, Property 1: merge order does not depend on
// node registration order.
func TestProperty_MergeIsOrderIndependent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("siblings registered in any order produce the same state", prop.ForAll(
		func(values []int, offsets []int) bool {
			n := len(values)
			forward := make([]int, n)
			backward := make([]int, n)
			for i := range forward {
				forward[i] = i
				backward[i] = n - 1 - i
			}
			a := runSiblings(forward, values, offsets)
			b := runSiblings(backward, values, offsets)
			return a != nil && b != nil && reflect.DeepEqual(a, b)
		},
		gen.SliceOfN(4, gen.IntRange(-1000, 1000)),
		gen.SliceOfN(4, gen.IntRange(-1000, 1000)),
	))

	properties.TestingRun(t)
}

// runSiblings registers one sibling per index in the given order. Each
// writes its own field; a collector appends the combined values.
func runSiblings(order []int, values, offsets []int) State {
	fields := []Field{{Name: "log", Default: []int{}, Merge: MergeAppend}}
	for i := range order {
		fields = append(fields, Field{Name: siblingField(i), Default: 0})
	}
	b := NewGraphBuilder("siblings", NewSchema(fields...))
	for _, idx := range order {
		name := fmt.Sprintf("node%d", idx)
		b.AddNode(name, writeTask(siblingField(idx), values[idx]), WithWrites(siblingField(idx)))
		b.AddEdge(START, name)
		b.AddEdge(name, "collect")
	}
	b.AddNode("collect", func(ctx context.Context, s State) (Delta, error) {
		collected := make([]int, 0, len(order))
		for i := range order {
			collected = append(collected, GetOr(s, siblingField(i), 0)+offsets[i])
		}
		return Delta{"log": collected}, nil
	}, WithWrites("log"))
	b.AddEdge("collect", END)

	g, err := b.Build()
	if err != nil {
		return nil
	}
	res, err := Run(context.Background(), g, nil)
	if err != nil {
		return nil
	}
	return res.State
}

func siblingField(i int) string { return fmt.Sprintf("node%d_out", i) }

// Feature: graph executor, Property 2: any cyclic graph terminates within
// the step ceiling.
func TestProperty_StepCeilingTerminates(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	g, err := NewGraphBuilder("spin", NewSchema(Field{Name: "n", Default: 0})).
		AddNode("spin", func(ctx context.Context, s State) (Delta, error) {
			return Delta{"n": GetOr(s, "n", 0) + 1}, nil
		}).
		AddEdge(START, "spin").
		AddConditionalEdges("spin", func(ctx context.Context, s State) (Route, error) {
			return Continue("spin"), nil
		}, "spin", END).
		Build()
	if err != nil {
		t.Fatal(err)
	}

	properties.Property("runs exactly max steps then fails", prop.ForAll(
		func(maxSteps int) bool {
			res, err := Run(context.Background(), g, nil, WithMaxSteps(maxSteps))
			var limit *ExecutionLimitExceeded
			return errors.As(err, &limit) &&
				res.Steps == maxSteps &&
				res.State["n"] == maxSteps
		},
		gen.IntRange(1, 30),
	))

	properties.TestingRun(t)
}

// Feature: revision loop, Property 3: approval is forced exactly when the
// round reaches the ceiling and the reviewer never runs more than
// MaxRounds times.
func TestProperty_RevisionLoopBounded(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		maxRounds := rapid.IntRange(1, 6).Draw(rt, "max_rounds")
		decisions := rapid.SliceOfN(rapid.Bool(), 12, 12).Draw(rt, "decisions")

		rl := newReviewLoop(t, maxRounds, func(round int, s State) Delta {
			return Delta{
				ApprovedField("tldr"):  decisions[(2*round)%len(decisions)],
				ApprovedField("title"): decisions[(2*round+1)%len(decisions)],
			}
		})

		res, err := Run(context.Background(), rl.graph, nil)
		if err != nil {
			rt.Fatalf("run failed: %v", err)
		}
		calls := int(rl.reviewerCalls.Load())
		if calls < 1 || calls > maxRounds {
			rt.Fatalf("reviewer ran %d times with max rounds %d", calls, maxRounds)
		}
		if res.State[FieldRevisionRound] != calls {
			rt.Fatalf("round %v does not match reviewer calls %d", res.State[FieldRevisionRound], calls)
		}
		if res.State[ApprovedField("tldr")] != true || res.State[ApprovedField("title")] != true {
			rt.Fatalf("loop ended with unapproved components")
		}
		forced := len(res.Log.ByStatus(NodeStatusRevisionLimit)) == 1
		if forced && calls != maxRounds {
			rt.Fatalf("forced approval at round %d, expected %d", calls, maxRounds)
		}
	})
}

// Feature: revision loop, Property 4: a reviewer that never approves runs
// exactly MaxRounds times.
func TestProperty_AlwaysRejectingReviewer(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		maxRounds := rapid.IntRange(1, 8).Draw(rt, "max_rounds")
		rl := newReviewLoop(t, maxRounds, rejectAll)

		res, err := Run(context.Background(), rl.graph, nil)
		if err != nil {
			rt.Fatalf("run failed: %v", err)
		}
		if got := int(rl.reviewerCalls.Load()); got != maxRounds {
			rt.Fatalf("reviewer ran %d times, expected %d", got, maxRounds)
		}
		if len(res.Log.ByStatus(NodeStatusRevisionLimit)) != 1 {
			rt.Fatalf("expected one revision limit entry")
		}
	})
}

// Feature: graph executor, Property 5: deltas writing disjoint fields
// produce the same state whatever order they are merged in.
func TestProperty_DisjointDeltasCommute(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		const writers = 4
		n := rapid.IntRange(1, 8).Draw(rt, "fields")
		fields := make([]Field, n)
		for i := range fields {
			merge := MergeReplace
			if rapid.Bool().Draw(rt, fmt.Sprintf("append_%d", i)) {
				merge = MergeAppend
			}
			fields[i] = Field{Name: fmt.Sprintf("f%d", i), Default: []int{}, Merge: merge}
		}
		schema := NewSchema(fields...)

		deltas := make([]Delta, writers)
		for i := range deltas {
			deltas[i] = Delta{}
		}
		owners := rapid.SliceOfN(rapid.IntRange(0, writers-1), n, n).Draw(rt, "owners")
		for i, o := range owners {
			deltas[o][fields[i].Name] = rapid.SliceOfN(rapid.IntRange(-100, 100), 0, 5).Draw(rt, fmt.Sprintf("value_%d", i))
		}
		seed := rapid.SliceOfN(rapid.IntRange(-100, 100), 1, 3).Draw(rt, "seed")

		apply := func(order []int) State {
			s, err := schema.Init(map[string]any{"f0": seed})
			if err != nil {
				rt.Fatalf("init: %v", err)
			}
			for _, i := range order {
				if err := schema.Merge(s, deltas[i]); err != nil {
					rt.Fatalf("merge delta %d: %v", i, err)
				}
			}
			return s
		}

		natural := []int{0, 1, 2, 3}
		order := rapid.Permutation(natural).Draw(rt, "order")
		want, got := apply(natural), apply(order)
		if !reflect.DeepEqual(want, got) {
			rt.Fatalf("order %v produced %v, natural order produced %v", order, got, want)
		}
	})
}
