package job

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/buildmarket/pkg/capability"
	"github.com/Mindburn-Labs/buildmarket/pkg/identity"
	"github.com/Mindburn-Labs/buildmarket/pkg/profile"
)

// step is one generated call: Op selects the transition, Who the caller,
// T the clock in milliseconds and Amount the funding.
type step struct {
	Op     int
	Who    int
	T      int64
	Amount int64
}

var actors = []identity.Address{contractor, worker, other}

func genStep() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(0, 6),
		gen.IntRange(0, 2),
		gen.Int64Range(0, 2000),
		gen.Int64Range(0, 300),
	).Map(func(v []interface{}) step {
		return step{Op: v[0].(int), Who: v[1].(int), T: v[2].(int64), Amount: v[3].(int64)}
	})
}

func apply(j *Job, c *capability.JobCapability, s step) (Payout, error) {
	who := actors[s.Who]
	switch s.Op {
	case 0:
		p, _ := profile.New("p", who, j.ID(), "", epoch)
		return Payout{}, j.PlaceBid(who, p)
	case 1:
		_, err := j.SelectWorker(c, s.Amount, who)
		return Payout{}, err
	case 2:
		return Payout{}, j.SubmitWork(who, at(s.T))
	case 3:
		return j.ConfirmWork(c)
	case 4:
		return Payout{}, j.FlagDispute(who, at(s.T))
	case 5:
		return j.SettleDispute(s.Who%2 == 0, j.Worker())
	default:
		return Payout{}, j.Rate(c, s.Who+3)
	}
}

func snapshot(j *Job) string {
	data, _ := j.MarshalJSON()
	return string(data)
}

func TestLifecycleInvariantsHold(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	keys, err := capability.GenerateKeyring()
	if err != nil {
		t.Fatal(err)
	}
	auth := capability.NewAuthority(keys)
	foreign, err := auth.MintJob("job-foreign")
	if err != nil {
		t.Fatal(err)
	}
	seq := 0

	properties.Property("escrow is conserved and invariants hold after every call", prop.ForAll(
		func(steps []step, useForeign bool) bool {
			seq++
			id := fmt.Sprintf("job-prop-%d", seq)
			j, err := New(id, contractor, Params{Budget: 100, Duration: time.Second}, epoch)
			if err != nil {
				return false
			}
			c, err := auth.MintJob(id)
			if err != nil {
				return false
			}
			if useForeign {
				c = foreign
			}

			var funded, released int64
			payouts := 0
			for _, s := range steps {
				before := snapshot(j)
				wasOpen := !j.BiddingClosed()

				payout, err := apply(j, c, s)
				if err != nil {
					// Rejected calls leave no trace.
					if snapshot(j) != before {
						return false
					}
					continue
				}
				if wasOpen && j.BiddingClosed() {
					funded = j.Escrow()
				}
				if s.Op == 3 || s.Op == 5 {
					released += payout.Amount
					payouts++
				}
				if j.CheckInvariants() != nil {
					return false
				}
			}
			if useForeign && j.BiddingClosed() {
				return false
			}
			if j.Settled() {
				return payouts == 1 && released == funded && j.Escrow() == 0
			}
			return payouts == 0 && j.Escrow() == funded
		},
		gen.SliceOfN(25, genStep()),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestSecondSelectionAlwaysFails(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("a selection after a successful one is rejected", prop.ForAll(
		func(first, second int64) bool {
			f := newFixture(t)
			for _, a := range actors[1:] {
				p, _ := profile.New("p", a, "job-1", "", epoch)
				if f.job.PlaceBid(a, p) != nil {
					return false
				}
			}
			if _, err := f.job.SelectWorker(f.cap, first, worker); err != nil {
				return first < f.job.Budget() && errors.Is(err, ErrInsufficientFunds) &&
					f.job.Worker().IsZero() && f.job.Escrow() == 0
			}
			_, err := f.job.SelectWorker(f.cap, second, other)
			return errors.Is(err, ErrJobClosed) && f.job.Worker() == worker && f.job.Escrow() == first
		},
		gen.Int64Range(0, 500),
		gen.Int64Range(0, 500),
	))

	properties.TestingRun(t)
}

func TestSubmitAfterDeadlineAlwaysFails(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("submit at or after deadline is DeadlinePassed for any caller", prop.ForAll(
		func(late int64, who int) bool {
			f := newFixture(t)
			f.selected(t)
			err := f.job.SubmitWork(actors[who], at(1000+late))
			return errors.Is(err, ErrDeadlinePassed) && !f.job.WorkSubmitted()
		},
		gen.Int64Range(0, 1_000_000),
		gen.IntRange(0, 2),
	))

	properties.TestingRun(t)
}
